package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ossyrian/psbtool/internal/archive"
	"github.com/ossyrian/psbtool/internal/config"
	"github.com/ossyrian/psbtool/internal/fsio"
)

var romCmd = &cobra.Command{
	Use:   "rom",
	Short: "Extract or inject the ROM image embedded in a container's blob",
}

var romExtractCmd = &cobra.Command{
	Use:    "extract <container>",
	Short:  "Write the embedded ROM image to a file",
	Args:   cobra.MaximumNArgs(1),
	PreRun: bindCommand,
	RunE:   romExtract,
}

var romInjectCmd = &cobra.Command{
	Use:   "inject <container>",
	Short: "Replace the embedded ROM image",
	Long: "Replace the embedded ROM image. With --in-place the blob is patched in the ROM's " +
		"existing slot and the container is left untouched; otherwise the container is repacked " +
		"and the blob rebuilt.",
	Args:   cobra.MaximumNArgs(1),
	PreRun: bindCommand,
	RunE:   romInject,
}

func init() {
	for _, cmd := range []*cobra.Command{romExtractCmd, romInjectCmd} {
		cmd.Flags().StringP("rom", "r", "", "ROM image file (required, may come from config)")
		cmd.Flags().String("rom-match", archive.DefaultROMPattern, "pattern selecting the ROM resource")
	}

	romInjectCmd.Flags().String("prefix", "", "file whose contents are prepended to the ROM")
	romInjectCmd.Flags().String("pad", "none", "pad a shorter ROM to the original size with 00 or ff")
	romInjectCmd.Flags().Bool("in-place", false, "patch the existing slot instead of repacking")
	romInjectCmd.Flags().StringP("output", "o", "", "output container path for a repack, .psb or .psb.m")
	addEncodeFlags(romInjectCmd)

	romCmd.AddCommand(romExtractCmd, romInjectCmd)
}

func romExtract(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig(args)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := requireROM(cfg); err != nil {
		return err
	}
	opts, err := archiveOptions(cfg)
	if err != nil {
		return err
	}

	store := fsio.New(nil, slog.Default())
	a, err := store.Open(cfg.Inputs[0], cfg.Blob, opts)
	if err != nil {
		return err
	}
	name, err := a.FindROM(cfg.ROMMatch)
	if err != nil {
		return err
	}
	data, err := a.ExtractSubresource(name)
	if err != nil {
		return err
	}

	slog.Info("extracted ROM", "name", name, "bytes", len(data), "output", cfg.ROM)
	if cfg.DryRun {
		return nil
	}
	return store.WriteFile(cfg.ROM, data)
}

func romInject(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig(args)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := requireROM(cfg); err != nil {
		return err
	}
	if !cfg.InPlace && cfg.OutputFile == "" && !cfg.DryRun {
		return errors.New("--output is required unless --in-place or --dry-run is set")
	}
	mode, err := archive.ParsePadMode(cfg.Pad)
	if err != nil {
		return err
	}
	opts, err := archiveOptions(cfg)
	if err != nil {
		return err
	}

	store := fsio.New(nil, slog.Default())
	input := cfg.Inputs[0]
	a, err := store.Open(input, cfg.Blob, opts)
	if err != nil {
		return err
	}
	if a.Blob == nil {
		return fmt.Errorf("%s: %w", input, archive.ErrUnavailable)
	}

	rom, err := store.ReadFile(cfg.ROM)
	if err != nil {
		return err
	}
	var prefix []byte
	if cfg.Prefix != "" {
		if prefix, err = store.ReadFile(cfg.Prefix); err != nil {
			return err
		}
	}

	name, err := a.FindROM(cfg.ROMMatch)
	if err != nil {
		return err
	}
	if err := a.ReplaceROM(name, prefix, rom, mode, cfg.InPlace); err != nil {
		var overflow *archive.SlotOverflowError
		if errors.As(err, &overflow) {
			slog.Error("ROM does not fit in place, repack with --output instead",
				"name", overflow.Name, "need", overflow.Need, "have", overflow.Have)
		}
		return err
	}

	if !cfg.InPlace {
		return encodeAndSave(store, a, cfg.OutputFile, cfg.CompressionLevel, cfg.DryRun)
	}
	if cfg.DryRun {
		return nil
	}

	blobPath := cfg.Blob
	if blobPath == "" {
		if blobPath, err = fsio.BlobPath(input); err != nil {
			return err
		}
	}
	return store.WriteFile(blobPath, a.Blob)
}

// requireROM checks the ROM path after flags, environment and config file
// have been merged.
func requireROM(cfg *config.Config) error {
	if cfg.ROM == "" {
		return errors.New("--rom is required (or rom in the config file)")
	}
	return nil
}
