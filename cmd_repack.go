package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ossyrian/psbtool/internal/archive"
	"github.com/ossyrian/psbtool/internal/fsio"
)

var repackCmd = &cobra.Command{
	Use:    "repack <container>",
	Short:  "Decode a container and encode it again, rebuilding its blob",
	Long:   "Decode a container and encode it again, rebuilding its blob. Every file_info entry whose range changes is reported.",
	Args:   cobra.MaximumNArgs(1),
	PreRun: bindCommand,
	RunE:   repack,
}

func init() {
	addEncodeFlags(repackCmd)
	repackCmd.Flags().StringP("output", "o", "", "output container path, .psb or .psb.m (required unless --dry-run)")
}

// addEncodeFlags adds the layout flags shared by commands that encode.
func addEncodeFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("sort-names", true, "store the name table sorted")
	cmd.Flags().Int("align", 0x800, "pad every resource in the blob to a multiple of this many bytes")
	cmd.Flags().Int("compression-level", 9, "zlib level for sealed containers and replaced resources")
}

func repack(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig(args)
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.OutputFile == "" && !cfg.DryRun {
		return errors.New("--output is required unless --dry-run is set")
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
	return encodeAndSave(store, a, cfg.OutputFile, cfg.CompressionLevel, cfg.DryRun)
}

// encodeAndSave encodes a and writes the container and blob to output.
func encodeAndSave(store *fsio.Store, a *archive.Archive, output string, level int, dryRun bool) error {
	res, err := a.Encode()
	if err != nil {
		return err
	}
	if len(res.Relocations) > 0 {
		slog.Warn("file_info entries moved", "count", len(res.Relocations))
	}
	if dryRun {
		return nil
	}
	return store.Save(output, res.Container, res.Blob, level)
}
