package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/ossyrian/psbtool/internal/archive"
	"github.com/ossyrian/psbtool/internal/config"
	"github.com/ossyrian/psbtool/internal/fsio"
)

var extractCmd = &cobra.Command{
	Use:    "extract <container>...",
	Short:  "Decode containers and write their sub-resources and chunks to files",
	PreRun: bindCommand,
	RunE:   extract,
}

func init() {
	extractCmd.Flags().StringP("files-dir", "d", "", "directory to write sub-resources and chunks to (required unless --dry-run)")
	extractCmd.Flags().StringP("match", "m", "**", "only extract resources whose name matches this pattern")
	extractCmd.Flags().IntP("jobs", "j", 0, "number of containers processed concurrently (default: number of CPUs)")
}

// extract runs extractOne for every input on a bounded pool
func extract(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig(args)
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.FilesDir == "" && !cfg.DryRun {
		return errors.New("--files-dir is required unless --dry-run is set")
	}
	if len(cfg.Inputs) > 1 && cfg.Blob != "" {
		return errors.New("--blob cannot be used with several inputs")
	}
	opts, err := archiveOptions(cfg)
	if err != nil {
		return err
	}

	store := fsio.New(nil, slog.Default())
	p := pool.New().WithErrors().WithMaxGoroutines(max(cfg.Jobs, 1))
	for _, input := range cfg.Inputs {
		p.Go(func() error {
			if err := extractOne(store, cfg, opts, input); err != nil {
				slog.Error("extraction failed", "file", input, "error", err)
				return fmt.Errorf("%s: %w", input, err)
			}
			return nil
		})
	}
	return p.Wait()
}

func extractOne(store *fsio.Store, cfg *config.Config, opts archive.Options, input string) error {
	logger := slog.With("file", input)

	a, err := store.Open(input, cfg.Blob, opts)
	if err != nil {
		return err
	}

	names, err := a.Match(cfg.Match)
	if err != nil {
		return err
	}

	var files []fsio.File
	failed := 0
	for _, name := range names {
		data, err := a.ExtractSubresource(name)
		if err != nil {
			// one bad resource does not spoil the rest of the container
			logger.Warn("could not extract resource", "name", name, "error", err)
			failed++
			continue
		}
		files = append(files, fsio.File{Name: name, Data: data})
	}
	for i, c := range a.Tree.Chunks {
		files = append(files, fsio.File{Name: fmt.Sprintf("chunk%d.bin", i), Data: c})
	}

	logger.Info("resolved container",
		"resources", len(names)-failed,
		"failed", failed,
		"chunks", len(a.Tree.Chunks),
	)

	if cfg.DryRun {
		return nil
	}

	base, _, err := fsio.Split(filepath.Base(input))
	if err != nil {
		return err
	}
	_, err = store.Emit(cfg.FilesDir, base, files)
	return err
}
