package main

import (
	"bytes"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ossyrian/psbtool/internal/dump"
	"github.com/ossyrian/psbtool/internal/fsio"
)

var dumpCmd = &cobra.Command{
	Use:    "dump <container>",
	Short:  "Print the decoded value tree as YAML",
	Args:   cobra.MaximumNArgs(1),
	PreRun: bindCommand,
	RunE:   dumpTree,
}

func init() {
	dumpCmd.Flags().StringP("dump", "o", "", "write the YAML dump to this file instead of stdout")
}

func dumpTree(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig(args)
	if err != nil {
		return err
	}
	defer closeLog()

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

	var buf bytes.Buffer
	if err := dump.Write(&buf, a.Tree.Root); err != nil {
		return err
	}

	if cfg.DryRun {
		slog.Info("dump ok", "file", input, "bytes", buf.Len())
		return nil
	}
	if cfg.DumpFile == "" {
		_, err = os.Stdout.Write(buf.Bytes())
		return err
	}
	return store.WriteFile(cfg.DumpFile, buf.Bytes())
}
