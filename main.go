package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ossyrian/psbtool/internal/archive"
	"github.com/ossyrian/psbtool/internal/config"
	"github.com/ossyrian/psbtool/internal/logging"
	"github.com/ossyrian/psbtool/internal/psb"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "psbtool",
	Short:         "Decode, extract, inject and repack PSB archives",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	// keys
	rootCmd.PersistentFlags().String("key-name", "", "derive every resource keystream from this name instead of the resource name")
	rootCmd.PersistentFlags().String("key-hex", "", "80-byte resource keystream as hex (overrides --key-name)")
	rootCmd.PersistentFlags().String("blob", "", "companion blob path (defaults to <base>.bin)")

	// other opts
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-output-dir", "", "directory to write log files (if set, logs are written to both stderr and file)")
	rootCmd.PersistentFlags().Bool("dry-run", false, "decode and process without writing output (validation)")

	bindFlags(rootCmd.PersistentFlags())

	viper.SetDefault("sort_names", true)
	viper.SetDefault("align", psb.DefaultAlign)
	viper.SetDefault("compression_level", psb.DefaultCompressionLevel)
	viper.SetDefault("rom_match", archive.DefaultROMPattern)
	viper.SetDefault("jobs", runtime.NumCPU())

	rootCmd.AddCommand(extractCmd, dumpCmd, repackCmd, romCmd)
}

// bindFlags binds every flag in fs to the viper key of the same name with
// dashes replaced by underscores.
func bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		viper.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
}

// bindCommand rebinds the flags of the command about to run. Several
// subcommands share flag names, so binding happens per invocation.
func bindCommand(cmd *cobra.Command, _ []string) {
	bindFlags(cmd.Flags())
}

// initConfig reads in config file and environment variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "psbtool"))
		}
		viper.AddConfigPath("/etc/psbtool")
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}

	viper.SetEnvPrefix("PSBTOOL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig unmarshals the config and sets up logging. Positional args
// replace any configured inputs. The returned func flushes the log file.
func loadConfig(args []string) (*config.Config, func() error, error) {
	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(args) > 0 {
		cfg.Inputs = args
	}
	if len(cfg.Inputs) == 0 {
		return nil, nil, fmt.Errorf("no input container given")
	}

	closeLog, err := logging.Setup(cfg.LogLevel, cfg.LogOutputDir)
	if err != nil {
		return nil, nil, fmt.Errorf("could not set up logging: %w", err)
	}
	return cfg, closeLog, nil
}

// archiveOptions builds decode/encode options from the config.
func archiveOptions(cfg *config.Config) (archive.Options, error) {
	opts := archive.Options{
		SortNames:        cfg.SortNames,
		Align:            cfg.Align,
		CompressionLevel: cfg.CompressionLevel,
	}

	switch {
	case cfg.KeyHex != "":
		k, err := psb.ParseKey(cfg.KeyHex)
		if err != nil {
			return opts, fmt.Errorf("invalid key_hex: %w", err)
		}
		opts.Key = &k
	case cfg.KeyName != "":
		k := psb.DeriveKey(cfg.KeyName)
		opts.Key = &k
	}
	return opts, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
