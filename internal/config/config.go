package config

// Config holds app configuration
type Config struct {
	// Inputs are the container files (.psb or .psb.m) to operate on
	Inputs []string `mapstructure:"input"`

	// Blob overrides the companion blob path (defaults to <base>.bin)
	Blob string `mapstructure:"blob"`

	OutputFile string `mapstructure:"output"`
	FilesDir   string `mapstructure:"files_dir"`
	Match      string `mapstructure:"match"`
	DumpFile   string `mapstructure:"dump"`

	// ROM is the ROM image to write (rom extract) or read (rom inject)
	ROM      string `mapstructure:"rom"`
	ROMMatch string `mapstructure:"rom_match"`
	Prefix   string `mapstructure:"prefix"`
	Pad      string `mapstructure:"pad"`
	InPlace  bool   `mapstructure:"in_place"`

	// KeyName derives every sub-resource keystream from this name instead of
	// the resource's own name. KeyHex sets the 80-byte keystream directly.
	KeyName string `mapstructure:"key_name"`
	KeyHex  string `mapstructure:"key_hex"`

	SortNames        bool `mapstructure:"sort_names"`
	Align            int  `mapstructure:"align"`
	CompressionLevel int  `mapstructure:"compression_level"`

	Jobs         int    `mapstructure:"jobs"`
	DryRun       bool   `mapstructure:"dry_run"`
	LogLevel     string `mapstructure:"log_level"`
	LogOutputDir string `mapstructure:"log_output_dir"`
}
