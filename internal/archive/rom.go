package archive

import (
	"fmt"
)

// DefaultROMPattern matches the ROM image of the stock GBA collection titles.
const DefaultROMPattern = "**/*.rom"

// FindROM returns the name of the single resource matching pattern.
func (a *Archive) FindROM(pattern string) (string, error) {
	if pattern == "" {
		pattern = DefaultROMPattern
	}
	names, err := a.Match(pattern)
	if err != nil {
		return "", err
	}
	switch len(names) {
	case 0:
		return "", fmt.Errorf("%w: nothing matches %q", ErrNotFound, pattern)
	case 1:
		return names[0], nil
	default:
		return "", fmt.Errorf("pattern %q matches %d resources: %v", pattern, len(names), names)
	}
}

// PadMode selects how a shorter replacement ROM is padded.
type PadMode int

const (
	PadNone PadMode = iota
	Pad00
	PadFF
)

// ParsePadMode parses the "pad" setting: "", "none", "00" or "ff".
func ParsePadMode(s string) (PadMode, error) {
	switch s {
	case "", "none":
		return PadNone, nil
	case "00":
		return Pad00, nil
	case "ff", "FF":
		return PadFF, nil
	default:
		return PadNone, fmt.Errorf("invalid pad mode %q (want none, 00 or ff)", s)
	}
}

// BuildROM returns prefix followed by rom, padded with the fill byte of mode
// up to size. Nothing is padded when the result is already size or longer.
func BuildROM(prefix, rom []byte, size int, mode PadMode) []byte {
	out := make([]byte, 0, max(size, len(prefix)+len(rom)))
	out = append(out, prefix...)
	out = append(out, rom...)

	var fill byte
	switch mode {
	case Pad00:
		fill = 0x00
	case PadFF:
		fill = 0xFF
	default:
		return out
	}
	for len(out) < size {
		out = append(out, fill)
	}
	return out
}

// ReplaceROM swaps the ROM resource for prefix+rom, padded to the size of the
// current ROM. With inPlace the blob is patched in its existing slot;
// otherwise the replacement is staged for the next Encode.
func (a *Archive) ReplaceROM(name string, prefix, rom []byte, mode PadMode, inPlace bool) error {
	old, err := a.ExtractSubresource(name)
	if err != nil {
		return fmt.Errorf("failed to read current ROM: %w", err)
	}
	data := BuildROM(prefix, rom, len(old), mode)

	a.logger.Info("replacing ROM",
		"name", name,
		"old_size", len(old),
		"new_size", len(data),
		"prefix", len(prefix),
		"in_place", inPlace,
	)

	if inPlace {
		return a.PatchSubresource(name, data)
	}
	return a.ReplaceSubresource(name, data)
}
