package archive

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ossyrian/psbtool/internal/psb"
)

// Open decodes a container as stored on disk. Plain containers are decoded as
// is; mdf containers are unwrapped with the keystream of name, the container's
// own file name.
func Open(data []byte, name string, blob []byte, opts Options, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bytes.HasPrefix(data, psb.Magic[:]) {
		return Decode(data, blob, opts, logger)
	}

	u, err := psb.Unwrap(data, psb.DeriveKey(name))
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap container %s: %w", name, err)
	}
	if u.Mismatch {
		logger.Warn("uncompressed length mismatch",
			"name", name,
			"declared", u.Header.UncompressedLength,
			"actual", len(u.Data),
		)
	}
	if u.Wrapped {
		logger.Debug("unwrapped container", "name", name, "stored", len(data), "bytes", len(u.Data))
	}
	return Decode(u.Data, blob, opts, logger)
}

// Seal wraps an encoded container for storage under name. The result is what
// Open expects for an mdf container of that name.
func Seal(container []byte, name string, level int) ([]byte, error) {
	out, err := psb.Wrap(container, psb.DeriveKey(name), level)
	if err != nil {
		return nil, fmt.Errorf("failed to seal container %s: %w", name, err)
	}
	return out, nil
}

// Match returns the names of the file_info entries matching a doublestar
// pattern, in tree order.
func (a *Archive) Match(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	var names []string
	for _, r := range a.FileInfo() {
		if ok, _ := doublestar.Match(pattern, r.Name); ok {
			names = append(names, r.Name)
		}
	}
	return names, nil
}
