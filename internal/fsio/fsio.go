// Package fsio loads and stores containers and their companion blobs.
//
// A container named <base>.psb is stored plain, <base>.psb.m is sealed with the
// keystream of its own file name, and both keep their resources in <base>.bin.
package fsio

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/ossyrian/psbtool/internal/archive"
)

const (
	plainExt  = ".psb"
	sealedExt = ".psb.m"
	blobExt   = ".bin"
)

// ErrBadName is returned for container paths without a .psb or .psb.m suffix.
var ErrBadName = errors.New("container name must end in .psb or .psb.m")

// Store reads and writes archive files on a filesystem.
type Store struct {
	fs     afero.Fs
	logger *slog.Logger
}

// New returns a store over fs. A nil fs uses the OS filesystem.
func New(fs afero.Fs, logger *slog.Logger) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{fs: fs, logger: logger}
}

// Split returns a container path without its .psb or .psb.m suffix and
// whether the container is sealed.
func Split(p string) (base string, sealed bool, err error) {
	switch {
	case strings.HasSuffix(p, sealedExt):
		return strings.TrimSuffix(p, sealedExt), true, nil
	case strings.HasSuffix(p, plainExt):
		return strings.TrimSuffix(p, plainExt), false, nil
	default:
		return "", false, fmt.Errorf("%w: %s", ErrBadName, p)
	}
}

// BlobPath returns the companion blob path of a container path.
func BlobPath(p string) (string, error) {
	base, _, err := Split(p)
	if err != nil {
		return "", err
	}
	return base + blobExt, nil
}

// keyName is the name a sealed container's keystream is derived from.
func keyName(p string) string {
	return filepath.ToSlash(p)
}

// Load reads a container and its companion blob. blobPath defaults to
// <base>.bin, which may be missing: the returned blob is then nil. An explicit
// blobPath must exist.
func (s *Store) Load(p, blobPath string) (container, blob []byte, err error) {
	explicit := blobPath != ""
	if !explicit {
		if blobPath, err = BlobPath(p); err != nil {
			return nil, nil, err
		}
	}

	container, err = afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read container: %w", err)
	}

	ok, err := afero.Exists(s.fs, blobPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat blob: %w", err)
	}
	if !ok && explicit {
		return nil, nil, fmt.Errorf("blob %s does not exist", blobPath)
	}
	if !ok {
		s.logger.Debug("no companion blob", "path", blobPath)
		return container, nil, nil
	}
	if blob, err = afero.ReadFile(s.fs, blobPath); err != nil {
		return nil, nil, fmt.Errorf("failed to read blob: %w", err)
	}

	s.logger.Debug("loaded container", "path", p, "bytes", len(container), "blob_bytes", len(blob))
	return container, blob, nil
}

// Open loads and decodes a container with its blob.
func (s *Store) Open(p, blobPath string, opts archive.Options) (*archive.Archive, error) {
	container, blob, err := s.Load(p, blobPath)
	if err != nil {
		return nil, err
	}
	return archive.Open(container, keyName(p), blob, opts, s.logger.With("file", p))
}

// Save writes an encoded container to p, sealing it when p ends in .psb.m,
// and writes blob next to it unless blob is nil.
func (s *Store) Save(p string, container, blob []byte, level int) error {
	base, sealed, err := Split(p)
	if err != nil {
		return err
	}

	data := container
	if sealed {
		if data, err = archive.Seal(container, keyName(p), level); err != nil {
			return err
		}
	}

	if err := s.write(p, data); err != nil {
		return err
	}
	if blob != nil {
		if err := s.write(base+blobExt, blob); err != nil {
			return err
		}
	}

	s.logger.Info("saved container", "path", p, "sealed", sealed, "bytes", len(data), "blob_bytes", len(blob))
	return nil
}

// WriteFile writes data to p, creating parent directories.
func (s *Store) WriteFile(p string, data []byte) error {
	return s.write(p, data)
}

// ReadFile reads the whole file at p.
func (s *Store) ReadFile(p string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

func (s *Store) write(p string, data []byte) error {
	if dir := filepath.Dir(p); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

// File is one emitted sub-resource or chunk.
type File struct {
	Name string
	Data []byte
}

// EmitName returns the file name of the n-th emitted file of a container:
// <base>_NNNN_<basename of name>.
func EmitName(base string, n int, name string) string {
	return fmt.Sprintf("%s_%04d_%s", filepath.Base(base), n, path.Base(name))
}

// Emit writes files into dir, numbered in order, and returns the paths written.
func (s *Store) Emit(dir, base string, files []File) ([]string, error) {
	paths := make([]string, 0, len(files))
	for i, f := range files {
		p := filepath.Join(dir, EmitName(base, i, f.Name))
		if err := s.write(p, f.Data); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	s.logger.Info("emitted files", "dir", dir, "count", len(paths))
	return paths, nil
}
