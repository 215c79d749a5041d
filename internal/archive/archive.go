package archive

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ossyrian/psbtool/internal/packer"
	"github.com/ossyrian/psbtool/internal/parser"
	"github.com/ossyrian/psbtool/internal/psb"
	psbtypes "github.com/ossyrian/psbtool/internal/types"
)

var (
	// ErrUnavailable is returned when a sub-resource is requested from an
	// archive that was decoded without its companion blob.
	ErrUnavailable = errors.New("companion blob unavailable")

	// ErrNotFound is returned for a name with no file_info entry.
	ErrNotFound = errors.New("no such file_info entry")
)

// SlotOverflowError reports a replacement that does not fit in the slot of
// the resource it replaces.
type SlotOverflowError struct {
	Name string
	Need int
	Have int
}

func (e *SlotOverflowError) Error() string {
	return fmt.Sprintf("resource %q needs 0x%X bytes but its slot holds 0x%X", e.Name, e.Need, e.Have)
}

// Options configures decoding and encoding of an archive.
type Options struct {
	// Key replaces the name-derived keystream of every sub-resource.
	Key *psb.Key

	SortNames        bool
	Align            int
	CompressionLevel int
}

// DefaultOptions returns the layout the stock tools produce.
func DefaultOptions() Options {
	return Options{
		SortNames:        true,
		Align:            psb.DefaultAlign,
		CompressionLevel: psb.DefaultCompressionLevel,
	}
}

// Archive is a decoded container together with its companion blob.
type Archive struct {
	Tree *psbtypes.Tree

	// Blob is the companion blob, or nil when it was not supplied.
	Blob []byte

	opts     Options
	logger   *slog.Logger
	keys     *keyCache
	replaced map[string][]byte
}

// Decode parses an unwrapped container buffer. blob may be nil: the tree still
// decodes, and only sub-resource access reports ErrUnavailable.
func Decode(container, blob []byte, opts Options, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tree, err := parser.Parse(container, logger)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		Tree:     tree,
		Blob:     blob,
		opts:     opts,
		logger:   logger,
		keys:     newKeyCache(opts.Key),
		replaced: make(map[string][]byte),
	}

	if blob == nil && len(a.FileInfo()) > 0 {
		logger.Warn("no companion blob, sub-resources are unavailable", "resources", len(a.FileInfo()))
	}
	return a, nil
}

// Resource is one file_info entry.
type Resource struct {
	Name  string
	Range psbtypes.Range
}

// FileInfo lists the file_info entries of the root map in tree order. Entries
// that are not [offset, length] pairs are skipped.
func (a *Archive) FileInfo() []Resource {
	fi := a.fileInfoMap()
	if fi == nil {
		return nil
	}
	var out []Resource
	for _, p := range fi.Pairs {
		r, err := psbtypes.AsRange(p.Value)
		if err != nil {
			a.logger.Debug("skipping malformed file_info entry", "name", p.Name, "error", err)
			continue
		}
		out = append(out, Resource{Name: p.Name, Range: r})
	}
	return out
}

func (a *Archive) fileInfoMap() *psbtypes.Map {
	root, ok := a.Tree.Root.(*psbtypes.Map)
	if !ok {
		return nil
	}
	v, ok := root.Get(psb.FileInfoKey)
	if !ok {
		return nil
	}
	fi, _ := v.(*psbtypes.Map)
	return fi
}

func (a *Archive) lookup(name string) (psbtypes.Range, error) {
	fi := a.fileInfoMap()
	if fi == nil {
		return psbtypes.Range{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	v, ok := fi.Get(name)
	if !ok {
		return psbtypes.Range{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	r, err := psbtypes.AsRange(v)
	if err != nil {
		return psbtypes.Range{}, fmt.Errorf("invalid file_info entry %q: %w", name, err)
	}
	return r, nil
}

// stored returns the raw slot of a resource in the blob.
func (a *Archive) stored(name string, r psbtypes.Range) ([]byte, error) {
	if a.Blob == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnavailable, name)
	}
	end := r.Offset + r.Length
	if end < r.Offset || end > uint64(len(a.Blob)) {
		return nil, &psb.DecodeError{
			Section:  "blob",
			Offset:   int(min(r.Offset, uint64(len(a.Blob)))),
			Expected: fmt.Sprintf("range inside blob of 0x%X bytes", len(a.Blob)),
			Found:    fmt.Sprintf("0x%X+0x%X", r.Offset, r.Length),
		}
	}
	return a.Blob[r.Offset:end], nil
}

// ExtractSubresource returns the decoded bytes of a file_info resource. A
// staged replacement is returned as is.
func (a *Archive) ExtractSubresource(name string) ([]byte, error) {
	if data, ok := a.replaced[name]; ok {
		return data, nil
	}
	r, err := a.lookup(name)
	if err != nil {
		return nil, err
	}
	slot, err := a.stored(name, r)
	if err != nil {
		return nil, err
	}

	u, err := psb.Unwrap(slot, a.keys.key(name))
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap %q: %w", name, err)
	}
	if u.Mismatch {
		a.logger.Warn("uncompressed length mismatch",
			"name", name,
			"declared", u.Header.UncompressedLength,
			"actual", len(u.Data),
		)
	}

	a.logger.Debug("extracted resource", "name", name, "offset", r.Offset, "stored", r.Length, "bytes", len(u.Data))
	return u.Data, nil
}

// ReplaceSubresource stages new content for a resource. It takes effect on the
// next Encode, which relocates resources as needed.
func (a *Archive) ReplaceSubresource(name string, data []byte) error {
	if _, err := a.lookup(name); err != nil {
		return err
	}
	a.replaced[name] = bytes.Clone(data)
	return nil
}

// PatchSubresource writes new content over the existing slot of a resource,
// zero-padding the remainder. The blob is left untouched when the wrapped
// content does not fit; the error is then a *SlotOverflowError.
func (a *Archive) PatchSubresource(name string, data []byte) error {
	r, err := a.lookup(name)
	if err != nil {
		return err
	}
	slot, err := a.stored(name, r)
	if err != nil {
		return err
	}

	wrapped, err := psb.Wrap(data, a.keys.key(name), psb.LevelFor(name, a.opts.CompressionLevel))
	if err != nil {
		return fmt.Errorf("failed to wrap %q: %w", name, err)
	}
	if len(wrapped) > len(slot) {
		return &SlotOverflowError{Name: name, Need: len(wrapped), Have: len(slot)}
	}

	n := copy(slot, wrapped)
	clear(slot[n:])
	delete(a.replaced, name)

	a.logger.Info("patched resource in place",
		"name", name,
		"offset", r.Offset,
		"bytes", len(data),
		"stored", len(wrapped),
		"slot", len(slot),
	)
	return nil
}

// Resource implements packer.ResourceSource: staged replacements are wrapped
// with the resource's keystream, everything else is copied from the blob.
func (a *Archive) Resource(name string, old psbtypes.Range) ([]byte, error) {
	if data, ok := a.replaced[name]; ok {
		return psb.Wrap(data, a.keys.key(name), psb.LevelFor(name, a.opts.CompressionLevel))
	}
	return a.stored(name, old)
}

// Encode packs the archive. When a blob is present, or replacements are staged,
// the blob is rebuilt and the archive switches to the new ranges and blob.
func (a *Archive) Encode() (*packer.Result, error) {
	var src packer.ResourceSource
	if a.Blob != nil || len(a.replaced) > 0 {
		src = a
	}

	res, err := packer.Encode(a.Tree, src, packer.Options{
		SortNames: a.opts.SortNames,
		Align:     a.opts.Align,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	if src != nil {
		if fi := a.fileInfoMap(); fi != nil {
			for name, r := range res.Ranges {
				fi.Set(name, r.Value())
			}
		}
		a.Blob = res.Blob
		clear(a.replaced)
	}
	return res, nil
}
