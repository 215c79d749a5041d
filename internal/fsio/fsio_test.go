package fsio

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/ossyrian/psbtool/internal/archive"
	"github.com/ossyrian/psbtool/internal/packer"
	"github.com/ossyrian/psbtool/internal/psb"
	psbtypes "github.com/ossyrian/psbtool/internal/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// helloROM is "HELLO-ROM" compressed, wrapped and keyed for "rom.bin"
var helloROM, _ = hex.DecodeString("6d64660009000000f15ed29fec14e6564c32b89817ead47bc6")

func encodedFixture(t *testing.T) []byte {
	t.Helper()
	tree := &psbtypes.Tree{Root: &psbtypes.Map{Pairs: []psbtypes.Pair{
		{Name: "file_info", Value: &psbtypes.Map{Pairs: []psbtypes.Pair{
			{Name: "rom.bin", Value: psbtypes.Range{Offset: 0, Length: uint64(len(helloROM))}.Value()},
		}}},
	}}}
	res, err := packer.Encode(tree, nil, packer.Options{}, discard)
	if err != nil {
		t.Fatal(err)
	}
	return res.Container
}

func TestSplit(t *testing.T) {
	tests := []struct {
		in      string
		base    string
		sealed  bool
		blob    string
		wantErr bool
	}{
		{in: "data/main.psb.m", base: "data/main", sealed: true, blob: "data/main.bin"},
		{in: "main.psb", base: "main", blob: "main.bin"},
		{in: "alldata.psb.m", base: "alldata", sealed: true, blob: "alldata.bin"},
		{in: "main.bin", wantErr: true},
		{in: "main.m", wantErr: true},
	}
	for _, tt := range tests {
		base, sealed, err := Split(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrBadName) {
				t.Errorf("Split(%q) error = %v, want ErrBadName", tt.in, err)
			}
			continue
		}
		if err != nil || base != tt.base || sealed != tt.sealed {
			t.Errorf("Split(%q) = %q, %v, %v", tt.in, base, sealed, err)
		}
		if blob, _ := BlobPath(tt.in); blob != tt.blob {
			t.Errorf("BlobPath(%q) = %q, want %q", tt.in, blob, tt.blob)
		}
	}
}

func TestEmitName(t *testing.T) {
	tests := []struct {
		base string
		n    int
		name string
		want string
	}{
		{"data/alldata", 0, "system/roms/game.rom", "alldata_0000_game.rom"},
		{"main", 12, "rom.bin", "main_0012_rom.bin"},
		{"main", 10000, "chunk3.bin", "main_10000_chunk3.bin"},
	}
	for _, tt := range tests {
		if got := EmitName(tt.base, tt.n, tt.name); got != tt.want {
			t.Errorf("EmitName(%q, %d, %q) = %q, want %q", tt.base, tt.n, tt.name, got, tt.want)
		}
	}
}

func TestStore_SaveOpen(t *testing.T) {
	container := encodedFixture(t)

	for _, path := range []string{"out/main.psb", "out/main.psb.m"} {
		t.Run(path, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			s := New(fs, discard)

			if err := s.Save(path, container, helloROM, psb.DefaultCompressionLevel); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}

			stored, err := afero.ReadFile(fs, path)
			if err != nil {
				t.Fatal(err)
			}
			_, sealed, _ := Split(path)
			if isPlain := bytes.HasPrefix(stored, psb.Magic[:]); isPlain == sealed {
				t.Errorf("stored container plain=%v for sealed=%v", isPlain, sealed)
			}
			if blob, err := afero.ReadFile(fs, "out/main.bin"); err != nil || !bytes.Equal(blob, helloROM) {
				t.Errorf("blob = %x, %v", blob, err)
			}

			a, err := s.Open(path, "", archive.DefaultOptions())
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if got, err := a.ExtractSubresource("rom.bin"); err != nil || string(got) != "HELLO-ROM" {
				t.Errorf("ExtractSubresource() = %q, %v", got, err)
			}
		})
	}
}

func TestStore_Load(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, discard)
	container := encodedFixture(t)
	afero.WriteFile(fs, "main.psb", container, 0o644)
	afero.WriteFile(fs, "custom.dat", helloROM, 0o644)

	t.Run("missing default blob", func(t *testing.T) {
		got, blob, err := s.Load("main.psb", "")
		if err != nil || blob != nil || !bytes.Equal(got, container) {
			t.Errorf("Load() = %d bytes, blob %v, %v", len(got), blob, err)
		}
		a, err := s.Open("main.psb", "", archive.DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := a.ExtractSubresource("rom.bin"); !errors.Is(err, archive.ErrUnavailable) {
			t.Errorf("ExtractSubresource() error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("explicit blob", func(t *testing.T) {
		_, blob, err := s.Load("main.psb", "custom.dat")
		if err != nil || !bytes.Equal(blob, helloROM) {
			t.Errorf("Load() blob = %x, %v", blob, err)
		}
	})

	t.Run("missing explicit blob", func(t *testing.T) {
		if _, _, err := s.Load("main.psb", "nope.dat"); err == nil {
			t.Error("Load() with a missing explicit blob succeeded")
		}
	})

	t.Run("missing container", func(t *testing.T) {
		if _, _, err := s.Load("other.psb", ""); err == nil {
			t.Error("Load() of a missing container succeeded")
		}
	})
}

func TestStore_Emit(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, discard)

	files := []File{
		{Name: "system/roms/game.rom", Data: []byte("rom")},
		{Name: "chunk0.bin", Data: []byte{1, 2, 3}},
	}
	paths, err := s.Emit("dump", "alldata", files)
	if err != nil {
		t.Fatalf("Emit() failed: %v", err)
	}

	want := []string{
		filepath.Join("dump", "alldata_0000_game.rom"),
		filepath.Join("dump", "alldata_0001_chunk0.bin"),
	}
	for i, p := range want {
		if paths[i] != p {
			t.Errorf("path %d = %q, want %q", i, paths[i], p)
		}
		data, err := afero.ReadFile(fs, p)
		if err != nil || !bytes.Equal(data, files[i].Data) {
			t.Errorf("%s = %q, %v", p, data, err)
		}
	}
}
