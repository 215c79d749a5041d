package psb

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// buildHeader creates a header byte sequence with the given offsets
func buildHeader(magic string, offsets ...uint32) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(magic)
	binary.Write(buf, binary.LittleEndian, uint32(2)) // type
	binary.Write(buf, binary.LittleEndian, uint32(0)) // unknown1
	for _, off := range offsets {
		binary.Write(buf, binary.LittleEndian, off)
	}
	return buf.Bytes()
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    *Header
		wantErr string
	}{
		{
			name:  "valid header",
			input: buildHeader("PSB\x00", 40, 50, 60, 70, 80, 90, 100),
			want: &Header{
				Magic:              Magic,
				Type:               2,
				OffsetNames:        40,
				OffsetStrings:      50,
				OffsetStringsData:  60,
				OffsetChunkOffsets: 70,
				OffsetChunkLengths: 80,
				OffsetChunkData:    90,
				OffsetEntries:      100,
			},
		},
		{
			name:    "invalid magic",
			input:   buildHeader("mdf\x00", 40, 50, 60, 70, 80, 90, 100),
			wantErr: "not a PSB container",
		},
		{
			name:    "truncated header",
			input:   buildHeader("PSB\x00", 40, 50),
			wantErr: "expected 40 bytes, found 20 bytes",
		},
		{
			name:    "empty input",
			input:   []byte{},
			wantErr: "expected 40 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeader(tt.input)

			if tt.wantErr != "" {
				if err == nil {
					t.Fatal("ParseHeader() succeeded unexpectedly, wanted error")
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("ParseHeader() error = %v, should contain %q", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseHeader() failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseHeader() = %+v, want %+v", got, tt.want)
			}
			if !bytes.Equal(got.Bytes(), tt.input) {
				t.Errorf("Bytes() = %x, want %x", got.Bytes(), tt.input)
			}
		})
	}
}

func TestParseHeader_ErrNotPSB(t *testing.T) {
	_, err := ParseHeader(buildHeader("PSC\x00", 0, 0, 0, 0, 0, 0, 0))
	if !errors.Is(err, ErrNotPSB) {
		t.Errorf("ParseHeader() error = %v, want ErrNotPSB", err)
	}
}

func TestHeader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		header  Header
		size    int
		wantErr string
	}{
		{
			name:   "all inside",
			header: Header{OffsetNames: 40, OffsetStrings: 41, OffsetStringsData: 42, OffsetChunkOffsets: 43, OffsetChunkLengths: 44, OffsetChunkData: 45, OffsetEntries: 46},
			size:   47,
		},
		{
			name:   "empty blobs at the end",
			header: Header{OffsetNames: 40, OffsetStrings: 41, OffsetStringsData: 50, OffsetChunkOffsets: 43, OffsetChunkLengths: 44, OffsetChunkData: 50, OffsetEntries: 46},
			size:   50,
		},
		{
			name:    "entries at the end",
			header:  Header{OffsetNames: 40, OffsetStrings: 41, OffsetStringsData: 42, OffsetChunkOffsets: 43, OffsetChunkLengths: 44, OffsetChunkData: 45, OffsetEntries: 47},
			size:    47,
			wantErr: "entries offset at most 0x2E",
		},
		{
			name:    "names past the end",
			header:  Header{OffsetNames: 0x1000},
			size:    47,
			wantErr: "names offset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.header.Validate(tt.size)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, should contain %q", err, tt.wantErr)
			}
		})
	}
}

// helloROM is "HELLO-ROM" compressed at level 9, wrapped in an mdf header and
// obfuscated with the keystream of "rom.bin".
var helloROM, _ = hex.DecodeString("6d64660009000000f15ed29fec14e6564c32b89817ead47bc6")

func TestUnwrap_KnownBlock(t *testing.T) {
	got, err := Unwrap(helloROM, DeriveKey("rom.bin"))
	if err != nil {
		t.Fatalf("Unwrap() failed: %v", err)
	}
	if !got.Wrapped || got.Mismatch {
		t.Errorf("Wrapped, Mismatch = %v, %v, want true, false", got.Wrapped, got.Mismatch)
	}
	if string(got.Data) != "HELLO-ROM" {
		t.Errorf("Unwrap() = %q, want %q", got.Data, "HELLO-ROM")
	}

	// trailing slot padding is ignored
	padded := append(bytes.Clone(helloROM), make([]byte, 32)...)
	if got, err := Unwrap(padded, DeriveKey("ROM.BIN")); err != nil || string(got.Data) != "HELLO-ROM" {
		t.Errorf("Unwrap(padded) = %q, %v", got.Data, err)
	}

	if _, err := Unwrap(helloROM, DeriveKey("other.bin")); err == nil {
		t.Error("Unwrap() with the wrong key succeeded")
	}
}

func TestUnwrap_Passthrough(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("short"),
		buildHeader("PSB\x00", 40, 40, 40, 40, 40, 40, 40),
	}
	for _, in := range inputs {
		got, err := Unwrap(in, Key{})
		if err != nil {
			t.Fatalf("Unwrap(%q) failed: %v", in, err)
		}
		if got.Wrapped || !bytes.Equal(got.Data, in) {
			t.Errorf("Unwrap(%q) = %+v, want passthrough", in, got)
		}
	}
}

func TestUnwrap_LengthMismatch(t *testing.T) {
	block := bytes.Clone(helloROM)
	binary.LittleEndian.PutUint32(block[4:], 100)

	got, err := Unwrap(block, DeriveKey("rom.bin"))
	if err != nil {
		t.Fatalf("Unwrap() failed: %v", err)
	}
	if !got.Mismatch || string(got.Data) != "HELLO-ROM" {
		t.Errorf("Unwrap() = %q mismatch=%v, want inflated data with mismatch", got.Data, got.Mismatch)
	}
}

func TestWrap_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		level   int
	}{
		{name: "empty", payload: []byte{}, level: 9},
		{name: "text", payload: []byte("HELLO-ROM"), level: 9},
		{name: "stored", payload: bytes.Repeat([]byte{0xFF, 0x00}, 5000), level: 0},
		{name: "large", payload: bytes.Repeat([]byte("abcdefgh"), 100000), level: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := DeriveKey("game.rom")
			wrapped, err := Wrap(tt.payload, key, tt.level)
			if err != nil {
				t.Fatalf("Wrap() failed: %v", err)
			}
			if !bytes.Equal(wrapped[:4], MdfSignature[:]) {
				t.Errorf("signature = %q", wrapped[:4])
			}
			if n := binary.LittleEndian.Uint32(wrapped[4:8]); n != uint32(len(tt.payload)) {
				t.Errorf("declared length = %d, want %d", n, len(tt.payload))
			}

			got, err := Unwrap(wrapped, key)
			if err != nil {
				t.Fatalf("Unwrap() failed: %v", err)
			}
			if got.Mismatch || !bytes.Equal(got.Data, tt.payload) {
				t.Errorf("round trip lost data (%d bytes in, %d out)", len(tt.payload), len(got.Data))
			}
		})
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"system/title.jpg.m", 0},
		{"a.jpg.m.bak", 0},
		{"game.rom", 9},
		{"image.jpg", 9},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.name, 9); got != tt.want {
			t.Errorf("LevelFor(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}
