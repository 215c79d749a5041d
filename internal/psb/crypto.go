package psb

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"gonum.org/v1/gonum/mathext/prng"
)

// Key is the XOR keystream used to obfuscate mdf blocks.
//
// Key generation process:
//  1. Take the basename of the resource name and lowercase it
//  2. Encode it as latin-1 and append it to FixedSeed
//  3. MD5 the seed and read the digest as four little-endian uint32 words
//  4. Seed an MT19937 generator with those words (init_by_array)
//  5. Draw uint32 outputs, little-endian, until KeyLength bytes are produced
//
// The keystream is applied cyclically to every byte after the block header.
type Key [KeyLength]byte

// DeriveKey returns the keystream for a resource or container name.
// Two names with the same basename, compared case-insensitively, share a key.
func DeriveKey(name string) Key {
	seed := append([]byte{}, FixedSeed...)
	seed = append(seed, foldBasename(name)...)

	digest := md5.Sum(seed)
	words := make([]uint32, 4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(digest[4*i:])
	}

	mt := prng.NewMT19937()
	mt.SeedFromKeys(words)

	var k Key
	for i := 0; i < KeyLength; i += 4 {
		binary.LittleEndian.PutUint32(k[i:], mt.Uint32())
	}
	return k
}

// ParseKey decodes an explicit hex keystream, bypassing name-derived keying.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return k, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(b) != KeyLength {
		return k, fmt.Errorf("invalid key length: expected %d bytes, got %d", KeyLength, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// String returns the key as lowercase hex.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// XOR applies the keystream to data in place, starting at key position 0.
// Applying it twice restores the original bytes.
func (k *Key) XOR(data []byte) {
	for i := range data {
		data[i] ^= k[i%KeyLength]
	}
}

// foldBasename returns the lowercased latin-1 bytes of the basename of name.
// Names are byte strings, so each byte is read as a latin-1 character, folded,
// and written back; anything that does not round-trip keeps its raw bytes.
func foldBasename(name string) []byte {
	base := name[strings.LastIndexByte(name, '/')+1:]

	wide, err := charmap.ISO8859_1.NewDecoder().String(base)
	if err != nil {
		return []byte(strings.ToLower(base))
	}
	folded, err := charmap.ISO8859_1.NewEncoder().String(strings.ToLower(wide))
	if err != nil {
		return []byte(strings.ToLower(base))
	}
	return []byte(folded)
}
