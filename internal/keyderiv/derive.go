// Package keyderiv derives the per-tag sector keys of HKDF-keyed filament
// tags from the tag UID.
//
// Derivation is a pure function of the UID: HKDF-SHA256 keyed with a fixed
// application-wide secret, with the UID as the info parameter, expanded to
// 96 bytes and split into sixteen 6-byte keys (one per sector, in order).
// Changing the secret or the construction invalidates every key ever derived.
package keyderiv

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/dyluth/spoolscan/internal/mifare"
)

// keyMaterialSize is the HKDF output length: one key per sector.
const keyMaterialSize = mifare.SectorCount * mifare.KeySize

// defaultSecret is the application-wide input keying material.
var defaultSecret = []byte{
	0x9a, 0x75, 0x9c, 0xf2, 0xc4, 0xf7, 0xca, 0xff,
	0x22, 0x2c, 0xb9, 0x76, 0x9b, 0x41, 0xbc, 0x96,
}

// ValidUIDLength reports whether n is a UID length a tag can broadcast
// (single, double or triple size).
func ValidUIDLength(n int) bool {
	return n == 4 || n == 7 || n == 10
}

// Deriver derives sector keys with a fixed secret. The zero value is not
// usable; construct with NewDeriver. A Deriver holds no mutable state and
// is safe for concurrent use.
type Deriver struct {
	secret []byte
}

// NewDeriver returns a Deriver keyed with a copy of secret.
// An empty secret selects the built-in one.
func NewDeriver(secret []byte) *Deriver {
	if len(secret) == 0 {
		secret = defaultSecret
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Deriver{secret: s}
}

// DeriveKeys returns the 16 sector keys for uid. UIDs whose length is not
// 4, 7 or 10 bytes yield an empty set; that is the degenerate-input policy,
// not an error.
func (d *Deriver) DeriveKeys(uid []byte) mifare.KeySet {
	if !ValidUIDLength(len(uid)) {
		return nil
	}

	r := hkdf.New(sha256.New, d.secret, nil, uid)
	material := make([]byte, keyMaterialSize)
	if _, err := io.ReadFull(r, material); err != nil {
		// HKDF-SHA256 can emit up to 255*32 bytes; 96 never fails.
		return nil
	}

	keys := make(mifare.KeySet, mifare.SectorCount)
	for i := range keys {
		copy(keys[i][:], material[i*mifare.KeySize:(i+1)*mifare.KeySize])
	}
	return keys
}

var defaultDeriver = NewDeriver(nil)

// DeriveKeys derives sector keys with the built-in secret.
func DeriveKeys(uid []byte) mifare.KeySet {
	return defaultDeriver.DeriveKeys(uid)
}
