// Package idalloc draws fresh 32-bit randoms and encodes them through a
// fixed bijective map into public catalog ids (spec.md §4.4).
package idalloc

import (
	"context"
	"crypto/rand"
	"encoding/binary"

	"github.com/mineskin-go/generator/internal/apperr"
)

const maxTries = 10

// mask31 keeps the result inside the 31-bit space the XOR salt and the
// historical mapping were defined over.
const mask31 = (1 << 31) - 1

// Exister checks whether a candidate id already exists in the catalog.
// Implemented by internal/catalog.
type Exister interface {
	ExistsSkinID(ctx context.Context, id uint64) (bool, error)
}

// Encoder is the bijective (prime, inverse, salt) mapping. Two Encoders
// built from the same parameters must agree on every input — the mapping
// is catalog schema, not an implementation detail.
type Encoder struct {
	prime   uint64
	inverse uint64
	salt    uint64
}

// NewEncoder builds an Encoder from the three Optimus parameters.
func NewEncoder(prime, inverse, salt uint64) *Encoder {
	return &Encoder{prime: prime, inverse: inverse, salt: salt}
}

// Encode maps a raw 32-bit random into the public id space:
// (prime * n) XOR salt, mod 2^31 — spec.md §4.4's serialization.
func (e *Encoder) Encode(n uint32) uint64 {
	return ((e.prime * uint64(n)) ^ e.salt) & mask31
}

// Decode reverses Encode using the modular inverse of prime.
func (e *Encoder) Decode(id uint64) uint64 {
	return (e.inverse * (id ^ e.salt)) & mask31
}

// Allocator draws a random uint32, encodes it, and retries against the
// catalog on collision up to maxTries.
type Allocator struct {
	enc     *Encoder
	catalog Exister
}

// New builds an Allocator bound to a catalog existence check.
func New(enc *Encoder, catalog Exister) *Allocator {
	return &Allocator{enc: enc, catalog: catalog}
}

// NewID draws a fresh id not already present in the catalog.
// Returns apperr.ErrFailedToCreateID after maxTries collisions.
func (a *Allocator) NewID(ctx context.Context) (uint64, error) {
	for i := 0; i < maxTries; i++ {
		raw, err := randomUint32()
		if err != nil {
			return 0, apperr.Wrap(apperr.ErrFailedToCreateID, err)
		}
		id := a.enc.Encode(raw)

		exists, err := a.catalog.ExistsSkinID(ctx, id)
		if err != nil {
			return 0, apperr.Wrap(apperr.ErrFailedToCreateID, err)
		}
		if !exists {
			return id, nil
		}
	}
	return 0, apperr.ErrFailedToCreateID
}

func randomUint32() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
