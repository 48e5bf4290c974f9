// Package xofrand provides a deterministic rand.Source backed by the
// blake2b XOF PRNG used throughout the sampling code, keyed from a
// SHAKE-256 digest of a domain label and an integer seed. Two sources
// built from the same (label, seed) pair produce identical streams on
// every platform, which is what the annealer and the sweep tools rely
// on for reproducible runs.
package xofrand

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tuneinsight/lattigo/v4/utils"
	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/rand"
)

// defaultLabel separates sampler key material from other SHAKE uses.
const defaultLabel = "dais/xofrand/v1"

// keyLen matches the 64-byte keys utils.NewPRNG feeds blake2b.
const keyLen = 64

// bufWords is the number of 64-bit words fetched from the XOF per refill.
const bufWords = 128

// Source is a deterministic rand.Source reading 64-bit words from a
// keyed blake2b XOF. It satisfies golang.org/x/exp/rand.Source, so it
// plugs directly into gonum distributions.
type Source struct {
	label string
	seed  uint64
	prng  utils.PRNG

	buf [8 * bufWords]byte
	off int
}

var _ rand.Source = (*Source)(nil)

// NewSource returns a Source keyed from the package's default label and
// the given seed.
func NewSource(seed uint64) *Source {
	return NewSourceWithLabel(defaultLabel, seed)
}

// NewSourceWithLabel returns a Source whose key is the SHAKE-256 digest
// of label followed by the little-endian seed. Distinct labels give
// independent streams for the same seed.
func NewSourceWithLabel(label string, seed uint64) *Source {
	s := &Source{label: label, seed: seed}
	s.rekey()
	return s
}

// NewSourceFromKey returns a Source reading directly from a PRNG keyed
// with the caller's key material. The key must be at most 64 bytes.
func NewSourceFromKey(key []byte) (*Source, error) {
	prng, err := utils.NewKeyedPRNG(key)
	if err != nil {
		return nil, fmt.Errorf("xofrand: keyed prng: %w", err)
	}
	s := &Source{prng: prng}
	s.off = len(s.buf)
	return s, nil
}

// DeriveKey expands (label, seed) into a 64-byte PRNG key via SHAKE-256.
func DeriveKey(label string, seed uint64) []byte {
	h := sha3.NewShake256()
	h.Write([]byte(label))
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], seed)
	h.Write(le[:])
	key := make([]byte, keyLen)
	if _, err := h.Read(key); err != nil {
		panic(fmt.Errorf("xofrand: shake read: %w", err))
	}
	return key
}

func (s *Source) rekey() {
	prng, err := utils.NewKeyedPRNG(DeriveKey(s.label, s.seed))
	if err != nil {
		// DeriveKey emits exactly 64 bytes, which NewKeyedPRNG accepts.
		panic(fmt.Errorf("xofrand: keyed prng: %w", err))
	}
	s.prng = prng
	s.off = len(s.buf)
}

// Uint64 returns the next 64-bit word of the stream.
func (s *Source) Uint64() uint64 {
	if s.off >= len(s.buf) {
		if _, err := io.ReadFull(s.prng, s.buf[:]); err != nil {
			panic(fmt.Errorf("xofrand: prng read: %w", err))
		}
		s.off = 0
	}
	w := binary.LittleEndian.Uint64(s.buf[s.off:])
	s.off += 8
	return w
}

// Seed re-keys the source in place, restarting the stream for the new
// seed under the source's original label.
func (s *Source) Seed(seed uint64) {
	if s.label == "" {
		s.label = defaultLabel
	}
	s.seed = seed
	s.rekey()
}
