package common

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Hasher accumulates a SHA-256 digest of everything written to it.
type Hasher struct {
	h hash.Hash
	n int64
}

func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	h.n += int64(len(p))
	return h.h.Write(p)
}

// Sum returns the lowercase hex digest of the bytes written so far.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// Size is the number of bytes hashed.
func (h *Hasher) Size() int64 { return h.n }

// TeeReader returns a reader that hashes everything read from r.
func (h *Hasher) TeeReader(r io.Reader) io.Reader {
	return io.TeeReader(r, h)
}
