// Package checksum computes the SHA-256 fingerprints announced in transfer headers.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"os"

	"github.com/danmuck/edgeshare/internal/protocol"
)

const (
	// DefaultChunkSize is the read size used when streaming a file through the digest.
	DefaultChunkSize = 1024 * 1024

	// DigestLen is the length of a hex-encoded SHA-256 digest.
	DigestLen = sha256.Size * 2

	// EmptyDigest is the digest of zero bytes.
	EmptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

var ErrInvalidChunkSize = errors.New("checksum: chunk size must be positive")

// Hasher is a running digest. It is an io.Writer so it can sit behind an
// io.MultiWriter while bytes are copied elsewhere.
type Hasher struct {
	h hash.Hash
	n uint64
}

func New() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.n += uint64(n)
	return n, err
}

// Count returns the number of bytes hashed so far.
func (h *Hasher) Count() uint64 {
	return h.n
}

// Sum returns the lowercase hex digest of everything written.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// File hashes the file at path in DefaultChunkSize reads.
func File(path string) (string, error) {
	return FileWithChunkSize(path, DefaultChunkSize)
}

func FileWithChunkSize(path string, chunkSize int) (string, error) {
	digest, _, err := Sum(path, chunkSize)
	return digest, err
}

// Sum hashes the file at path and also reports how many bytes were hashed,
// so a size announced next to the digest covers exactly the same bytes.
func Sum(path string, chunkSize int) (string, uint64, error) {
	if chunkSize <= 0 {
		return "", 0, protocol.Errorf(protocol.KindIO, "checksum.file", ErrInvalidChunkSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", 0, protocol.Errorf(protocol.KindIO, "checksum.file", err)
	}
	defer f.Close()
	return sum(f, chunkSize)
}

// Reader hashes r until EOF. No partial digest is returned on failure.
func Reader(r io.Reader, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		return "", protocol.Errorf(protocol.KindIO, "checksum.read", ErrInvalidChunkSize)
	}
	digest, _, err := sum(r, chunkSize)
	return digest, err
}

func sum(r io.Reader, chunkSize int) (string, uint64, error) {
	h := New()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, protocol.Errorf(protocol.KindIO, "checksum.read", err)
		}
	}
	return h.Sum(), h.Count(), nil
}

// Valid reports whether s is a well-formed lowercase hex SHA-256 digest.
func Valid(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
