// Package header encodes the metadata frame that precedes a file payload.
//
// Wire layout:
//
//	[4]      body length, uint32 little-endian
//	[length] JSON body {"filename":string,"size":uint64,"sha256_hex":string}
//
// Payload bytes follow immediately after the body.
package header

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/danmuck/edgeshare/internal/checksum"
	"github.com/danmuck/edgeshare/internal/protocol"
)

const (
	PrefixLen = 4

	// FallbackName is announced when no usable base name can be taken from a path.
	FallbackName = "file.bin"
)

var (
	ErrShortPrefix   = errors.New("header: short length prefix")
	ErrShortBody     = errors.New("header: body shorter than declared length")
	ErrEmptyBody     = errors.New("header: empty body")
	ErrBodyTooLarge  = errors.New("header: body too large")
	ErrInvalidName   = errors.New("header: invalid filename")
	ErrInvalidDigest = errors.New("header: invalid sha256 digest")
)

// FileDescriptor is the metadata announced ahead of the payload.
type FileDescriptor struct {
	Name   string `json:"filename"`
	Size   uint64 `json:"size"`
	Digest string `json:"sha256_hex"`
}

// Limits constrains header decode memory use.
type Limits struct {
	MaxHeaderBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxHeaderBytes: 1024 * 1024}
}

func (l Limits) withDefaults() Limits {
	if l.MaxHeaderBytes == 0 {
		return DefaultLimits()
	}
	return l
}

// BaseName returns the announced name for path: the final element, or
// FallbackName when there is none.
func BaseName(path string) string {
	name := filepath.Base(strings.TrimSpace(path))
	// A backslash is legal in a Unix file name but never on the wire.
	name = strings.ReplaceAll(name, `\`, "_")
	name = strings.ReplaceAll(name, "\x00", "")
	if ValidName(name) != nil {
		return FallbackName
	}
	return name
}

// ValidName reports whether name can be announced and stored as a single
// path element.
func ValidName(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

func (fd FileDescriptor) Validate() error {
	if err := ValidName(fd.Name); err != nil {
		return err
	}
	if !checksum.Valid(fd.Digest) {
		return fmt.Errorf("%w: %q", ErrInvalidDigest, fd.Digest)
	}
	return nil
}

// Encode returns the full frame: length prefix followed by body.
func Encode(fd FileDescriptor, limits Limits) ([]byte, error) {
	limits = limits.withDefaults()
	if err := fd.Validate(); err != nil {
		return nil, protocol.Errorf(protocol.KindFraming, "header.encode", err)
	}
	body, err := json.Marshal(fd)
	if err != nil {
		return nil, protocol.Errorf(protocol.KindFraming, "header.encode", err)
	}
	if uint64(len(body)) > uint64(limits.MaxHeaderBytes) || uint64(len(body)) > math.MaxUint32 {
		return nil, protocol.Errorf(protocol.KindFraming, "header.encode", ErrBodyTooLarge)
	}
	out := make([]byte, PrefixLen+len(body))
	binary.LittleEndian.PutUint32(out[:PrefixLen], uint32(len(body)))
	copy(out[PrefixLen:], body)
	return out, nil
}

// Write encodes fd and writes the whole frame to w before returning.
func Write(w io.Writer, fd FileDescriptor, limits Limits) error {
	frame, err := Encode(fd, limits)
	if err != nil {
		return err
	}
	n, err := w.Write(frame)
	if err == nil && n != len(frame) {
		err = io.ErrShortWrite
	}
	return protocol.Errorf(protocol.KindIO, "header.write", err)
}

// Read consumes exactly one frame from r. It never parses a truncated body.
func Read(r io.Reader, limits Limits) (FileDescriptor, error) {
	limits = limits.withDefaults()
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return FileDescriptor{}, protocol.Errorf(protocol.KindFraming, "header.read", ErrShortPrefix)
		}
		return FileDescriptor{}, protocol.Errorf(protocol.KindIO, "header.read", err)
	}

	n := binary.LittleEndian.Uint32(prefix[:])
	if n == 0 {
		return FileDescriptor{}, protocol.Errorf(protocol.KindFraming, "header.read", ErrEmptyBody)
	}
	if n > limits.MaxHeaderBytes {
		return FileDescriptor{}, protocol.Errorf(protocol.KindFraming, "header.read",
			fmt.Errorf("%w: declared=%d max=%d", ErrBodyTooLarge, n, limits.MaxHeaderBytes))
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return FileDescriptor{}, protocol.Errorf(protocol.KindFraming, "header.read",
				fmt.Errorf("%w: declared=%d", ErrShortBody, n))
		}
		return FileDescriptor{}, protocol.Errorf(protocol.KindIO, "header.read", err)
	}
	return Decode(body)
}

// Decode parses a frame body (without its prefix).
func Decode(body []byte) (FileDescriptor, error) {
	var fd FileDescriptor
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&fd); err != nil {
		return FileDescriptor{}, protocol.Errorf(protocol.KindFraming, "header.decode", err)
	}
	if dec.More() {
		return FileDescriptor{}, protocol.Errorf(protocol.KindFraming, "header.decode",
			errors.New("trailing data after header body"))
	}
	if err := fd.Validate(); err != nil {
		return FileDescriptor{}, protocol.Errorf(protocol.KindFraming, "header.decode", err)
	}
	return fd, nil
}
