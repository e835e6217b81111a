package header

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/edgeshare/internal/checksum"
	"github.com/danmuck/edgeshare/internal/protocol"
	"github.com/danmuck/edgeshare/internal/testutil/testlog"
)

func sampleDescriptor() FileDescriptor {
	return FileDescriptor{
		Name:   "report.pdf",
		Size:   123456789,
		Digest: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := sampleDescriptor()
	var buf bytes.Buffer
	if err := Write(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write header: %v", err)
	}
	buf.WriteString("payload")

	out, err := Read(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if out != in {
		t.Fatalf("descriptor mismatch: got=%+v want=%+v", out, in)
	}
	rest, _ := io.ReadAll(&buf)
	if string(rest) != "payload" {
		t.Fatalf("read consumed payload bytes: rest=%q", rest)
	}
}

func TestEncodeLengthPrefixIsLittleEndian(t *testing.T) {
	frame, err := Encode(sampleDescriptor(), DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	n := binary.LittleEndian.Uint32(frame[:PrefixLen])
	if int(n) != len(frame)-PrefixLen {
		t.Fatalf("prefix=%d body=%d", n, len(frame)-PrefixLen)
	}
	body := string(frame[PrefixLen:])
	for _, field := range []string{`"filename":"report.pdf"`, `"size":123456789`, `"sha256_hex":"ba78`} {
		if !strings.Contains(body, field) {
			t.Fatalf("body %s missing %s", body, field)
		}
	}
}

func TestReadShortPrefix(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortPrefix) || !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected short prefix framing error, got %v", err)
	}
	_, err = Read(bytes.NewReader(nil), DefaultLimits())
	if !errors.Is(err, ErrShortPrefix) {
		t.Fatalf("expected ErrShortPrefix on empty stream, got %v", err)
	}
}

func TestReadDeclaredLengthBeyondStream(t *testing.T) {
	frame, err := Encode(sampleDescriptor(), DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	truncated := frame[:len(frame)-5]
	_, err = Read(bytes.NewReader(truncated), DefaultLimits())
	if !errors.Is(err, ErrShortBody) || !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected short body framing error, got %v", err)
	}
}

func TestReadRejectsOversizedAndEmptyBodies(t *testing.T) {
	var prefix [PrefixLen]byte
	binary.LittleEndian.PutUint32(prefix[:], 4096)
	_, err := Read(bytes.NewReader(prefix[:]), Limits{MaxHeaderBytes: 1024})
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	binary.LittleEndian.PutUint32(prefix[:], 0)
	_, err = Read(bytes.NewReader(prefix[:]), DefaultLimits())
	if !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
}

func TestDecodeRejectsMalformedBodies(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"filename":`,
		"trailing":       `{"filename":"a","size":1,"sha256_hex":"` + checksum.EmptyDigest + `"} {}`,
		"path traversal": `{"filename":"../etc/passwd","size":1,"sha256_hex":"` + checksum.EmptyDigest + `"}`,
		"empty name":     `{"filename":"","size":1,"sha256_hex":"` + checksum.EmptyDigest + `"}`,
		"bad digest":     `{"filename":"a","size":1,"sha256_hex":"XYZ"}`,
	}
	for name, body := range cases {
		if _, err := Decode([]byte(body)); !errors.Is(err, protocol.ErrFraming) {
			t.Fatalf("%s: expected framing error, got %v", name, err)
		}
	}
}

func TestEncodeRejectsInvalidDescriptor(t *testing.T) {
	fd := sampleDescriptor()
	fd.Name = "dir/file"
	if _, err := Encode(fd, DefaultLimits()); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	fd = sampleDescriptor()
	fd.Name = strings.Repeat("n", 2048)
	if _, err := Encode(fd, Limits{MaxHeaderBytes: 512}); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestWriteShortWriteIsIOError(t *testing.T) {
	err := Write(shortWriter{}, sampleDescriptor(), DefaultLimits())
	if !errors.Is(err, io.ErrShortWrite) || !errors.Is(err, protocol.ErrIO) {
		t.Fatalf("expected short write io error, got %v", err)
	}
}

func TestBaseName(t *testing.T) {
	cases := map[string]string{
		"/tmp/data/empty.txt": "empty.txt",
		"notes.md":            "notes.md",
		"":                    FallbackName,
		"/":                   FallbackName,
		".":                   FallbackName,
		"/tmp/a\\b.txt":       "a_b.txt",
		"/srv/.env":           ".env",
		"/srv/\\":             "_",
	}
	for in, want := range cases {
		if got := BaseName(in); got != want {
			t.Fatalf("BaseName(%q)=%q want %q", in, got, want)
		}
	}
}
