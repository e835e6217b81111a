package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/edgeshare/internal/protocol"
	"github.com/danmuck/edgeshare/internal/testutil/testlog"
)

func TestFileEmptyDigest(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if got != EmptyDigest {
		t.Fatalf("unexpected digest=%s", got)
	}
}

func TestDigestIndependentOfChunkSize(t *testing.T) {
	testlog.Start(t)
	data := bytes.Repeat([]byte("edgeshare-"), 5000)
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	sum := sha256.Sum256(data)
	want := hex.EncodeToString(sum[:])

	for _, size := range []int{1, 7, 4096, len(data), DefaultChunkSize} {
		got, err := FileWithChunkSize(path, size)
		if err != nil {
			t.Fatalf("chunk=%d hash: %v", size, err)
		}
		if got != want {
			t.Fatalf("chunk=%d digest=%s want=%s", size, got, want)
		}
	}
	again, err := File(path)
	if err != nil || again != want {
		t.Fatalf("second pass digest=%s err=%v", again, err)
	}
}

func TestFileMissingIsIOError(t *testing.T) {
	testlog.Start(t)
	_, err := File(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, protocol.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestReaderInvalidChunkSize(t *testing.T) {
	if _, err := Reader(strings.NewReader("x"), 0); !errors.Is(err, ErrInvalidChunkSize) || !errors.Is(err, protocol.ErrIO) {
		t.Fatalf("expected typed ErrInvalidChunkSize, got %v", err)
	}
	if _, _, err := Sum(filepath.Join(t.TempDir(), "x"), -1); protocol.KindOf(err) != protocol.KindIO {
		t.Fatalf("expected KindIO, got %v", err)
	}
}

func TestHasherCountsBytes(t *testing.T) {
	h := New()
	_, _ = h.Write([]byte("abc"))
	if h.Count() != 3 {
		t.Fatalf("unexpected count=%d", h.Count())
	}
	if h.Sum() != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected digest=%s", h.Sum())
	}
}

func TestValid(t *testing.T) {
	if !Valid(EmptyDigest) {
		t.Fatalf("expected valid digest")
	}
	if Valid(strings.ToUpper(EmptyDigest)) {
		t.Fatalf("uppercase digest must be rejected")
	}
	if Valid("abc") {
		t.Fatalf("short digest must be rejected")
	}
}

func TestSumReportsHashedBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "five.bin")
	if err := os.WriteFile(path, []byte("12345"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	digest, n, err := Sum(path, 2)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if n != 5 {
		t.Fatalf("unexpected count=%d", n)
	}
	want := sha256.Sum256([]byte("12345"))
	if digest != hex.EncodeToString(want[:]) {
		t.Fatalf("unexpected digest=%s", digest)
	}
}
