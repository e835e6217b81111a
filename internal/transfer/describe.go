package transfer

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/edgeshare/internal/checksum"
	"github.com/danmuck/edgeshare/internal/protocol"
	"github.com/danmuck/edgeshare/internal/protocol/header"
)

var ErrNotRegularFile = errors.New("transfer: not a regular file")

// Describe runs the hash pass over path and builds the descriptor announced
// ahead of the payload. Size is the number of bytes actually hashed.
func Describe(path string, chunkSize int) (header.FileDescriptor, error) {
	if chunkSize <= 0 {
		chunkSize = checksum.DefaultChunkSize
	}
	info, err := os.Stat(path)
	if err != nil {
		return header.FileDescriptor{}, protocol.Errorf(protocol.KindIO, "transfer.describe", err)
	}
	if !info.Mode().IsRegular() {
		return header.FileDescriptor{}, protocol.Errorf(protocol.KindIO, "transfer.describe",
			fmt.Errorf("%w: %s", ErrNotRegularFile, path))
	}
	digest, size, err := checksum.Sum(path, chunkSize)
	if err != nil {
		return header.FileDescriptor{}, err
	}
	return header.FileDescriptor{
		Name:   header.BaseName(path),
		Size:   size,
		Digest: digest,
	}, nil
}
