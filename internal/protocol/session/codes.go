package session

import (
	"github.com/danmuck/edgeshare/internal/protocol"
	"github.com/quic-go/quic-go"
)

// Application close codes. The receiver closes the connection with one of
// these once it has processed the stream; the sender reads it while draining.
const (
	CodeAccepted  quic.ApplicationErrorCode = 0x0
	CodeFraming   quic.ApplicationErrorCode = 0x1
	CodeIntegrity quic.ApplicationErrorCode = 0x2
	CodeInternal  quic.ApplicationErrorCode = 0x3
	CodePeerError quic.ApplicationErrorCode = 0x4
)

// StreamCanceled is used to reset a stream whose transfer was aborted.
const StreamCanceled quic.StreamErrorCode = 0x10

// CodeFor picks the close code that reports err to the sender.
func CodeFor(err error) quic.ApplicationErrorCode {
	if err == nil {
		return CodeAccepted
	}
	switch protocol.KindOf(err) {
	case protocol.KindFraming:
		return CodeFraming
	case protocol.KindIntegrity:
		return CodeIntegrity
	default:
		return CodeInternal
	}
}

// KindFor maps a peer close code back to a failure kind.
func KindFor(code quic.ApplicationErrorCode) protocol.Kind {
	switch code {
	case CodeFraming:
		return protocol.KindFraming
	case CodeIntegrity:
		return protocol.KindIntegrity
	default:
		return protocol.KindIO
	}
}

func codeText(code quic.ApplicationErrorCode) string {
	switch code {
	case CodeAccepted:
		return "accepted"
	case CodeFraming:
		return "framing"
	case CodeIntegrity:
		return "integrity"
	case CodeInternal:
		return "internal"
	case CodePeerError:
		return "peer error"
	default:
		return "unknown"
	}
}
