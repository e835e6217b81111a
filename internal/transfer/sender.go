package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danmuck/edgeshare/internal/checksum"
	"github.com/danmuck/edgeshare/internal/history"
	"github.com/danmuck/edgeshare/internal/observability"
	"github.com/danmuck/edgeshare/internal/protocol"
	"github.com/danmuck/edgeshare/internal/protocol/header"
	"github.com/danmuck/edgeshare/internal/protocol/session"
	"github.com/danmuck/edgeshare/internal/trust"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
)

var (
	ErrPolicyRequired = errors.New("transfer: trust policy required")
	ErrSizeChanged    = errors.New("transfer: file changed between hash and send passes")
)

// ProgressFunc observes payload bytes written so far.
type ProgressFunc func(sent, total uint64)

type Options struct {
	// ServerName is the identity the server must prove.
	ServerName string
	Policy     trust.Policy
	Session    session.Config
	ChunkSize  int
	Limits     header.Limits
	Progress   ProgressFunc
	// Recorder, when set, receives one history entry per SendFile call.
	Recorder history.Recorder
}

func DefaultOptions() Options {
	return Options{
		ServerName: trust.DefaultIdentity,
		Session:    session.DefaultConfig(),
		ChunkSize:  checksum.DefaultChunkSize,
		Limits:     header.DefaultLimits(),
	}
}

// Result describes a finished (or failed) send.
type Result struct {
	Descriptor header.FileDescriptor
	Bytes      uint64
	Peer       string
	Duration   time.Duration
}

type Sender struct {
	opts Options
}

func NewSender(opts Options) (*Sender, error) {
	if opts.Policy == nil {
		return nil, ErrPolicyRequired
	}
	if strings.TrimSpace(opts.ServerName) == "" {
		opts.ServerName = trust.DefaultIdentity
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = checksum.DefaultChunkSize
	}
	opts.Session = opts.Session.WithDefaults()
	return &Sender{opts: opts}, nil
}

func (s *Sender) Options() Options {
	return s.opts
}

// SendFile is the transfer entry point: hash pass, handshake with
// serverAddr, header, payload pass, drain. It succeeds only once the
// receiver has confirmed the stream.
func (s *Sender) SendFile(ctx context.Context, serverAddr, path string) (Result, error) {
	start := time.Now()
	res := Result{Peer: serverAddr}

	fd, err := Describe(path, s.opts.ChunkSize)
	if err == nil {
		res.Descriptor = fd
		log.Debug().Str("file", fd.Name).Uint64("size", fd.Size).Str("sha256", fd.Digest).Msg("transfer.SendFile described")

		var sess *session.Session
		sess, err = session.Dial(ctx, serverAddr, s.opts.ServerName, s.opts.Policy, s.opts.Session)
		if err == nil {
			res.Peer = sess.RemoteAddr().String()
			res.Bytes, err = s.Send(ctx, sess, path, fd)
			_ = sess.CloseWithCode(session.CodeFor(err), "")
		}
	}
	res.Duration = time.Since(start)
	s.finish(ctx, path, res, start, err)
	return res, err
}

// Send writes fd and the file's bytes on a new stream of an established
// session, then drains it. fd must come from Describe on the same path.
func (s *Sender) Send(ctx context.Context, sess *session.Session, path string, fd header.FileDescriptor) (uint64, error) {
	str, err := sess.OpenStream(ctx)
	if err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() {
		str.CancelWrite(session.StreamCanceled)
	})
	defer stop()

	sent, err := s.writeStream(ctx, sess.Config(), str, path, fd)
	if err != nil {
		str.CancelWrite(session.StreamCanceled)
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = errors.Join(protocol.Errorf(protocol.KindIO, "transfer.send", ctxErr), err)
		}
		return sent, err
	}
	if err := str.Close(); err != nil {
		return sent, protocol.Errorf(protocol.KindIO, "transfer.finish", err)
	}
	if err := sess.Drain(ctx); err != nil {
		return sent, err
	}
	return sent, nil
}

func (s *Sender) writeStream(ctx context.Context, cfg session.Config, str quic.SendStream, path string, fd header.FileDescriptor) (uint64, error) {
	_ = str.SetWriteDeadline(session.WriteDeadline(ctx, cfg.WriteTimeout))
	if err := header.Write(str, fd, s.opts.Limits); err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, protocol.Errorf(protocol.KindIO, "transfer.open", err)
	}
	defer f.Close()

	buf := make([]byte, s.opts.ChunkSize)
	var sent uint64
	for {
		if err := ctx.Err(); err != nil {
			return sent, protocol.Errorf(protocol.KindIO, "transfer.write", err)
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			if sent+uint64(n) > fd.Size {
				return sent, protocol.Errorf(protocol.KindIO, "transfer.write",
					fmt.Errorf("%w: announced %d bytes, file has more", ErrSizeChanged, fd.Size))
			}
			_ = str.SetWriteDeadline(session.WriteDeadline(ctx, cfg.WriteTimeout))
			if _, err := str.Write(buf[:n]); err != nil {
				return sent, protocol.Errorf(protocol.KindIO, "transfer.write", err)
			}
			sent += uint64(n)
			if s.opts.Progress != nil {
				s.opts.Progress(sent, fd.Size)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return sent, protocol.Errorf(protocol.KindIO, "transfer.read", rerr)
		}
	}
	if sent != fd.Size {
		return sent, protocol.Errorf(protocol.KindIO, "transfer.write",
			fmt.Errorf("%w: announced %d bytes, sent %d", ErrSizeChanged, fd.Size, sent))
	}
	return sent, nil
}

func (s *Sender) finish(ctx context.Context, path string, res Result, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = protocol.KindOf(err).String()
	}
	observability.RecordTransfer(string(history.DirectionSent), outcome, res.Bytes, res.Duration)

	if err != nil {
		log.Warn().Str("file", res.Descriptor.Name).Str("peer", res.Peer).Str("kind", outcome).
			Uint64("sent", res.Bytes).Err(err).Msg("transfer.SendFile failed")
	} else {
		log.Info().Str("file", res.Descriptor.Name).Str("peer", res.Peer).
			Uint64("bytes", res.Bytes).Dur("took", res.Duration).Msg("transfer.SendFile sent")
	}

	if s.opts.Recorder == nil {
		return
	}
	rec := history.Transfer{
		Direction:  history.DirectionSent,
		Name:       res.Descriptor.Name,
		Size:       res.Descriptor.Size,
		Digest:     res.Descriptor.Digest,
		Peer:       res.Peer,
		Path:       path,
		Status:     history.StatusCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(res.Duration),
	}
	if rec.Name == "" {
		rec.Name = header.BaseName(path)
	}
	if err != nil {
		rec.Status = history.StatusFailed
		rec.Error = err.Error()
	}
	if rerr := s.opts.Recorder.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		log.Warn().Err(rerr).Msg("transfer.SendFile history record failed")
	}
}
