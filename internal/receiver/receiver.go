// Package receiver is the server side of a transfer: it accepts one stream
// per session, verifies the announced digest and stores the file.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgeshare/internal/checksum"
	"github.com/danmuck/edgeshare/internal/history"
	"github.com/danmuck/edgeshare/internal/observability"
	"github.com/danmuck/edgeshare/internal/protocol"
	"github.com/danmuck/edgeshare/internal/protocol/header"
	"github.com/danmuck/edgeshare/internal/protocol/session"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReceivedDir   = "received"
	DefaultStreamTimeout = 10 * time.Second
	DefaultReadTimeout   = 30 * time.Second
	tempPattern          = "incoming-*.part"
	maxNameAttempts      = 10000
)

var (
	ErrNoStream        = errors.New("receiver: peer opened no stream")
	ErrTruncated       = errors.New("receiver: stream ended before announced size")
	ErrTrailingData    = errors.New("receiver: data after announced size")
	ErrDigestMismatch  = errors.New("receiver: digest mismatch")
	ErrNameUnavailable = errors.New("receiver: no free file name")
)

type Config struct {
	ReceivedDir string
	// TempDir holds partial files; it defaults to ReceivedDir/.tmp.
	TempDir       string
	StreamTimeout time.Duration
	// ReadTimeout bounds each read from the stream, so a stalled sender
	// cannot hold a handler while keepalives keep the session up.
	ReadTimeout time.Duration
	Limits      header.Limits
}

func DefaultConfig() Config {
	return Config{
		ReceivedDir:   DefaultReceivedDir,
		StreamTimeout: DefaultStreamTimeout,
		ReadTimeout:   DefaultReadTimeout,
		Limits:        header.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.ReceivedDir) == "" {
		c.ReceivedDir = DefaultReceivedDir
	}
	if strings.TrimSpace(c.TempDir) == "" {
		c.TempDir = filepath.Join(c.ReceivedDir, ".tmp")
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = DefaultStreamTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// Received describes a file that was verified and stored.
type Received struct {
	Descriptor header.FileDescriptor
	Path       string
	Peer       string
	Duration   time.Duration
}

type Receiver struct {
	cfg      Config
	recorder history.Recorder
	wg       sync.WaitGroup

	// OnReceived, when set, is called after each stored file.
	OnReceived func(Received)
}

// New prepares the directories and discards partial files left by a
// previous run.
func New(cfg Config, recorder history.Recorder) (*Receiver, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.ReceivedDir, 0o755); err != nil {
		return nil, fmt.Errorf("receiver: create received dir: %w", err)
	}
	r := &Receiver{cfg: cfg, recorder: recorder}
	if err := r.ClearTemp(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Receiver) Config() Config {
	return r.cfg
}

// ClearTemp empties the temp directory.
func (r *Receiver) ClearTemp() error {
	if err := os.RemoveAll(r.cfg.TempDir); err != nil {
		return fmt.Errorf("receiver: clear temp: %w", err)
	}
	if err := os.MkdirAll(r.cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("receiver: create temp dir: %w", err)
	}
	return nil
}

// Serve accepts sessions until ctx is done or ln is closed. Each session is
// handled on its own goroutine; Serve waits for them before returning.
func (r *Receiver) Serve(ctx context.Context, ln *session.Listener) error {
	defer r.wg.Wait()
	log.Info().Str("addr", ln.Addr().String()).Str("dir", r.cfg.ReceivedDir).Msg("receiver.Serve listening")
	for {
		sess, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("receiver: accept: %w", err)
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			_, _ = r.Handle(ctx, sess)
		}()
	}
}

// Handle reads one transfer from sess and closes it with the verdict code.
func (r *Receiver) Handle(ctx context.Context, sess *session.Session) (Received, error) {
	start := time.Now()
	peer := sess.RemoteAddr().String()
	rec, err := r.receive(ctx, sess)
	rec.Peer = peer
	rec.Duration = time.Since(start)

	code := session.CodeFor(err)
	msg := ""
	if errors.Is(err, ErrNoStream) {
		code = session.CodePeerError
	}
	if err != nil {
		msg = err.Error()
	}
	_ = sess.CloseWithCode(code, msg)

	r.finish(ctx, rec, start, err)
	return rec, err
}

func (r *Receiver) receive(ctx context.Context, sess *session.Session) (Received, error) {
	var rec Received
	acceptCtx, cancel := context.WithTimeout(ctx, r.cfg.StreamTimeout)
	str, err := sess.AcceptStream(acceptCtx)
	cancel()
	if err != nil {
		return rec, protocol.Errorf(protocol.KindIO, "receiver.accept_stream", fmt.Errorf("%w: %v", ErrNoStream, err))
	}

	stop := context.AfterFunc(ctx, func() { str.CancelRead(session.StreamCanceled) })
	defer stop()
	src := &deadlineReader{str: str, timeout: r.cfg.ReadTimeout}

	fd, err := header.Read(src, r.cfg.Limits)
	if err != nil {
		str.CancelRead(session.StreamCanceled)
		return rec, withCancel(ctx, err)
	}
	rec.Descriptor = fd
	log.Debug().Str("file", fd.Name).Uint64("size", fd.Size).Str("peer", sess.RemoteAddr().String()).Msg("receiver.Handle header")

	path, err := r.store(src, fd)
	if err != nil {
		str.CancelRead(session.StreamCanceled)
		return rec, withCancel(ctx, err)
	}
	rec.Path = path
	return rec, nil
}

// withCancel keeps the cancellation cause visible on a read aborted by ctx.
func withCancel(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		return errors.Join(err, cerr)
	}
	return err
}

// deadlineReader pushes the read deadline forward before every read.
type deadlineReader struct {
	str     quic.ReceiveStream
	timeout time.Duration
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	if err := d.str.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return 0, err
	}
	return d.str.Read(p)
}

// store copies exactly fd.Size bytes into a temp file, checks that the
// stream ends there and that the digest matches, then moves the file into
// the received directory.
func (r *Receiver) store(src io.Reader, fd header.FileDescriptor) (string, error) {
	tmp, err := os.CreateTemp(r.cfg.TempDir, tempPattern)
	if err != nil {
		return "", protocol.Errorf(protocol.KindIO, "receiver.store", err)
	}
	tmpPath := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpPath)
		}
	}()

	h := checksum.New()
	n, err := io.CopyN(io.MultiWriter(tmp, h), src, int64(fd.Size))
	if cerr := tmp.Close(); err == nil && cerr != nil {
		return "", protocol.Errorf(protocol.KindIO, "receiver.store", cerr)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", protocol.Errorf(protocol.KindFraming, "receiver.store",
				fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, n, fd.Size))
		}
		return "", protocol.Errorf(protocol.KindIO, "receiver.store", err)
	}

	var extra [1]byte
	if m, err := io.ReadFull(src, extra[:]); m > 0 {
		return "", protocol.Errorf(protocol.KindFraming, "receiver.store", ErrTrailingData)
	} else if err != nil && !errors.Is(err, io.EOF) {
		return "", protocol.Errorf(protocol.KindIO, "receiver.store", err)
	}

	if got := h.Sum(); got != fd.Digest {
		return "", protocol.Errorf(protocol.KindIntegrity, "receiver.store",
			fmt.Errorf("%w: announced %s, computed %s", ErrDigestMismatch, fd.Digest, got))
	}

	dst, err := r.place(tmpPath, fd.Name)
	if err != nil {
		return "", err
	}
	keep = true
	return dst, nil
}

// place moves tmpPath to ReceivedDir/name, or name(1).ext, name(2).ext...
// when the name is taken.
func (r *Receiver) place(tmpPath, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s(%d)%s", stem, i, ext)
		}
		dst := filepath.Join(r.cfg.ReceivedDir, candidate)
		// Link fails if dst exists, so concurrent receivers never overwrite.
		if err := os.Link(tmpPath, dst); err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return "", protocol.Errorf(protocol.KindIO, "receiver.place", err)
		}
		_ = os.Remove(tmpPath)
		return dst, nil
	}
	return "", protocol.Errorf(protocol.KindIO, "receiver.place", fmt.Errorf("%w: %s", ErrNameUnavailable, name))
}

func (r *Receiver) finish(ctx context.Context, rec Received, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = protocol.KindOf(err).String()
	}
	observability.RecordTransfer(string(history.DirectionReceived), outcome, rec.Descriptor.Size, rec.Duration)

	if err != nil {
		log.Warn().Str("peer", rec.Peer).Str("file", rec.Descriptor.Name).Str("kind", outcome).Err(err).
			Msg("receiver.Handle rejected")
	} else {
		log.Info().Str("peer", rec.Peer).Str("file", rec.Descriptor.Name).Str("path", rec.Path).
			Uint64("bytes", rec.Descriptor.Size).Dur("took", rec.Duration).Msg("receiver.Handle stored")
		if r.OnReceived != nil {
			r.OnReceived(rec)
		}
	}

	if r.recorder == nil {
		return
	}
	entry := history.Transfer{
		Direction:  history.DirectionReceived,
		Name:       rec.Descriptor.Name,
		Size:       rec.Descriptor.Size,
		Digest:     rec.Descriptor.Digest,
		Peer:       rec.Peer,
		Path:       rec.Path,
		Status:     history.StatusCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(rec.Duration),
	}
	if entry.Name == "" {
		entry.Name = header.FallbackName
	}
	if err != nil {
		entry.Status = history.StatusFailed
		entry.Error = err.Error()
	}
	if rerr := r.recorder.Record(context.WithoutCancel(ctx), entry); rerr != nil {
		log.Warn().Err(rerr).Msg("receiver.Handle history record failed")
	}
}
