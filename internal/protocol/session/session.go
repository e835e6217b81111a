package session

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgeshare/internal/protocol"
	"github.com/danmuck/edgeshare/internal/trust"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
)

var (
	ErrPeerClosed    = errors.New("session: peer closed connection")
	ErrLocalClosed   = errors.New("session: connection closed locally")
	ErrDrainTimeout  = errors.New("session: peer did not confirm before drain timeout")
	ErrUnexpectedUni = errors.New("session: unexpected stream from peer")
)

// Session is one encrypted QUIC connection. A client session also owns the
// UDP socket it was dialed from.
type Session struct {
	conn       quic.Connection
	transport  *quic.Transport
	udp        net.PacketConn
	cfg        Config
	serverName string
	closeOnce  sync.Once
}

// Dial binds an ephemeral local UDP port and performs the QUIC/TLS handshake
// with serverAddr. The server must prove serverName to policy. There is no
// retry: unreachable or malformed addresses are connectivity failures and a
// policy rejection is an identity failure.
func Dial(ctx context.Context, serverAddr, serverName string, policy trust.Policy, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(serverName, policy); err != nil {
		return nil, protocol.Errorf(protocol.KindConnectivity, "session.dial", err)
	}
	if trust.IsDemo(policy) {
		log.Warn().Str("server_name", serverName).
			Msg("session.Dial trusting a pinned self-signed certificate: closed-network demo posture only")
	}

	raddr, err := net.ResolveUDPAddr("udp", strings.TrimSpace(serverAddr))
	if err != nil {
		return nil, protocol.Errorf(protocol.KindConnectivity, "session.dial", fmt.Errorf("resolve %q: %w", serverAddr, err))
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, protocol.Errorf(protocol.KindConnectivity, "session.dial", fmt.Errorf("bind local endpoint: %w", err))
	}
	tr := &quic.Transport{Conn: udpConn}

	tlsCfg, verdict := trust.ClientTLS(policy, serverName, cfg.nextProtos())
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, err := tr.Dial(dialCtx, raddr, tlsCfg, cfg.quicConfig())
	if err != nil {
		_ = tr.Close()
		_ = udpConn.Close()
		if rejected := verdict.Rejected(); rejected != nil {
			log.Warn().Str("addr", serverAddr).Str("server_name", serverName).Err(rejected).Msg("session.Dial identity rejected")
			return nil, protocol.Errorf(protocol.KindIdentity, "session.dial", rejected)
		}
		log.Debug().Str("addr", serverAddr).Err(err).Msg("session.Dial handshake failed")
		return nil, protocol.Errorf(protocol.KindConnectivity, "session.dial", err)
	}
	log.Debug().Str("addr", raddr.String()).Str("local", udpConn.LocalAddr().String()).
		Str("server_name", serverName).Msg("session.Dial established")

	return &Session{
		conn:       conn,
		transport:  tr,
		udp:        udpConn,
		cfg:        cfg,
		serverName: serverName,
	}, nil
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// ServerName is the identity proven during the handshake (client side only).
func (s *Session) ServerName() string {
	return s.serverName
}

func (s *Session) Config() Config {
	return s.cfg
}

// PeerIdentity returns the leaf certificate the peer presented, or nil when
// it presented none.
func (s *Session) PeerIdentity() *x509.Certificate {
	certs := s.conn.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		return nil
	}
	return certs[0]
}

// OpenStream opens the unidirectional stream a file travels on.
func (s *Session) OpenStream(ctx context.Context) (quic.SendStream, error) {
	str, err := s.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, protocol.Errorf(protocol.KindIO, "session.open_stream", err)
	}
	return str, nil
}

// AcceptStream waits for the peer's unidirectional stream.
func (s *Session) AcceptStream(ctx context.Context) (quic.ReceiveStream, error) {
	str, err := s.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, protocol.Errorf(protocol.KindIO, "session.accept_stream", err)
	}
	return str, nil
}

// Drain blocks until the peer closes the connection, which it does after it
// has read the whole stream. Close code CodeAccepted means the transfer was
// delivered; any other code is returned as the matching typed failure.
func (s *Session) Drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
	defer cancel()
	for {
		str, err := s.conn.AcceptUniStream(ctx)
		if err == nil {
			str.CancelRead(quic.StreamErrorCode(CodePeerError))
			log.Warn().Str("peer", s.conn.RemoteAddr().String()).Err(ErrUnexpectedUni).Msg("session.Drain rejected stream")
			continue
		}
		return classifyClose(ctx, err)
	}
}

func classifyClose(ctx context.Context, err error) error {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		if !appErr.Remote {
			return protocol.Errorf(protocol.KindIO, "session.drain", ErrLocalClosed)
		}
		if appErr.ErrorCode == CodeAccepted {
			return nil
		}
		return protocol.Errorf(KindFor(appErr.ErrorCode), "session.drain",
			fmt.Errorf("%w: code=0x%x (%s) message=%q", ErrPeerClosed, uint64(appErr.ErrorCode), codeText(appErr.ErrorCode), appErr.ErrorMessage))
	}
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Errorf(protocol.KindConnectivity, "session.drain", fmt.Errorf("%w: %v", ErrDrainTimeout, ctx.Err()))
		}
		return protocol.Errorf(protocol.KindConnectivity, "session.drain", ctx.Err())
	}
	return protocol.Errorf(protocol.KindConnectivity, "session.drain", err)
}

// CloseWithCode closes the connection and reports code to the peer.
func (s *Session) CloseWithCode(code quic.ApplicationErrorCode, msg string) error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.CloseWithError(code, msg)
		if s.transport != nil {
			_ = s.transport.Close()
		}
		if s.udp != nil {
			_ = s.udp.Close()
		}
	})
	return err
}

func (s *Session) Close() error {
	return s.CloseWithCode(CodeAccepted, "")
}

// Listener accepts receive-path sessions.
type Listener struct {
	ln  *quic.Listener
	cfg Config
}

func Listen(addr string, id trust.Identity, cfg Config) (*Listener, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateServerTransport(id); err != nil {
		return nil, err
	}
	if trust.SelfSigned(id.Leaf) {
		log.Warn().Str("identity", id.Name).Msg("session.Listen presenting a self-signed certificate: closed-network demo posture only")
	}
	ln, err := quic.ListenAddr(addr, trust.ServerTLS(id, cfg.nextProtos()), cfg.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("session: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, cfg: cfg}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for the next handshaken session.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn, cfg: l.cfg}, nil
}

func (l *Listener) Close() error {
	return l.ln.Close()
}

// WriteDeadline returns the per-write deadline, never later than ctx's.
func WriteDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}
