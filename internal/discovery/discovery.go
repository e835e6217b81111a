// Package discovery finds edgeshare peers on the local network by probing
// their admin /ping endpoint.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/edgeshare/internal/admin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPort        = 8080
	DefaultTimeout     = 500 * time.Millisecond
	DefaultConcurrency = 64
	maxPingBytes       = 4096
)

var (
	ErrNotPeer       = errors.New("discovery: not an edgeshare peer")
	ErrNoIPv4        = errors.New("discovery: no ipv4 address to scan from")
	ErrSubnetTooWide = errors.New("discovery: subnet too wide")
)

// maxHosts caps a scan at a /20.
const maxHosts = 4096

// Peer is a device that answered /ping as edgeshare.
type Peer struct {
	Name    string
	Addr    string
	Version string
	RTT     time.Duration
}

type Options struct {
	Port        int
	Timeout     time.Duration
	Concurrency int
	// Client overrides the HTTP client; Timeout still bounds each probe.
	Client *http.Client
}

func DefaultOptions() Options {
	return Options{
		Port:        DefaultPort,
		Timeout:     DefaultTimeout,
		Concurrency: DefaultConcurrency,
	}
}

func (o Options) withDefaults() Options {
	if o.Port <= 0 {
		o.Port = DefaultPort
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: o.Timeout}
	}
	return o
}

// Probe asks addr (host:port) for /ping and returns the peer it describes.
func Probe(ctx context.Context, client *http.Client, addr string) (Peer, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/ping", nil)
	if err != nil {
		return Peer{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Peer{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Peer{}, fmt.Errorf("%w: status %d", ErrNotPeer, resp.StatusCode)
	}

	var ping admin.Ping
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPingBytes)).Decode(&ping); err != nil {
		return Peer{}, fmt.Errorf("%w: %v", ErrNotPeer, err)
	}
	if ping.App != admin.AppName {
		return Peer{}, fmt.Errorf("%w: app=%q", ErrNotPeer, ping.App)
	}
	name := ping.DeviceName
	if name == "" {
		name = "unknown"
	}
	return Peer{Name: name, Addr: addr, Version: ping.Version, RTT: time.Since(start)}, nil
}

// Scan probes every host on opts.Port and returns the peers that answered,
// ordered by address. Hosts that fail to answer are skipped.
func Scan(ctx context.Context, hosts []netip.Addr, opts Options) ([]Peer, error) {
	opts = opts.withDefaults()
	var (
		mu    sync.Mutex
		peers []Peer
	)
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for _, host := range hosts {
		if ctx.Err() != nil {
			break
		}
		addr := net.JoinHostPort(host.String(), strconv.Itoa(opts.Port))
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
			p, err := Probe(probeCtx, opts.Client, addr)
			if err != nil {
				log.Trace().Str("addr", addr).Err(err).Msg("discovery.Scan no peer")
				return nil
			}
			mu.Lock()
			peers = append(peers, p)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Addr < peers[j].Addr })
	log.Debug().Int("hosts", len(hosts)).Int("peers", len(peers)).Msg("discovery.Scan done")
	return peers, nil
}

// Hosts lists the usable IPv4 host addresses of prefix, without the network
// and broadcast addresses.
func Hosts(prefix netip.Prefix) ([]netip.Addr, error) {
	prefix = prefix.Masked()
	if !prefix.Addr().Is4() {
		return nil, ErrNoIPv4
	}
	bits := 32 - prefix.Bits()
	if bits > 12 {
		return nil, fmt.Errorf("%w: %s", ErrSubnetTooWide, prefix)
	}
	if bits == 0 {
		return []netip.Addr{prefix.Addr()}, nil
	}
	var out []netip.Addr
	for a := prefix.Addr(); prefix.Contains(a) && len(out) < maxHosts; a = a.Next() {
		out = append(out, a)
	}
	if bits >= 2 {
		out = out[1 : len(out)-1]
	}
	return out, nil
}

// LocalSubnet returns the /24 around the address this host uses for
// outbound traffic.
func LocalSubnet() (netip.Prefix, error) {
	// UDP connect sends nothing; it only selects the outbound interface.
	conn, err := net.Dial("udp4", "192.0.2.1:9")
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %v", ErrNoIPv4, err)
	}
	defer conn.Close()
	udp, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Prefix{}, ErrNoIPv4
	}
	addr, ok := netip.AddrFromSlice(udp.IP.To4())
	if !ok || addr.IsUnspecified() {
		return netip.Prefix{}, ErrNoIPv4
	}
	return addr.Prefix(24)
}
