package main

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/danmuck/edgeshare/internal/discovery"
	"github.com/spf13/cobra"
)

func newScanCmd(root *rootOptions) *cobra.Command {
	var (
		subnet      string
		port        int
		timeout     time.Duration
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Find edgeshare peers on the local network",
		Long: "Probes /ping on every host of the local /24 (or --subnet). Peers are only " +
			"found when their admin server listens on a reachable address.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prefix, err := scanPrefix(subnet)
			if err != nil {
				return err
			}
			hosts, err := discovery.Hosts(prefix)
			if err != nil {
				return err
			}
			opts := discovery.DefaultOptions()
			opts.Port = port
			if !cmd.Flags().Changed("port") {
				opts.Port = adminPort(root.cfg.Admin.Addr)
			}
			opts.Timeout = timeout
			opts.Concurrency = concurrency

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			fmt.Fprintf(cmd.ErrOrStderr(), "scanning %s port %d (%d hosts)\n", prefix, opts.Port, len(hosts))
			peers, err := discovery.Scan(ctx, hosts, opts)
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no devices found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDR\tVERSION\tRTT")
			for _, p := range peers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.Addr, p.Version, p.RTT.Round(time.Millisecond))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&subnet, "subnet", "", "CIDR to scan (default: local /24)")
	cmd.Flags().IntVar(&port, "port", discovery.DefaultPort, "admin port to probe (default: port of admin.addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultTimeout, "per-host probe timeout")
	cmd.Flags().IntVar(&concurrency, "concurrency", discovery.DefaultConcurrency, "probes in flight")
	return cmd
}

func scanPrefix(subnet string) (netip.Prefix, error) {
	subnet = strings.TrimSpace(subnet)
	if subnet == "" {
		return discovery.LocalSubnet()
	}
	prefix, err := netip.ParsePrefix(subnet)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("parse --subnet: %w", err)
	}
	return prefix, nil
}

// adminPort is the port of the configured admin address, or the default
// when it has none.
func adminPort(addr string) int {
	_, p, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return discovery.DefaultPort
	}
	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 || n > 65535 {
		return discovery.DefaultPort
	}
	return n
}
