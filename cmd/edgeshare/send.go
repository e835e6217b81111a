package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/edgeshare/internal/config"
	"github.com/danmuck/edgeshare/internal/history"
	"github.com/danmuck/edgeshare/internal/protocol"
	"github.com/danmuck/edgeshare/internal/protocol/header"
	"github.com/danmuck/edgeshare/internal/transfer"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type sendFlags struct {
	serverName string
	attempts   int
	chunkSize  int
	quiet      bool
}

func newSendCmd(root *rootOptions) *cobra.Command {
	flags := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send <addr> <file>",
		Short: "Send one file to a server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runSend(ctx, root.cfg, flags, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&flags.serverName, "server-name", "", "identity the server must prove (default from config)")
	cmd.Flags().IntVar(&flags.attempts, "attempts", 0, "connection attempts (default from config)")
	cmd.Flags().IntVar(&flags.chunkSize, "chunk-size", 0, "read/write chunk size in bytes (default from config)")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "no progress bar")
	return cmd
}

func runSend(ctx context.Context, cfg config.File, flags *sendFlags, addr, path string) error {
	opts, err := senderOptions(cfg, flags)
	if err != nil {
		return err
	}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			log.Warn().Err(err).Msg("edgeshare send: history disabled")
		} else {
			defer store.Close()
			opts.Recorder = store
		}
	}

	var bar *progressbar.ProgressBar
	if !flags.quiet {
		opts.Progress = func(sent, total uint64) {
			if bar == nil {
				bar = newProgressBar(header.BaseName(path), total)
			}
			_ = bar.Set64(int64(sent))
		}
	}

	sender, err := transfer.NewSender(opts)
	if err != nil {
		return err
	}
	attempts := cfg.Send.MaxAttempts
	if flags.attempts > 0 {
		attempts = flags.attempts
	}

	res, err := transfer.NewClient(sender, attempts).Send(ctx, addr, path)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("send %s (%s): %w", path, protocol.KindOf(err), err)
	}

	fmt.Printf("sent %s (%s) to %s in %s, %s/s\n",
		res.Descriptor.Name,
		humanize.IBytes(res.Bytes),
		res.Peer,
		res.Duration.Round(time.Millisecond),
		humanize.IBytes(rate(res.Bytes, res.Duration)),
	)
	fmt.Printf("sha256 %s\n", res.Descriptor.Digest)
	return nil
}

func senderOptions(cfg config.File, flags *sendFlags) (transfer.Options, error) {
	sc, err := cfg.Session.Build()
	if err != nil {
		return transfer.Options{}, err
	}
	policy, err := cfg.Trust.Policy()
	if err != nil {
		return transfer.Options{}, err
	}
	opts := transfer.DefaultOptions()
	opts.Policy = policy
	opts.Session = sc
	if cfg.Send.ServerName != "" {
		opts.ServerName = cfg.Send.ServerName
	}
	if flags.serverName != "" {
		opts.ServerName = flags.serverName
	}
	if cfg.Send.ChunkSize > 0 {
		opts.ChunkSize = cfg.Send.ChunkSize
	}
	if flags.chunkSize > 0 {
		opts.ChunkSize = flags.chunkSize
	}
	if cfg.Receiver.MaxHeaderBytes > 0 {
		opts.Limits = header.Limits{MaxHeaderBytes: cfg.Receiver.MaxHeaderBytes}
	}
	return opts, nil
}

func newProgressBar(name string, total uint64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(int64(total),
		progressbar.OptionSetDescription("sending "+name),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetPredictTime(false),
	)
}

func rate(bytes uint64, d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(float64(bytes) / d.Seconds())
}
