package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/edgeshare/internal/admin"
	"github.com/danmuck/edgeshare/internal/config"
	"github.com/danmuck/edgeshare/internal/history"
	"github.com/danmuck/edgeshare/internal/protocol/session"
	"github.com/danmuck/edgeshare/internal/receiver"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive files and serve the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg
			if listen != "" {
				cfg.Receiver.Listen = listen
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "QUIC listen address (default from config)")
	return cmd
}

func runServe(ctx context.Context, cfg config.File) error {
	id, err := cfg.Trust.LoadIdentity()
	if err != nil {
		return fmt.Errorf("%w (run \"edgeshare certgen\" first)", err)
	}
	sc, err := cfg.Session.Build()
	if err != nil {
		return err
	}
	rc, err := cfg.Receiver.Build()
	if err != nil {
		return err
	}

	var store *history.Store
	var recorder history.Recorder
	var lister admin.Lister
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder, lister = store, store
	}

	recv, err := receiver.New(rc, recorder)
	if err != nil {
		return err
	}
	ln, err := session.Listen(cfg.Receiver.Listen, id, sc)
	if err != nil {
		return err
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	go func() {
		errCh <- recv.Serve(ctx, ln)
	}()
	running := 1
	if cfg.Admin.Enabled {
		srv := admin.New(cfg.Admin.Build(recv.Config().ReceivedDir), lister)
		running++
		go func() {
			errCh <- srv.Run(ctx)
		}()
	}
	log.Info().Str("identity", id.Name).Str("listen", ln.Addr().String()).Bool("admin", cfg.Admin.Enabled).
		Msg("edgeshare serve started")

	var firstErr error
	for i := 0; i < running; i++ {
		err := <-errCh
		if err != nil && firstErr == nil {
			firstErr = err
		}
		// Either component stopping stops the other.
		cancel()
		_ = ln.Close()
	}
	if errors.Is(firstErr, context.Canceled) {
		return nil
	}
	return firstErr
}
