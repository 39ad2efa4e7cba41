package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP storefront",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	st, err := buildStack(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer st.Close()

	srv, err := server.New(server.Options{
		Service:           st.service,
		Bus:               st.relay,
		Gatherer:          st.registry,
		Health:            st.store.Ping,
		AdminToken:        a.cfg.HTTP.AdminToken,
		Logger:            a.log,
		Heartbeat:         a.cfg.HTTP.Heartbeat,
		ReadHeaderTimeout: a.cfg.HTTP.ReadHeaderTimeout,
		ShutdownTimeout:   a.cfg.HTTP.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	if a.cfg.HTTP.AdminToken == "" {
		a.log.Warn("serve.admin_open", cachelab.Fields{"hint": "set http.admin_token to guard /api/admin"})
	}
	if err := srv.Run(ctx, a.cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
