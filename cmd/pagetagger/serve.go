package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pagetagger/internal/web"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the annotation web UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if listen != "" {
				cfg.ListenAddr = listen
			}

			srv, err := web.NewServer(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := srv.Close(); err != nil {
					slog.Error("close workspace", "err", err)
				}
			}()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			httpServer := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				slog.Info("listening", "addr", cfg.ListenAddr, "settings", cfg.SettingsPath, "store", cfg.StoreBackend)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-runCtx.Done():
			}

			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default $PAGETAGGER_LISTEN_ADDR or 127.0.0.1:8080)")
	return cmd
}
