package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/replit/object-storage-go/internal/sidecar"
	"github.com/replit/object-storage-go/objectstorage"
)

const shutdownTimeout = 10 * time.Second

func (a *app) newSidecarCmd() *cobra.Command {
	var listen, bucketID, accessToken string
	cmd := &cobra.Command{
		Use:   "sidecar",
		Short: "Run a local emulator of the Repl sidecar",
		Long:  `Serves the default bucket and credential endpoints of the Repl sidecar, so that clients can be run and tested outside a Repl.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ecfg := a.cfg.Emulator
			if listen != "" {
				ecfg.Listen = listen
			}
			if bucketID != "" {
				ecfg.BucketID = bucketID
			}
			if ecfg.BucketID == "" {
				ecfg.BucketID = a.cfg.Bucket
			}
			if accessToken != "" {
				ecfg.AccessToken = accessToken
			}

			objectstorage.RegisterMetrics()
			emu := sidecar.NewEmulator(sidecar.EmulatorConfig{
				BucketID:      ecfg.BucketID,
				AccessToken:   ecfg.AccessToken,
				TokenLifetime: time.Duration(ecfg.TokenLifetimeSeconds) * time.Second,
				Logger:        a.logger,
			})
			return a.serve(cmd.Context(), emu, ecfg.Listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default: from config or 127.0.0.1:1106)")
	cmd.Flags().StringVar(&bucketID, "bucket-id", "", "default bucket to report (default: from config, or --bucket)")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "subject token to serve (default: from config, or generated)")
	return cmd
}

// serve runs the emulator, and the metrics listener when enabled, until ctx
// is canceled or a server fails.
func (a *app) serve(ctx context.Context, emu *sidecar.Emulator, addr string) error {
	errCh := make(chan error, 2)
	go func() {
		if err := emu.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var metricsSrv *http.Server
	if a.cfg.Metrics.Enabled {
		metricsSrv = &http.Server{
			Addr:              a.cfg.Metrics.Listen,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("Metrics listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down sidecar emulator")
	case runErr = <-errCh:
		a.logger.Error("Server error", "error", runErr)
	}

	// Give in-flight requests time to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := emu.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Emulator shutdown error", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Metrics shutdown error", "error", err)
		}
	}
	return runErr
}
