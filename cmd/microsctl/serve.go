package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-micros/micros/internal/httpapi"
	"github.com/go-micros/micros/micros"
)

const shutdownTimeout = 5 * time.Second

func newMonitorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Print every state change reported by the controller until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDriver(cmd, opts, func(ctx context.Context, s *session) error {
				enc := json.NewEncoder(cmd.OutOrStdout())

				unsubscribe := s.drv.Subscribe(func(c micros.StateChange) {
					if opts.jsonOutput {
						_ = enc.Encode(c)
						return
					}
					r := micros.Reading{Value: c.State, Known: true}
					printf(cmd, "%s  %-12s %s\n", c.At.Format("15:04:05.000"), c.Address, r)
				})
				defer unsubscribe()

				s.logger.Info("monitoring state changes", "port", s.cfg.Serial.Port)
				select {
				case <-ctx.Done():
					return nil
				case <-s.drv.ConnectionLost():
					return s.drv.Err()
				}
			})
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API, event stream and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDriver(cmd, opts, func(ctx context.Context, s *session) error {
				srv := httpapi.New(s.cfg.HTTP, s.drv, s.logger)

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()

				var lostErr error
				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				case <-s.drv.ConnectionLost():
					lostErr = s.drv.Err()
					s.logger.Error("controller connection lost, shutting down", "error", lostErr)
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
					return err
				}

				if err := <-errCh; err != nil {
					return err
				}

				return lostErr
			})
		},
	}
	cmd.Flags().String("http-addr", "", "Listen address, overrides http.addr")

	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)

			return err
		},
	}
}
