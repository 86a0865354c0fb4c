package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-micros/micros/config"
	"github.com/go-micros/micros/logger"
	"github.com/go-micros/micros/micros"
)

type rootOptions struct {
	configPath string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "microsctl",
		Short: "Control a home automation controller over its serial protocol",
		Long: `Microsctl drives relays, dimmers, flags and moods on a controller and
confirms every state change against the events the controller reports.

The port is a serial device (/dev/ttyUSB0, COM3) or a serial-over-TCP
bridge written as tcp://host:port.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Configuration file (default ./micros.yaml)")
	pf.String("port", "", "Serial port or tcp://host:port, overrides serial.port")
	pf.Int("baudrate", micros.DefaultBaudRate, "Serial baud rate, overrides serial.baudrate")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")

	cmd.AddCommand(
		newSwitchCmd(opts, "relay", "Switch or read a relay",
			(*micros.Driver).SetRelay, (*micros.Driver).GetRelay),
		newSwitchCmd(opts, "flag", "Switch or read a flag",
			(*micros.Driver).SetFlag, (*micros.Driver).GetFlag),
		newDimmerCmd(opts),
		newMoodCmd(opts),
		newSensorCmd(opts),
		newMonitorCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
	)

	return cmd
}

// session is an open driver together with the settings and logger it was built from.
type session struct {
	cfg    *config.Config
	logger logger.Logger
	drv    *micros.Driver
}

// loadConfig reads the configuration with cmd's flags as the highest precedence source.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	return config.Load(opts.configPath, cmd.Flags())
}

// withDriver opens the driver, runs fn and closes the driver again.
func withDriver(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	l, closer, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.SetLogger(l)

	dc, err := cfg.DriverConfig(l)
	if err != nil {
		return err
	}

	drv, err := micros.Open(dc)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := drv.Close(); cerr != nil {
			l.Warn("close driver", "error", cerr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(ctx, &session{cfg: cfg, logger: l, drv: drv})
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
