package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-micros/micros/micros"
)

type (
	setFunc  func(d *micros.Driver, num int, cmd micros.Command) error
	readFunc func(d *micros.Driver, num int) (micros.Reading, error)
)

// readingOutput is the --json form of a GET result.
type readingOutput struct {
	Device string `json:"device"`
	Value  byte   `json:"value"`
	Known  bool   `json:"known"`
	State  string `json:"state"`
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return 0, fmt.Errorf("%w: device number %q, want 0-255", micros.ErrInvalidArgument, s)
	}

	return n, nil
}

func newSwitchCmd(opts *rootOptions, name, short string, set setFunc, get readFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <number> <on|off|toggle>",
		Short: "Set the state and wait for the controller to confirm it",
		Example: fmt.Sprintf(`  microsctl %[1]s set 3 on
  microsctl %[1]s set 3 toggle --port tcp://192.168.1.40:4001`, name),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			num, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			c, err := micros.ParseCommand(args[1])
			if err != nil {
				return err
			}

			return withDriver(cmd, opts, func(_ context.Context, s *session) error {
				if err := set(s.drv, num, c); err != nil {
					return err
				}
				printf(cmd, "%s %d %s confirmed\n", strings.ToUpper(name), num, c)
				return nil
			})
		},
	})

	cmd.AddCommand(newGetCmd(opts, name, get))

	return cmd
}

func newGetCmd(opts *rootOptions, name string, get readFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get <number>",
		Short: "Read the current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			num, err := parseNumber(args[0])
			if err != nil {
				return err
			}

			return withDriver(cmd, opts, func(_ context.Context, s *session) error {
				r, err := get(s.drv, num)
				if err != nil {
					return err
				}
				if err := printReading(cmd, opts, fmt.Sprintf("%s %d", strings.ToUpper(name), num), r); err != nil {
					return err
				}
				return r.Err()
			})
		},
	}
}

func printReading(cmd *cobra.Command, opts *rootOptions, device string, r micros.Reading) error {
	if opts.jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(readingOutput{
			Device: device,
			Value:  r.Value,
			Known:  r.Known,
			State:  r.String(),
		})
	}

	printf(cmd, "%s: %s\n", device, r)

	return nil
}

func newDimmerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dimmer",
		Short: "Set or read a dimmer",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <number> <0-255|on|off|toggle>",
		Short: "Set the level and wait for the controller to confirm it",
		Long: `Set a dimmer level. Levels outside 0-255 are clamped. ON is full
brightness, OFF is 0, and TOGGLE switches an unlit dimmer to full and any
lit dimmer off.`,
		Example: `  microsctl dimmer set 2 128
  microsctl dimmer set 2 toggle`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			num, err := parseNumber(args[0])
			if err != nil {
				return err
			}

			apply, err := dimmerAction(args[1])
			if err != nil {
				return err
			}

			return withDriver(cmd, opts, func(_ context.Context, s *session) error {
				if err := apply(s.drv, num); err != nil {
					return err
				}
				printf(cmd, "DIMMER %d %s confirmed\n", num, strings.ToUpper(args[1]))
				return nil
			})
		},
	})

	cmd.AddCommand(newGetCmd(opts, "dimmer", (*micros.Driver).GetDimmer))

	return cmd
}

func dimmerAction(arg string) (func(d *micros.Driver, num int) error, error) {
	if level, err := strconv.Atoi(arg); err == nil {
		return func(d *micros.Driver, num int) error { return d.SetDimmer(num, level) }, nil
	}

	c, err := micros.ParseCommand(arg)
	if err != nil {
		return nil, err
	}

	switch c {
	case micros.CommandToggle:
		return (*micros.Driver).ToggleDimmer, nil
	case micros.CommandOn:
		return func(d *micros.Driver, num int) error { return d.SetDimmer(num, int(micros.StateOn)) }, nil
	default:
		return func(d *micros.Driver, num int) error { return d.SetDimmer(num, int(micros.StateOff)) }, nil
	}
}

func newMoodCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mood <local|timed|general> <number> <on|off|toggle>",
		Short: "Trigger a mood",
		Long: `Trigger a local, timed or general mood. Moods are not confirmed: the
command returns once the frame is sent. TOGGLE is sent as ON.`,
		Example: `  microsctl mood general 1 on`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := micros.ParseMoodKind(args[0])
			if err != nil {
				return err
			}
			num, err := parseNumber(args[1])
			if err != nil {
				return err
			}
			c, err := micros.ParseCommand(args[2])
			if err != nil {
				return err
			}

			return withDriver(cmd, opts, func(_ context.Context, s *session) error {
				if err := s.drv.SetMood(num, c, kind); err != nil {
					return err
				}
				printf(cmd, "%s mood %d %s sent\n", kind, num, c)
				return nil
			})
		},
	}
}

func newSensorCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sensor",
		Short: "Read a sensor",
	}
	cmd.AddCommand(newGetCmd(opts, "sensor", (*micros.Driver).GetSensor))

	return cmd
}
