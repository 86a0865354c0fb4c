package micros

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is the requested state of a switchable device.
type Command uint8

const (
	CommandOn Command = iota + 1
	CommandOff
	CommandToggle
)

func (c Command) String() string {
	switch c {
	case CommandOn:
		return "ON"
	case CommandOff:
		return "OFF"
	case CommandToggle:
		return "TOGGLE"
	default:
		return fmt.Sprintf("COMMAND(%d)", uint8(c))
	}
}

// ParseCommand parses ON, OFF or TOGGLE, case-insensitive.
func ParseCommand(s string) (Command, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON":
		return CommandOn, nil
	case "OFF":
		return CommandOff, nil
	case "TOGGLE":
		return CommandToggle, nil
	default:
		return 0, fmt.Errorf("%w: command %q, want ON, OFF or TOGGLE", ErrInvalidArgument, s)
	}
}

// MoodKind selects the mood function type.
type MoodKind uint8

const (
	MoodLocal MoodKind = iota + 1
	MoodTimed
	MoodGeneral
)

func (k MoodKind) String() string {
	switch k {
	case MoodLocal:
		return "LOCAL"
	case MoodTimed:
		return "TIMED"
	case MoodGeneral:
		return "GENERAL"
	default:
		return fmt.Sprintf("MOOD(%d)", uint8(k))
	}
}

// Function returns the function code of the mood kind.
func (k MoodKind) Function() (Function, bool) {
	switch k {
	case MoodLocal:
		return FunctionLocalMood, true
	case MoodTimed:
		return FunctionTimedMood, true
	case MoodGeneral:
		return FunctionGeneralMood, true
	default:
		return 0, false
	}
}

// ParseMoodKind parses LOCAL, TIMED or GENERAL, case-insensitive.
func ParseMoodKind(s string) (MoodKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOCAL":
		return MoodLocal, nil
	case "TIMED":
		return MoodTimed, nil
	case "GENERAL":
		return MoodGeneral, nil
	default:
		return 0, fmt.Errorf("%w: mood kind %q, want LOCAL, TIMED or GENERAL", ErrInvalidArgument, s)
	}
}

// Reading is the result of a GET. Known is false when the controller did not answer.
type Reading struct {
	Value byte `json:"value"`
	Known bool `json:"known"`
}

// IsOn reports whether the device is known to be in any non-OFF state.
func (r Reading) IsOn() bool {
	return r.Known && r.Value != StateOff
}

// Err returns ErrUnknownState for an unanswered GET.
func (r Reading) Err() error {
	if !r.Known {
		return ErrUnknownState
	}

	return nil
}

func (r Reading) String() string {
	if !r.Known {
		return "UNKNOWN"
	}

	switch r.Value {
	case StateOn:
		return "ON"
	case StateOff:
		return "OFF"
	default:
		return strconv.Itoa(int(r.Value))
	}
}

func newAddress(fn Function, num int) (Address, error) {
	if num < 0 || num > 255 {
		return Address{}, fmt.Errorf("%w: %s number %d out of range [0, 255]", ErrInvalidArgument, fn, num)
	}

	return Address{Function: fn, Number: byte(num)}, nil
}

// SetRelay switches relay num and waits for the controller to confirm it.
func (d *Driver) SetRelay(num int, cmd Command) error {
	return d.setSwitch(FunctionRelay, num, cmd)
}

// GetRelay reads the state of relay num.
func (d *Driver) GetRelay(num int) (Reading, error) {
	return d.read(FunctionRelay, num)
}

// SetDimmer sets dimmer num to level, clamped to [0, 255]. Any non-zero level
// reported back counts as confirmation of a non-zero target.
func (d *Driver) SetDimmer(num int, level int) error {
	addr, err := d.address(FunctionDimmer, num)
	if err != nil {
		return err
	}

	return d.setWithConfirm(addr, byte(min(max(level, 0), 255)), false)
}

// ToggleDimmer switches dimmer num off when it is at any non-zero level and fully on otherwise.
func (d *Driver) ToggleDimmer(num int) error {
	return d.setSwitch(FunctionDimmer, num, CommandToggle)
}

// GetDimmer reads the level of dimmer num.
func (d *Driver) GetDimmer(num int) (Reading, error) {
	return d.read(FunctionDimmer, num)
}

// SetFlag switches flag num and waits for the controller to confirm it.
func (d *Driver) SetFlag(num int, cmd Command) error {
	return d.setSwitch(FunctionFlag, num, cmd)
}

// GetFlag reads the state of flag num.
func (d *Driver) GetFlag(num int) (Reading, error) {
	return d.read(FunctionFlag, num)
}

// SetMood triggers mood num. TOGGLE is sent as ON. The call succeeds once the
// frame is written, with or without an acknowledgement.
func (d *Driver) SetMood(num int, cmd Command, kind MoodKind) error {
	fn, ok := kind.Function()
	if !ok {
		return fmt.Errorf("%w: mood kind %d", ErrInvalidArgument, uint8(kind))
	}

	addr, err := d.address(fn, num)
	if err != nil {
		return err
	}

	switch cmd {
	case CommandOn, CommandToggle:
		return d.triggerMood(addr, StateOn)
	case CommandOff:
		return d.triggerMood(addr, StateOff)
	default:
		return fmt.Errorf("%w: command %d", ErrInvalidArgument, uint8(cmd))
	}
}

// GetSensor reads the raw value of sensor num.
func (d *Driver) GetSensor(num int) (Reading, error) {
	return d.read(FunctionSensor, num)
}

func (d *Driver) setSwitch(fn Function, num int, cmd Command) error {
	addr, err := d.address(fn, num)
	if err != nil {
		return err
	}

	switch cmd {
	case CommandOn:
		return d.setWithConfirm(addr, StateOn, false)
	case CommandOff:
		return d.setWithConfirm(addr, StateOff, false)
	case CommandToggle:
		return d.setWithConfirm(addr, StateOn, true)
	default:
		return fmt.Errorf("%w: command %d", ErrInvalidArgument, uint8(cmd))
	}
}

func (d *Driver) read(fn Function, num int) (Reading, error) {
	addr, err := d.address(fn, num)
	if err != nil {
		return Reading{}, err
	}

	st, known, err := d.get(addr)
	if err != nil {
		return Reading{}, err
	}

	return Reading{Value: st, Known: known}, nil
}

// address validates num and rejects calls on a closed driver.
func (d *Driver) address(fn Function, num int) (Address, error) {
	if d.Closed() {
		return Address{}, ErrDriverClosed
	}

	return newAddress(fn, num)
}
