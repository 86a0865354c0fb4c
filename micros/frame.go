package micros

import (
	"fmt"
	"time"
)

// StartByte marks the beginning of every frame.
const StartByte byte = 0x02

// Command codes. The controller acknowledges with 0x00 or 0x01; 0x01 sent by
// the host is a SET.
const (
	CmdAck   byte = 0x00
	CmdSet   byte = 0x01
	CmdGet   byte = 0x02
	CmdLog   byte = 0x03
	CmdEvent byte = 0x08
)

// State values. Dimmers use the full 0-255 range.
const (
	StateOff byte = 0
	StateOn  byte = 255
)

// Frame size limits. The length byte counts from itself through the checksum.
const (
	MinFrameLength = 4
	MaxFrameLength = 65

	MinLengthByte = MinFrameLength - 1
	MaxLengthByte = MaxFrameLength - 1

	stateFrameLength = 7
)

// Function is the device class code carried in SET, GET, LOG and EVENT payloads.
type Function byte

const (
	FunctionRelay       Function = 1
	FunctionDimmer      Function = 2
	FunctionLocalMood   Function = 8
	FunctionTimedMood   Function = 9
	FunctionGeneralMood Function = 10
	FunctionFlag        Function = 15
	FunctionSensor      Function = 20
	FunctionMotor       Function = 55
	FunctionCondition   Function = 60
)

// reportedFunctions lists the function types for which event reporting is enabled on open.
var reportedFunctions = []Function{
	FunctionRelay,
	FunctionDimmer,
	FunctionLocalMood,
	FunctionTimedMood,
	FunctionGeneralMood,
	FunctionFlag,
	FunctionSensor,
	FunctionMotor,
	FunctionCondition,
}

func (f Function) String() string {
	switch f {
	case FunctionRelay:
		return "RELAY"
	case FunctionDimmer:
		return "DIMMER"
	case FunctionLocalMood:
		return "LOCMOOD"
	case FunctionTimedMood:
		return "TIMEDMOOD"
	case FunctionGeneralMood:
		return "GENMOOD"
	case FunctionFlag:
		return "FLAG"
	case FunctionSensor:
		return "SENSOR"
	case FunctionMotor:
		return "MOTOR"
	case FunctionCondition:
		return "COND"
	default:
		return fmt.Sprintf("FUNC(%d)", byte(f))
	}
}

// Address identifies one device on the controller.
type Address struct {
	Function Function `json:"function"`
	Number   byte     `json:"number"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s %d", a.Function, a.Number)
}

// FrameClass is the queue a received frame is routed to.
type FrameClass uint8

const (
	ClassIgnored FrameClass = iota
	ClassAck
	ClassEvent
	ClassGetReply
)

func (c FrameClass) String() string {
	switch c {
	case ClassAck:
		return "ack"
	case ClassEvent:
		return "event"
	case ClassGetReply:
		return "get-reply"
	default:
		return "ignored"
	}
}

// Frame is an immutable, validated MICROS frame:
//
//	[START][LEN][CMD][payload...][CHK]
//
// Frames produced by the reader carry their receive time.
type Frame struct {
	raw        []byte
	receivedAt time.Time
}

// Checksum returns the sum of data modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}

	return sum
}

// Compose builds a frame for cmd and payload, filling in length and checksum.
func Compose(cmd byte, payload ...byte) (Frame, error) {
	total := MinFrameLength + len(payload)
	if total > MaxFrameLength {
		return Frame{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, total, MaxFrameLength)
	}

	raw := make([]byte, total)
	raw[0] = StartByte
	raw[1] = byte(total - 1)
	raw[2] = cmd
	copy(raw[3:], payload)
	raw[total-1] = Checksum(raw[:total-1])

	return Frame{raw: raw}, nil
}

// ParseFrame copies data into a Frame and validates it.
func ParseFrame(data []byte, receivedAt time.Time) (Frame, error) {
	raw := make([]byte, len(data))
	copy(raw, data)

	f := Frame{raw: raw, receivedAt: receivedAt}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}

	return f, nil
}

// ParseState extracts (function, number, state) from a raw SET, GET reply or EVENT frame.
// ok is false for frames shorter than 7 bytes or with a wrong checksum.
func ParseState(raw []byte) (fn Function, num, state byte, ok bool) {
	if len(raw) < stateFrameLength {
		return 0, 0, 0, false
	}

	last := len(raw) - 1
	if Checksum(raw[:last]) != raw[last] {
		return 0, 0, 0, false
	}

	return Function(raw[3]), raw[4], raw[5], true
}

// Validate checks the start byte, the length byte and the checksum.
func (f Frame) Validate() error {
	n := len(f.raw)
	if n < MinFrameLength || n > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidLength, n)
	}
	if f.raw[0] != StartByte {
		return fmt.Errorf("%w: missing start byte", ErrInvalidLength)
	}
	if int(f.raw[1]) != n-1 {
		return fmt.Errorf("%w: length byte %d, frame has %d bytes", ErrInvalidLength, f.raw[1], n)
	}
	if want := Checksum(f.raw[:n-1]); want != f.raw[n-1] {
		return fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksumMismatch, f.raw[n-1], want)
	}

	return nil
}

// State returns the device address and state carried by the frame.
func (f Frame) State() (Address, byte, bool) {
	fn, num, st, ok := ParseState(f.raw)
	if !ok {
		return Address{}, 0, false
	}

	return Address{Function: fn, Number: num}, st, true
}

// Bytes returns a copy of the raw frame.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.raw))
	copy(out, f.raw)

	return out
}

// Len returns the total frame length in bytes.
func (f Frame) Len() int { return len(f.raw) }

// Command returns the command byte, or 0xFF for an empty frame.
func (f Frame) Command() byte {
	if len(f.raw) < 3 {
		return 0xFF
	}

	return f.raw[2]
}

// Payload returns the bytes between the command and the checksum.
func (f Frame) Payload() []byte {
	if len(f.raw) < MinFrameLength {
		return nil
	}

	return f.Bytes()[3 : len(f.raw)-1]
}

// Class returns the queue the frame belongs to when received from the controller.
func (f Frame) Class() FrameClass {
	switch f.Command() {
	case CmdAck, CmdSet: // controller acknowledgements use 0x00 and 0x01
		return ClassAck
	case CmdEvent:
		return ClassEvent
	case CmdGet:
		return ClassGetReply
	default:
		return ClassIgnored
	}
}

// ReceivedAt returns the time the reader assembled the frame. It is zero for composed frames.
func (f Frame) ReceivedAt() time.Time { return f.receivedAt }

// String returns the frame as space separated upper-case hex, e.g. "02 06 01 01 05 FF 0E".
func (f Frame) String() string {
	return fmt.Sprintf("% X", f.raw)
}
