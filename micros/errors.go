package micros

import "errors"

// Sentinel errors returned by the driver. Match them with errors.Is.
var (
	// Configuration and connection errors.
	ErrInvalidConfig = errors.New("micros: invalid configuration")
	ErrConnection    = errors.New("micros: connection error")

	// Frame errors. Invalid received frames are dropped by the reader and never
	// surface to callers; these are returned by Compose, ParseFrame and Frame.Validate.
	ErrInvalidLength    = errors.New("micros: invalid frame length")
	ErrChecksumMismatch = errors.New("micros: checksum mismatch")
	ErrFrameTooLarge    = errors.New("micros: frame too large")

	// Device API errors.
	ErrNotConfirmed    = errors.New("micros: state change not confirmed")
	ErrUnknownState    = errors.New("micros: device state unknown")
	ErrInvalidArgument = errors.New("micros: invalid argument")
	ErrDriverClosed    = errors.New("micros: driver closed")
)
