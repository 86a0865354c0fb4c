package micros

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.bug.st/serial"
)

// Port is the byte stream the driver talks over.
//
// Read must return (0, nil) when no byte arrives within the port's read timeout.
// serial.Port from go.bug.st/serial satisfies Port.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// openPort opens the serial device or TCP bridge named by cfg.
func openPort(cfg *Config) (Port, error) {
	if cfg.IsTCP() {
		conn, err := net.DialTimeout("tcp", cfg.TCPAddr(), cfg.dialTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, cfg.TCPAddr(), err)
		}

		return NewConnPort(conn, cfg.readTimeout, cfg.writeTimeout), nil
	}

	mode := &serial.Mode{
		BaudRate: cfg.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(cfg.portName, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConnection, cfg.portName, err)
	}

	if err := configureSerial(p, cfg.readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("%w: configure %s: %w", ErrConnection, cfg.portName, err)
	}

	return p, nil
}

// configureSerial applies the read timeout and the fixed modem lines: DTR asserted, RTS deasserted.
func configureSerial(p serial.Port, readTimeout time.Duration) error {
	if err := p.SetReadTimeout(readTimeout); err != nil {
		return err
	}
	if err := p.SetDTR(true); err != nil {
		return err
	}

	return p.SetRTS(false)
}

// connPort adapts a net.Conn to Port, turning read deadlines into the
// zero-byte timeout reads a serial port produces.
type connPort struct {
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

var _ Port = (*connPort)(nil)

// NewConnPort wraps conn, e.g. a TCP stream to a serial-over-IP bridge, as a Port.
func NewConnPort(conn net.Conn, readTimeout, writeTimeout time.Duration) Port {
	return &connPort{conn: conn, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

func (p *connPort) Read(b []byte) (int, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
		return 0, err
	}

	n, err := p.conn.Read(b)
	if err != nil && isTimeout(err) {
		return n, nil
	}

	return n, err
}

func (p *connPort) Write(b []byte) (int, error) {
	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return 0, err
		}
	}

	return p.conn.Write(b)
}

func (p *connPort) Close() error {
	return p.conn.Close()
}

// ResetInputBuffer is a no-op: a stream has no device buffer and the reader
// goroutine drains the socket continuously.
func (p *connPort) ResetInputBuffer() error {
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// isConnectionLost reports whether a read error means the port is gone for good,
// such as a TCP bridge closing the connection or a USB adapter being unplugged.
func isConnectionLost(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}

	var portErr *serial.PortError

	return errors.As(err, &portErr) && portErr.Code() == serial.PortClosed
}
