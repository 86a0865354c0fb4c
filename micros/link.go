package micros

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-micros/micros/internal/pool"
	"github.com/go-micros/micros/logger"
)

// link owns the port. Reads happen only on the reader goroutine; writes are
// serialized by writeMu.
type link struct {
	port    Port
	cfg     *Config
	logger  logger.Logger
	metrics *Metrics

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	lost     atomic.Pointer[error]
	lostCh   chan struct{}
	lostOnce sync.Once

	byteBuf [1]byte
}

func newLink(port Port, cfg *Config, l logger.Logger, m *Metrics) *link {
	return &link{
		port:    port,
		cfg:     cfg,
		logger:  l,
		metrics: m,
		lostCh:  make(chan struct{}),
	}
}

// readByte reads one byte. ok is false when the read timeout expired.
func (l *link) readByte() (byte, bool, error) {
	n, err := l.port.Read(l.byteBuf[:])
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}

	return l.byteBuf[0], true, nil
}

// readFull fills buf, bounding each read call by the read timeout.
// ok is false when a read timed out before buf was full. It stops with
// ctx's error once ctx is done.
func (l *link) readFull(ctx context.Context, buf []byte) (bool, error) {
	for read := 0; read < len(buf); {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		n, err := l.port.Read(buf[read:])
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		read += n
	}

	return true, nil
}

// transmit writes f and then pauses for the send gap outside the write lock,
// giving the controller time to answer while other callers queue up.
func (l *link) transmit(ctx context.Context, f Frame) error {
	if ctx.Err() != nil || l.closed.Load() {
		return ErrDriverClosed
	}
	if err := l.lostErr(); err != nil {
		return err
	}

	err := l.write(f)
	if err != nil {
		if l.closed.Load() {
			return ErrDriverClosed
		}

		return fmt.Errorf("%w: write %s: %w", ErrConnection, f, err)
	}
	l.metrics.incFramesSent()

	if err := pool.Sleep(ctx, l.cfg.sendGap); err != nil {
		return ErrDriverClosed
	}

	return nil
}

func (l *link) write(f Frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.cfg.preSendFlush {
		if err := l.port.ResetInputBuffer(); err != nil {
			l.logger.Debug("reset input buffer failed", "error", err)
		}
	}

	l.logger.Debug("TX", "frame", f.String())

	for written := 0; written < len(f.raw); {
		n, err := l.port.Write(f.raw[written:])
		written += n

		if err != nil {
			return err
		}
	}

	return nil
}

// markLost records err as the reason the connection dropped. Later calls are ignored.
func (l *link) markLost(err error) {
	l.lostOnce.Do(func() {
		lostErr := fmt.Errorf("%w: connection lost: %w", ErrConnection, err)
		l.lost.Store(&lostErr)
		close(l.lostCh)
	})
}

// lostErr returns the error recorded by markLost, or nil.
func (l *link) lostErr() error {
	if p := l.lost.Load(); p != nil {
		return *p
	}

	return nil
}

// close closes the port once; later calls return the first result.
func (l *link) close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.closeErr = l.port.Close()
	})

	return l.closeErr
}
