package micros

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-micros/micros/logger"
)

// Default values, taken from the controller's documented serial settings and
// the reliability section of the driver configuration file.
const (
	DefaultBaudRate       = 19200
	DefaultReadTimeout    = 1 * time.Second
	DefaultWriteTimeout   = 1 * time.Second
	DefaultDialTimeout    = 3 * time.Second
	DefaultRetries        = 3
	DefaultConfirmTimeout = 800 * time.Millisecond
	DefaultAckTimeout     = 100 * time.Millisecond
	DefaultRetryDelay     = 250 * time.Millisecond
	DefaultRetryStep      = 50 * time.Millisecond
	DefaultSendGap        = 140 * time.Millisecond
	DefaultCloseTimeout   = 2 * time.Second

	DefaultQueueCapacity    = 256
	DefaultFrameTTL         = 30 * time.Second
	DefaultNotifyBufferSize = DefaultQueueCapacity

	// logCommandGap separates the LOG frames sent by EnableEventReporting.
	logCommandGap = 50 * time.Millisecond
	// readErrorBackoff is the reader's pause after a port error.
	readErrorBackoff = 100 * time.Millisecond
)

// Range limits for the With* options.
const (
	MinReadTimeout = 10 * time.Millisecond
	MaxReadTimeout = 10 * time.Second

	MinConfirmTimeout = 10 * time.Millisecond
	MaxConfirmTimeout = 60 * time.Second

	MinCloseTimeout = time.Millisecond
	MaxCloseTimeout = 60 * time.Second

	MaxAckTimeout = 10 * time.Second
	MaxRetryDelay = 60 * time.Second
	MaxSendGap    = 5 * time.Second
	MaxRetries    = 31
	MaxQueueSize  = 65536

	MinBaudRate = 300
	MaxBaudRate = 4000000
)

const tcpPortPrefix = "tcp://"

// Config holds the driver configuration. Create it with NewConfig.
type Config struct {
	portName string
	baudRate int

	readTimeout  time.Duration
	writeTimeout time.Duration
	dialTimeout  time.Duration

	// confirmation engine
	retries        int
	confirmTimeout time.Duration
	ackTimeout     time.Duration
	retryDelay     time.Duration
	retryStep      time.Duration
	sendGap        time.Duration
	preSendFlush   bool

	queueCapacity    int
	frameTTL         time.Duration
	closeTimeout     time.Duration
	notifyBufferSize int
	eventReporting   bool

	logger logger.Logger
}

// NewConfig creates a driver configuration for portName.
//
// portName is a serial device such as "/dev/ttyUSB0" or "COM3", or
// "tcp://host:port" for a serial-over-IP bridge.
// opts are functional options applied in order; see With* functions.
func NewConfig(portName string, opts ...Option) (*Config, error) {
	cfg := &Config{
		baudRate:         DefaultBaudRate,
		readTimeout:      DefaultReadTimeout,
		writeTimeout:     DefaultWriteTimeout,
		dialTimeout:      DefaultDialTimeout,
		retries:          DefaultRetries,
		confirmTimeout:   DefaultConfirmTimeout,
		ackTimeout:       DefaultAckTimeout,
		retryDelay:       DefaultRetryDelay,
		retryStep:        DefaultRetryStep,
		sendGap:          DefaultSendGap,
		preSendFlush:     true,
		queueCapacity:    DefaultQueueCapacity,
		frameTTL:         DefaultFrameTTL,
		closeTimeout:     DefaultCloseTimeout,
		notifyBufferSize: DefaultNotifyBufferSize,
		eventReporting:   true,
		logger:           logger.GetLogger(),
	}

	if err := cfg.setPortName(portName); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.closeTimeout <= cfg.readTimeout {
		return nil, fmt.Errorf("%w: close timeout %v must exceed read timeout %v",
			ErrInvalidConfig, cfg.closeTimeout, cfg.readTimeout)
	}

	return cfg, nil
}

func (cfg *Config) setPortName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: port is required", ErrInvalidConfig)
	}
	if strings.HasPrefix(name, tcpPortPrefix) && len(name) == len(tcpPortPrefix) {
		return fmt.Errorf("%w: tcp port %q has no address", ErrInvalidConfig, name)
	}
	cfg.portName = name

	return nil
}

// --- Getters ---

// PortName returns the configured port identifier.
func (cfg *Config) PortName() string { return cfg.portName }

// IsTCP reports whether the port is a serial-over-IP bridge.
func (cfg *Config) IsTCP() bool { return strings.HasPrefix(cfg.portName, tcpPortPrefix) }

// TCPAddr returns the host:port part of a tcp:// port identifier.
func (cfg *Config) TCPAddr() string { return strings.TrimPrefix(cfg.portName, tcpPortPrefix) }

// BaudRate returns the serial baud rate.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// ReadTimeout returns the bound of a single port read.
func (cfg *Config) ReadTimeout() time.Duration { return cfg.readTimeout }

// WriteTimeout returns the bound of a single write on TCP ports.
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// Retries returns the number of SET attempts before giving up.
func (cfg *Config) Retries() int { return cfg.retries }

// ConfirmTimeout returns how long a SET waits for a matching event. A GET waits
// half of it for a reply and the other half for an event.
func (cfg *Config) ConfirmTimeout() time.Duration { return cfg.confirmTimeout }

// AckTimeout returns the SET acknowledgement window.
func (cfg *Config) AckTimeout() time.Duration { return cfg.ackTimeout }

// MoodAckTimeout returns the mood acknowledgement window, twice the SET window.
func (cfg *Config) MoodAckTimeout() time.Duration { return 2 * cfg.ackTimeout }

// RetryDelay returns the base backoff between SET attempts.
func (cfg *Config) RetryDelay() time.Duration { return cfg.retryDelay }

// RetryStep returns the backoff increment added per attempt.
func (cfg *Config) RetryStep() time.Duration { return cfg.retryStep }

// SendGap returns the pause after each transmitted frame.
func (cfg *Config) SendGap() time.Duration { return cfg.sendGap }

// PreSendFlush reports whether the input buffer is reset before each transmit.
func (cfg *Config) PreSendFlush() bool { return cfg.preSendFlush }

// QueueCapacity returns the capacity of each receive queue.
func (cfg *Config) QueueCapacity() int { return cfg.queueCapacity }

// FrameTTL returns the configured cap on the age of queued frames.
func (cfg *Config) FrameTTL() time.Duration { return cfg.frameTTL }

// WaitHorizon returns how long after its arrival a frame can still confirm a
// request: twice the ack, confirm and send gap windows, which covers a SET
// attempt together with its GET fallback. Older frames are discarded.
func (cfg *Config) WaitHorizon() time.Duration {
	return 2 * (cfg.ackTimeout + cfg.confirmTimeout + cfg.sendGap)
}

// queueTTL is the age at which the receive queues discard unclaimed frames.
func (cfg *Config) queueTTL() time.Duration {
	h := cfg.WaitHorizon()
	if cfg.frameTTL > 0 && cfg.frameTTL < h {
		return cfg.frameTTL
	}

	return h
}

// CloseTimeout returns the maximum time Close waits for background tasks.
func (cfg *Config) CloseTimeout() time.Duration { return cfg.closeTimeout }

// NotifyBufferSize returns the number of state changes buffered for subscribers.
func (cfg *Config) NotifyBufferSize() int { return cfg.notifyBufferSize }

// EventReporting reports whether the driver enables event reporting when opened.
func (cfg *Config) EventReporting() bool { return cfg.eventReporting }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// backoff returns the pause after a failed attempt (1-based).
func (cfg *Config) backoff(attempt int) time.Duration {
	return cfg.retryDelay + cfg.retryStep*time.Duration(attempt-1)
}

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

func durationInRange(name string, d, lower, upper time.Duration) error {
	if d < lower || d > upper {
		return fmt.Errorf("%w: %s %v out of range [%v, %v]", ErrInvalidConfig, name, d, lower, upper)
	}

	return nil
}

// WithBaudRate sets the serial baud rate. Ignored for tcp:// ports.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *Config) error {
		if baud < MinBaudRate || baud > MaxBaudRate {
			return fmt.Errorf("%w: baud rate %d out of range [%d, %d]", ErrInvalidConfig, baud, MinBaudRate, MaxBaudRate)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithReadTimeout bounds each port read. It also bounds reader shutdown latency.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := durationInRange("read timeout", d, MinReadTimeout, MaxReadTimeout); err != nil {
			return err
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithWriteTimeout bounds each write on tcp:// ports.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: write timeout must be positive", ErrInvalidConfig)
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithDialTimeout bounds the TCP dial for tcp:// ports.
func WithDialTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: dial timeout must be positive", ErrInvalidConfig)
		}
		cfg.dialTimeout = d

		return nil
	})
}

// WithRetries sets the number of SET attempts. Must be in [1, 31].
func WithRetries(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxRetries {
			return fmt.Errorf("%w: retries %d out of range [1, %d]", ErrInvalidConfig, n, MaxRetries)
		}
		cfg.retries = n

		return nil
	})
}

// WithConfirmTimeout sets the event confirmation window.
func WithConfirmTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := durationInRange("confirm timeout", d, MinConfirmTimeout, MaxConfirmTimeout); err != nil {
			return err
		}
		cfg.confirmTimeout = d

		return nil
	})
}

// WithAckTimeout sets the SET acknowledgement window. Zero skips the acknowledgement wait.
func WithAckTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := durationInRange("ack timeout", d, 0, MaxAckTimeout); err != nil {
			return err
		}
		cfg.ackTimeout = d

		return nil
	})
}

// WithRetryDelay sets the backoff after a failed attempt as delay + step*(attempt-1).
func WithRetryDelay(delay, step time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := durationInRange("retry delay", delay, 0, MaxRetryDelay); err != nil {
			return err
		}
		if err := durationInRange("retry step", step, 0, MaxRetryDelay); err != nil {
			return err
		}
		cfg.retryDelay = delay
		cfg.retryStep = step

		return nil
	})
}

// WithSendGap sets the pause after each transmitted frame.
func WithSendGap(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := durationInRange("send gap", d, 0, MaxSendGap); err != nil {
			return err
		}
		cfg.sendGap = d

		return nil
	})
}

// WithPreSendFlush enables or disables the input buffer reset before each transmit.
// Enabled by default.
func WithPreSendFlush(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.preSendFlush = enabled

		return nil
	})
}

// WithQueueCapacity sets the capacity of the ack, event and GET reply queues.
func WithQueueCapacity(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxQueueSize {
			return fmt.Errorf("%w: queue capacity %d out of range [1, %d]", ErrInvalidConfig, n, MaxQueueSize)
		}
		cfg.queueCapacity = n

		return nil
	})
}

// WithFrameTTL caps how long an unclaimed frame stays queued. Frames are
// discarded after the wait horizon in any case; zero leaves only that bound.
func WithFrameTTL(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("%w: frame ttl must not be negative", ErrInvalidConfig)
		}
		cfg.frameTTL = d

		return nil
	})
}

// WithCloseTimeout sets how long Close waits for the background tasks.
// It must exceed the read timeout.
func WithCloseTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := durationInRange("close timeout", d, MinCloseTimeout, MaxCloseTimeout); err != nil {
			return err
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithNotifyBufferSize sets the number of state changes buffered for subscribers.
// Changes arriving while the buffer is full are dropped and counted in
// NotifyDropped; the default matches the event queue capacity so a
// burst the reader can queue can also be notified.
func WithNotifyBufferSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxQueueSize {
			return fmt.Errorf("%w: notify buffer size %d out of range [1, %d]", ErrInvalidConfig, n, MaxQueueSize)
		}
		cfg.notifyBufferSize = n

		return nil
	})
}

// WithEventReporting controls whether the driver sends LOG enable frames for every
// function type when it starts. Enabled by default.
func WithEventReporting(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.eventReporting = enabled

		return nil
	})
}

// WithLogger sets the logger for the driver.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("%w: logger must not be nil", ErrInvalidConfig)
		}
		cfg.logger = l

		return nil
	})
}
