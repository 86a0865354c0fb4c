package micros

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-micros/micros/internal/pool"
	"github.com/go-micros/micros/internal/queue"
	"github.com/go-micros/micros/internal/task"
	"github.com/go-micros/micros/logger"
)

// Driver talks to one MICROS controller. It is safe for concurrent use.
type Driver struct {
	cfg     *Config
	logger  logger.Logger
	metrics *Metrics
	link    *link

	ackQ   *queue.Bounded[Frame]
	eventQ *queue.Bounded[Frame]
	getQ   *queue.Bounded[Frame]

	notifier *notifier
	taskMgr  *task.Manager
	ctx      context.Context

	closeOnce sync.Once
	closeErr  error
}

// Open opens the port named by cfg and starts a driver on it.
func Open(cfg *Config) (*Driver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}

	port, err := openPort(cfg)
	if err != nil {
		return nil, err
	}

	return NewDriver(cfg, port)
}

// NewDriver starts a driver on an already opened port. The driver owns port:
// it is closed by Close, or before NewDriver returns an error.
//
// When event reporting is enabled in cfg, NewDriver sends a LOG enable frame
// for every function type before returning.
func NewDriver(cfg *Config, port Port) (*Driver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if port == nil {
		return nil, fmt.Errorf("%w: port is nil", ErrInvalidConfig)
	}

	l := cfg.logger.With("port", cfg.portName)
	m := &Metrics{}

	newQueue := func() *queue.Bounded[Frame] {
		return queue.NewBounded(cfg.queueCapacity, cfg.queueTTL(), Frame.ReceivedAt)
	}

	d := &Driver{
		cfg:      cfg,
		logger:   l,
		metrics:  m,
		link:     newLink(port, cfg, l, m),
		ackQ:     newQueue(),
		eventQ:   newQueue(),
		getQ:     newQueue(),
		notifier: newNotifier(cfg.notifyBufferSize, l, m),
		taskMgr:  task.NewManager(context.Background(), l),
	}
	d.ctx = d.taskMgr.Context()

	reader := &frameReader{
		link:    d.link,
		logger:  l,
		metrics: m,
		ackQ:    d.ackQ,
		eventQ:  d.eventQ,
		getQ:    d.getQ,
		onEvent: d.notifier.publish,
	}

	if err := d.taskMgr.Start("reader", func() bool { return reader.readOnce(d.ctx) }); err != nil {
		d.shutdown()
		return nil, err
	}
	if err := task.StartConsumer(d.taskMgr, "notifier", d.notifier.ch, d.notifier.dispatch); err != nil {
		d.shutdown()
		return nil, err
	}

	l.Info("driver started", "baud_rate", cfg.baudRate, "retries", cfg.retries, "confirm_timeout", cfg.confirmTimeout)

	if cfg.eventReporting {
		if err := d.EnableEventReporting(); err != nil {
			d.shutdown()
			return nil, err
		}
	}

	return d, nil
}

// Close stops the reader and notifier, waits at most the close timeout for
// them, then closes the port. It is safe to call more than once.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.shutdown()
		d.logger.Info("driver closed")
	})

	return d.closeErr
}

func (d *Driver) shutdown() error {
	d.taskMgr.Stop()
	if !d.taskMgr.WaitTimeout(d.cfg.closeTimeout) {
		d.logger.Warn("background tasks did not stop in time", "timeout", d.cfg.closeTimeout, "tasks", d.taskMgr.Count())
	}

	return d.link.close()
}

// Closed reports whether Close has been called.
func (d *Driver) Closed() bool {
	return d.ctx.Err() != nil
}

// Err returns ErrDriverClosed after Close, an error wrapping ErrConnection
// once the port has been lost, and nil while the driver is usable.
func (d *Driver) Err() error {
	if d.Closed() {
		return ErrDriverClosed
	}

	return d.link.lostErr()
}

// ConnectionLost returns a channel closed when the reader stops because the
// port went away. The driver does not reconnect; callers close it and open a
// new one.
func (d *Driver) ConnectionLost() <-chan struct{} {
	return d.link.lostCh
}

// Subscribe registers h for every state change reported by the controller and
// returns a function that removes it. Handlers run on one goroutine; while
// they lag by more than the notify buffer size, further changes are dropped.
func (d *Driver) Subscribe(h StateHandler) (unsubscribe func()) {
	return d.notifier.subscribe(h)
}

// Metrics returns the live counters of the driver.
func (d *Driver) Metrics() *Metrics {
	return d.metrics
}

// Config returns the driver configuration.
func (d *Driver) Config() *Config {
	return d.cfg
}

// FunctionLog enables or disables event reporting for one function type.
func (d *Driver) FunctionLog(fn Function, enable bool) error {
	var flag byte
	if enable {
		flag = 1
	}

	frame, err := Compose(CmdLog, byte(fn), flag)
	if err != nil {
		return err
	}

	if err := d.link.transmit(d.ctx, frame); err != nil {
		return err
	}
	d.logger.Debug("event reporting changed", "function", fn.String(), "enabled", enable)

	return nil
}

// EnableEventReporting enables event reporting for every function type the
// controller reports over the serial link.
func (d *Driver) EnableEventReporting() error {
	for i, fn := range reportedFunctions {
		if i > 0 {
			if err := pool.Sleep(d.ctx, logCommandGap); err != nil {
				return ErrDriverClosed
			}
		}
		if err := d.FunctionLog(fn, true); err != nil {
			return err
		}
	}
	d.logger.Info("event reporting enabled", "functions", len(reportedFunctions))

	return nil
}
