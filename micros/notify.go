package micros

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/go-micros/micros/logger"
)

// StateChange is delivered to subscribers for every event frame.
type StateChange struct {
	Address Address   `json:"address"`
	State   byte      `json:"state"`
	At      time.Time `json:"at"`
}

// StateHandler receives state changes on the driver's notifier goroutine.
// Handlers should return quickly; a slow handler delays the ones after it.
type StateHandler func(StateChange)

// notifier fans event frames out to subscribers off the reader goroutine.
type notifier struct {
	handlers *xsync.MapOf[uint64, StateHandler]
	nextID   atomic.Uint64
	ch       chan StateChange
	logger   logger.Logger
	metrics  *Metrics
}

func newNotifier(size int, l logger.Logger, m *Metrics) *notifier {
	return &notifier{
		handlers: xsync.NewMapOf[uint64, StateHandler](),
		ch:       make(chan StateChange, size),
		logger:   l,
		metrics:  m,
	}
}

// publish queues the state carried by f without blocking.
func (n *notifier) publish(f Frame) {
	addr, st, ok := f.State()
	if !ok {
		return
	}

	change := StateChange{Address: addr, State: st, At: f.ReceivedAt()}
	select {
	case n.ch <- change:
	default:
		n.metrics.incNotifyDropped()
		n.logger.Warn("notification buffer full, state change dropped", "addr", addr.String(), "state", st)
	}
}

func (n *notifier) subscribe(h StateHandler) func() {
	id := n.nextID.Add(1)
	n.handlers.Store(id, h)

	return func() {
		n.handlers.Delete(id)
	}
}

// dispatch calls every handler with change. It always returns true so the
// consumer task keeps running.
func (n *notifier) dispatch(change StateChange) bool {
	n.handlers.Range(func(id uint64, h StateHandler) bool {
		n.call(id, h, change)
		return true
	})

	return true
}

func (n *notifier) call(id uint64, h StateHandler, change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("panic in state handler", "subscriber", id, "panic", r)
		}
	}()

	h(change)
}
