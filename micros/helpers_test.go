package micros

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-micros/micros/logger"
)

// newTestConfig creates a Config with short timings suitable for tests.
func newTestConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()

	defaults := []Option{
		WithReadTimeout(20 * time.Millisecond),
		WithConfirmTimeout(100 * time.Millisecond),
		WithAckTimeout(10 * time.Millisecond),
		WithRetryDelay(5*time.Millisecond, time.Millisecond),
		WithSendGap(time.Millisecond),
		WithCloseTimeout(500 * time.Millisecond),
		WithEventReporting(false),
		WithLogger(logger.GetLogger()),
	}

	cfg, err := NewConfig("pipe", append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

// responder returns the raw frames the simulated controller writes back for a request.
type responder func(req Frame) [][]byte

// controllerSim is the remote end of a net.Pipe playing the controller.
type controllerSim struct {
	t       *testing.T
	conn    net.Conn
	respond responder

	mu     sync.Mutex
	frames []Frame
}

// newTestDriver starts a driver on the local end of a net.Pipe and a
// controller simulation on the remote end.
func newTestDriver(t *testing.T, respond responder, opts ...Option) (*Driver, *controllerSim) {
	t.Helper()

	local, remote := net.Pipe()
	sim := &controllerSim{t: t, conn: remote, respond: respond}
	go sim.run()

	cfg := newTestConfig(t, opts...)
	drv, err := NewDriver(cfg, NewConnPort(local, cfg.ReadTimeout(), time.Second))
	if err != nil {
		_ = remote.Close()
		t.Fatalf("newTestDriver: %v", err)
	}

	t.Cleanup(func() {
		_ = drv.Close()
		_ = remote.Close()
	})

	return drv, sim
}

func (s *controllerSim) run() {
	hdr := make([]byte, 2)
	for {
		if _, err := io.ReadFull(s.conn, hdr[:1]); err != nil {
			return
		}
		if hdr[0] != StartByte {
			continue
		}
		if _, err := io.ReadFull(s.conn, hdr[1:]); err != nil {
			return
		}

		rest := make([]byte, int(hdr[1])-1)
		if _, err := io.ReadFull(s.conn, rest); err != nil {
			return
		}

		f, err := ParseFrame(append(hdr[:2:2], rest...), time.Now())
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.frames = append(s.frames, f)
		s.mu.Unlock()

		if s.respond == nil {
			continue
		}
		for _, raw := range s.respond(f) {
			if _, err := s.conn.Write(raw); err != nil {
				return
			}
		}
	}
}

// send writes raw bytes to the driver as if the controller sent them.
func (s *controllerSim) send(data []byte) {
	s.t.Helper()

	mustWrite(s.t, s.conn, data)
}

// received returns the frames with command cmd received so far.
func (s *controllerSim) received(cmd byte) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Frame
	for _, f := range s.frames {
		if f.Command() == cmd {
			out = append(out, f)
		}
	}

	return out
}

func (s *controllerSim) count(cmd byte) int {
	return len(s.received(cmd))
}

// mustCompose composes a frame and returns its raw bytes.
func mustCompose(t *testing.T, cmd byte, payload ...byte) []byte {
	t.Helper()

	f, err := Compose(cmd, payload...)
	if err != nil {
		t.Fatalf("mustCompose: %v", err)
	}

	return f.Bytes()
}

func ackFrame(t *testing.T) []byte {
	return mustCompose(t, CmdAck)
}

func eventFrame(t *testing.T, addr Address, state byte) []byte {
	return mustCompose(t, CmdEvent, byte(addr.Function), addr.Number, state)
}

func getReplyFrame(t *testing.T, addr Address, state byte) []byte {
	return mustCompose(t, CmdGet, byte(addr.Function), addr.Number, state)
}

// requestAddr returns the address and state byte of a SET or GET request.
func requestAddr(req Frame) (Address, byte) {
	p := req.Payload()
	addr := Address{Function: Function(p[0]), Number: p[1]}
	if len(p) > 2 {
		return addr, p[2]
	}

	return addr, 0
}

// statefulController answers like a healthy controller: SET is acked, applied
// and reported as an event; GET is answered with the stored state.
type statefulController struct {
	t      *testing.T
	mu     sync.Mutex
	states map[Address]byte
}

func newStatefulController(t *testing.T) *statefulController {
	return &statefulController{t: t, states: make(map[Address]byte)}
}

func (c *statefulController) set(addr Address, st byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states[addr] = st
}

func (c *statefulController) state(addr Address) (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[addr]

	return st, ok
}

func (c *statefulController) respond(req Frame) [][]byte {
	switch req.Command() {
	case CmdSet:
		addr, st := requestAddr(req)
		c.set(addr, st)

		return [][]byte{ackFrame(c.t), eventFrame(c.t, addr, st)}
	case CmdGet:
		addr, _ := requestAddr(req)
		st, _ := c.state(addr)

		return [][]byte{getReplyFrame(c.t, addr, st)}
	default:
		return nil
	}
}

// mustWrite writes data to w, failing the test on error.
func mustWrite(t *testing.T, w io.Writer, data []byte) {
	t.Helper()

	_, err := w.Write(data)
	if err != nil {
		t.Fatalf("mustWrite: %v", err)
	}
}
