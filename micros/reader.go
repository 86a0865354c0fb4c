package micros

import (
	"context"
	"fmt"
	"time"

	"github.com/go-micros/micros/internal/pool"
	"github.com/go-micros/micros/internal/queue"
	"github.com/go-micros/micros/logger"
)

// frameReader resynchronizes on the start byte, validates frames and routes
// them to the ack, event and GET reply queues. It is the only producer of
// those queues and never blocks on them.
type frameReader struct {
	link    *link
	logger  logger.Logger
	metrics *Metrics

	ackQ   *queue.Bounded[Frame]
	eventQ *queue.Bounded[Frame]
	getQ   *queue.Bounded[Frame]

	// onEvent receives every event frame after it is queued.
	onEvent func(Frame)

	buf       [MaxFrameLength]byte
	errStreak int
}

// readOnce runs one iteration of the reader loop. It returns false when the
// reader should stop.
func (r *frameReader) readOnce(ctx context.Context) bool {
	b, ok, err := r.link.readByte()
	if err != nil {
		return r.handleReadError(ctx, err)
	}
	r.errStreak = 0
	if !ok {
		return true
	}

	if b != StartByte {
		if b != '\r' && b != '\n' {
			r.metrics.incBytesDiscarded()
			r.logger.Debug("resync: discarded byte", "byte", fmt.Sprintf("0x%02X", b))
		}

		return true
	}

	ln, ok, err := r.link.readByte()
	if err != nil {
		return r.handleReadError(ctx, err)
	}
	if !ok {
		r.metrics.incFramesInvalid()
		r.logger.Debug("incomplete frame, missing length byte")

		return true
	}

	if ln < MinLengthByte || ln > MaxLengthByte {
		r.metrics.incFramesInvalid()
		r.logger.Debug("invalid frame length, discarding", "length", int(ln))

		return true
	}

	total := int(ln) + 1
	r.buf[0] = StartByte
	r.buf[1] = ln

	ok, err = r.link.readFull(ctx, r.buf[2:total])
	if err != nil {
		return r.handleReadError(ctx, err)
	}
	if !ok {
		r.metrics.incFramesInvalid()
		r.logger.Debug("incomplete frame, discarding", "length", int(ln))

		return true
	}

	f, err := ParseFrame(r.buf[:total], time.Now())
	if err != nil {
		r.metrics.incFramesInvalid()
		r.logger.Debug("invalid frame, discarding", "frame", fmt.Sprintf("% X", r.buf[:total]), "error", err)

		return true
	}

	r.metrics.incFramesRecv()
	r.logger.Debug("RX", "frame", f.String())
	r.dispatch(f)

	return true
}

func (r *frameReader) dispatch(f Frame) {
	switch f.Class() {
	case ClassAck:
		r.enqueue(r.ackQ, f)
	case ClassEvent:
		r.enqueue(r.eventQ, f)
		if r.onEvent != nil {
			r.onEvent(f)
		}
	case ClassGetReply:
		r.enqueue(r.getQ, f)
	default:
		r.logger.Debug("ignored frame", "cmd", f.Command(), "frame", f.String())
	}
}

func (r *frameReader) enqueue(q *queue.Bounded[Frame], f Frame) {
	if q.TryPush(f) {
		return
	}

	r.metrics.incFramesDropped()
	r.logger.Warn("queue full, frame dropped", "queue", f.Class().String(), "frame", f.String())
}

// handleReadError stops the reader when the connection is gone. Other errors
// are logged once per streak and retried after a short backoff.
func (r *frameReader) handleReadError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	if isConnectionLost(err) {
		r.logger.Error("connection lost, reader stopped", "error", err)
		r.link.markLost(err)

		return false
	}

	if r.errStreak == 0 {
		r.logger.Error("port read failed", "error", err)
	} else {
		r.logger.Debug("port read failed", "error", err, "streak", r.errStreak)
	}
	r.errStreak++

	return pool.Sleep(ctx, readErrorBackoff) == nil
}
