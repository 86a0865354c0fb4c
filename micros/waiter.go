package micros

import (
	"context"
	"time"

	"github.com/go-micros/micros/internal/queue"
)

// matchFunc selects the frame a waiter is looking for.
type matchFunc func(Frame) bool

// waitFor pops frames from q until one satisfies match or timeout expires.
//
// Frames that do not match are held in an ordered spill list and pushed back
// to the head of q, in their original order, when the wait ends. A nil match
// accepts the first frame.
func waitFor(ctx context.Context, q *queue.Bounded[Frame], timeout time.Duration, match matchFunc) (Frame, bool) {
	var spill []Frame
	defer func() {
		q.PushFront(spill...)
	}()

	deadline := time.Now().Add(timeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return Frame{}, false
		}

		f, ok := q.Pop(ctx, remain)
		if !ok {
			return Frame{}, false
		}

		if match == nil || match(f) {
			return f, true
		}
		spill = append(spill, f)
	}
}

// matchAddress accepts state frames for addr received at or after since.
func matchAddress(addr Address, since time.Time) matchFunc {
	return func(f Frame) bool {
		if f.ReceivedAt().Before(since) {
			return false
		}
		got, _, ok := f.State()

		return ok && got == addr
	}
}
