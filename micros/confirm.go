package micros

import (
	"context"
	"fmt"
	"time"

	"github.com/go-micros/micros/internal/pool"
	"github.com/go-micros/micros/internal/queue"
)

// SetPhase is the step of a confirmed SET sequence, reported in debug logs.
type SetPhase uint8

const (
	PhaseIdle SetPhase = iota
	PhaseSending
	PhaseAwaitingAck
	PhaseAwaitingEvent
	PhaseAwaitingGetFallback
	PhaseConfirmed
	PhaseRetrying
	PhaseFailed
)

func (p SetPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseAwaitingAck:
		return "awaiting-ack"
	case PhaseAwaitingEvent:
		return "awaiting-event"
	case PhaseAwaitingGetFallback:
		return "awaiting-get-fallback"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseRetrying:
		return "retrying"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// toggleTarget resolves a toggle: an unknown state turns the device on, any
// non-OFF value turns it off and OFF turns it on.
func toggleTarget(current byte, known bool) byte {
	if !known || current == StateOff {
		return StateOn
	}

	return StateOff
}

// accepts reports whether captured confirms target. Dimmers confirm any
// non-zero level for a non-zero target since the controller may ramp.
func accepts(fn Function, target, captured byte) bool {
	if captured == target {
		return true
	}

	return fn == FunctionDimmer && target > 0 && captured > 0
}

// setWithConfirm sends SET for addr and waits for the controller to report the
// new state, retrying with linear backoff.
//
// Each attempt waits for an optional ack, then for a matching event and, only
// if no event for addr arrives, for a synchronous GET.
func (d *Driver) setWithConfirm(addr Address, target byte, toggle bool) error {
	ctx := d.ctx
	log := d.logger.With("addr", addr.String())

	log.Debug("set", "phase", PhaseIdle.String(), "target", target, "toggle", toggle)

	if toggle {
		current, known, err := d.get(addr)
		if err != nil {
			d.metrics.incSetFailed()
			return err
		}
		target = toggleTarget(current, known)
		log.Debug("toggle resolved", "current", current, "known", known, "target", target)
	}

	retries := d.cfg.retries
	for attempt := 1; attempt <= retries; attempt++ {
		d.metrics.incSetAttempts()
		log.Debug("set", "phase", PhaseSending.String(), "attempt", attempt, "retries", retries, "target", target)

		frame, err := Compose(CmdSet, byte(addr.Function), addr.Number, target)
		if err != nil {
			return err
		}

		since := time.Now()
		if err := d.link.transmit(ctx, frame); err != nil {
			d.metrics.incSetFailed()
			log.Debug("set", "phase", PhaseFailed.String(), "attempt", attempt, "error", err)

			return err
		}

		log.Debug("set", "phase", PhaseAwaitingAck.String(), "attempt", attempt)
		if _, ok := waitFor(ctx, d.ackQ, d.cfg.ackTimeout, nil); ok {
			log.Debug("ack received", "attempt", attempt)
		}

		log.Debug("set", "phase", PhaseAwaitingEvent.String(), "attempt", attempt)
		captured, ok := awaitState(ctx, d.eventQ, addr, since, d.cfg.confirmTimeout)
		via := "event"
		if !ok {
			log.Debug("set", "phase", PhaseAwaitingGetFallback.String(), "attempt", attempt)
			// frames from this attempt still count while the GET is pending
			captured, ok, err = d.query(addr, since)
			if err != nil {
				d.metrics.incSetFailed()
				return err
			}
			via = "get"
		}

		if ok && accepts(addr.Function, target, captured) {
			d.metrics.incSetConfirmed()
			log.Info("state change confirmed", "target", target, "state", captured, "via", via, "attempt", attempt)

			return nil
		}

		if ctx.Err() != nil {
			d.metrics.incSetFailed()
			return ErrDriverClosed
		}

		log.Debug("state change not confirmed", "target", target, "state", captured, "known", ok, "attempt", attempt)

		if attempt < retries {
			delay := d.cfg.backoff(attempt)
			log.Debug("set", "phase", PhaseRetrying.String(), "attempt", attempt, "delay", delay)
			if err := pool.Sleep(ctx, delay); err != nil {
				d.metrics.incSetFailed()
				return ErrDriverClosed
			}
		}
	}

	d.metrics.incSetFailed()
	log.Warn("state change not confirmed after retries", "phase", PhaseFailed.String(), "target", target, "retries", retries)

	return fmt.Errorf("%w: %s target %d after %d attempts", ErrNotConfirmed, addr, target, retries)
}

// get sends GET for addr and waits half the confirm timeout for a GET reply,
// then the other half for an event. known is false when neither arrives.
func (d *Driver) get(addr Address) (state byte, known bool, err error) {
	return d.query(addr, time.Time{})
}

// query is get accepting frames received at or after since. A zero since
// means the GET transmit time.
func (d *Driver) query(addr Address, since time.Time) (state byte, known bool, err error) {
	ctx := d.ctx

	frame, err := Compose(CmdGet, byte(addr.Function), addr.Number)
	if err != nil {
		return 0, false, err
	}

	if since.IsZero() {
		since = time.Now()
	}
	if err := d.link.transmit(ctx, frame); err != nil {
		return 0, false, err
	}

	half := d.cfg.confirmTimeout / 2
	if st, ok := awaitState(ctx, d.getQ, addr, since, half); ok {
		return st, true, nil
	}
	if st, ok := awaitState(ctx, d.eventQ, addr, since, d.cfg.confirmTimeout-half); ok {
		return st, true, nil
	}

	if ctx.Err() != nil {
		return 0, false, ErrDriverClosed
	}

	d.metrics.incGetUnanswered()
	d.logger.Debug("get unanswered", "addr", addr.String())

	return 0, false, nil
}

// triggerMood sends a single SET for a mood and waits briefly for an optional ack.
// Moods are triggers without queryable state, so the call succeeds once the frame is sent.
func (d *Driver) triggerMood(addr Address, target byte) error {
	frame, err := Compose(CmdSet, byte(addr.Function), addr.Number, target)
	if err != nil {
		return err
	}

	if err := d.link.transmit(d.ctx, frame); err != nil {
		return err
	}

	_, acked := waitFor(d.ctx, d.ackQ, d.cfg.MoodAckTimeout(), nil)
	d.logger.Info("mood triggered", "addr", addr.String(), "state", target, "ack", acked)

	return nil
}

func awaitState(ctx context.Context, q *queue.Bounded[Frame], addr Address, since time.Time, timeout time.Duration) (byte, bool) {
	f, ok := waitFor(ctx, q, timeout, matchAddress(addr, since))
	if !ok {
		return 0, false
	}
	_, st, _ := f.State()

	return st, true
}
