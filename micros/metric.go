package micros

import (
	"sync/atomic"
)

// Metrics contains atomic counters for one driver.
// Each counter can be used as the value of a prometheus CounterFunc.
type Metrics struct {
	// FramesSent counts frames written to the port.
	FramesSent atomic.Uint64
	// FramesRecv counts valid frames assembled by the reader.
	FramesRecv atomic.Uint64
	// FramesInvalid counts frames rejected for length, checksum or a short read.
	FramesInvalid atomic.Uint64
	// FramesDropped counts valid frames dropped because their queue was full.
	FramesDropped atomic.Uint64
	// BytesDiscarded counts non-start bytes skipped while resynchronizing, CR and LF excluded.
	BytesDiscarded atomic.Uint64

	// SetAttempts counts SET frames sent by the confirmation engine.
	SetAttempts atomic.Uint64
	// SetConfirmed counts confirmed state changes.
	SetConfirmed atomic.Uint64
	// SetFailed counts state changes that failed after all retries or on a transport error.
	SetFailed atomic.Uint64
	// GetUnanswered counts GET requests that received no reply.
	GetUnanswered atomic.Uint64

	// NotifyDropped counts state changes dropped because the notification buffer was full.
	NotifyDropped atomic.Uint64
}

func (m *Metrics) incFramesSent()     { m.FramesSent.Add(1) }
func (m *Metrics) incFramesRecv()     { m.FramesRecv.Add(1) }
func (m *Metrics) incFramesInvalid()  { m.FramesInvalid.Add(1) }
func (m *Metrics) incFramesDropped()  { m.FramesDropped.Add(1) }
func (m *Metrics) incBytesDiscarded() { m.BytesDiscarded.Add(1) }
func (m *Metrics) incSetAttempts()    { m.SetAttempts.Add(1) }
func (m *Metrics) incSetConfirmed()   { m.SetConfirmed.Add(1) }
func (m *Metrics) incSetFailed()      { m.SetFailed.Add(1) }
func (m *Metrics) incGetUnanswered()  { m.GetUnanswered.Add(1) }
func (m *Metrics) incNotifyDropped()  { m.NotifyDropped.Add(1) }
