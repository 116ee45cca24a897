package progress

import (
	"sync/atomic"
	"time"
)

// Phase is the lifecycle stage of a transfer.
type Phase string

const (
	PhaseQueued        Phase = "queued"
	PhaseDownloading   Phase = "downloading"
	PhaseDecompressing Phase = "decompressing"
	PhaseDone          Phase = "done"
	PhaseFailed        Phase = "failed"
)

// Terminal reports whether no further events follow for the task.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Event is a progress update for one transfer task.
type Event struct {
	TaskID string
	Name   string
	Bytes  int64 // bytes processed so far in the current phase
	Total  int64 // expected bytes for the phase, 0 if unknown
	Phase  Phase
}

// Sink consumes progress events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) {
	f(e)
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard drops every event.
var Discard Sink = discard{}

// Multi fans events out to several sinks.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Publish(e)
		}
	})
}

// ChannelSink buffers events for a consumer. When the buffer is full new
// events are dropped and counted.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannelSink returns a sink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, size)}
}

// Publish enqueues e without blocking.
func (s *ChannelSink) Publish(e Event) {
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the buffer.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Throttle admits at most one update per interval. It is not safe for
// concurrent use; each transfer owns its own.
type Throttle struct {
	Interval time.Duration
	last     time.Time
}

// Allow reports whether an update at now is due, and records it if so.
func (t *Throttle) Allow(now time.Time) bool {
	if !t.last.IsZero() && now.Sub(t.last) < t.Interval {
		return false
	}
	t.last = now
	return true
}
