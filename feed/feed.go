package feed

import (
	"log/slog"

	"github.com/onnwee/multichat/telemetry"
)

// Feed buffers events from all producers into one channel consumed by the
// router. Emit never blocks a producer: when the buffer is full the event is
// dropped and counted.
type Feed struct {
	out chan Event
}

// New builds a feed with the given buffer size.
func New(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 256
	}
	return &Feed{out: make(chan Event, buffer)}
}

// Emit enqueues ev for dispatch, dropping on overflow.
func (f *Feed) Emit(ev Event) {
	select {
	case f.out <- ev:
	default:
		telemetry.CountDropped()
		slog.Warn("feed buffer full, dropping event", slog.String("kind", ev.Kind()), slog.String("channel_id", ev.ChannelID()))
	}
}

// Events is the single consumer-side channel.
func (f *Feed) Events() <-chan Event {
	return f.out
}
