package rotation

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/orbiterhq/orbiter/engine/logging"
	"github.com/orbiterhq/orbiter/engine/types"
)

// emitter delivers rotation events to the sink on its own goroutine. The
// traffic path only does a non-blocking channel send: a slow or wedged sink
// costs dropped events, never a stalled selection.
type emitter struct {
	sink   RotationEventSink
	logger *logging.Logger

	ch      chan types.RotationEvent
	done    chan struct{}
	dropped atomic.Int64

	// mu orders sends against close so a late emit can never hit a
	// closed channel.
	mu     sync.Mutex
	closed bool
}

func newEmitter(sink RotationEventSink, logger *logging.Logger, buffer int) *emitter {
	if buffer <= 0 {
		buffer = 256
	}
	e := &emitter{
		sink:   sink,
		logger: logger,
		ch:     make(chan types.RotationEvent, buffer),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *emitter) run() {
	defer close(e.done)
	for ev := range e.ch {
		e.sink.Record(ev)
	}
}

func (e *emitter) emit(ev types.RotationEvent) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	select {
	case e.ch <- ev:
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		n := e.dropped.Add(1)
		e.logger.Warn("rotation event dropped, sink backlog full",
			zap.String("event_id", ev.ID),
			zap.Int64("dropped_total", n))
	}
}

// close drains queued events and waits for the delivery goroutine to exit.
func (e *emitter) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.ch)
	e.mu.Unlock()
	<-e.done
}
