package audit

import (
	"context"
	"log/slog"
	"time"
)

// DefaultBufferSize is the event queue length used when none is given.
const DefaultBufferSize = 1024

const recordTimeout = 10 * time.Second

// Async queues events for a background worker so that a slow sink never
// delays a request. When the queue is full, events are dropped.
type Async struct {
	next   Sink
	queue  chan Event
	onDrop func()
	logger *slog.Logger
}

// NewAsync wraps next. onDrop, if non-nil, is called for every dropped event.
func NewAsync(next Sink, size int, onDrop func(), logger *slog.Logger) *Async {
	if size <= 0 {
		size = DefaultBufferSize
	}

	return &Async{
		next:   next,
		queue:  make(chan Event, size),
		onDrop: onDrop,
		logger: logger,
	}
}

// Record enqueues e without blocking.
func (a *Async) Record(_ context.Context, e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	select {
	case a.queue <- e:
	default:
		a.logger.Warn("audit queue full, dropping event", slog.String("event", string(e.Type)))

		if a.onDrop != nil {
			a.onDrop()
		}
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already queued and returns.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case e := <-a.queue:
			a.deliver(e)
		case <-ctx.Done():
			a.drain()
			return nil
		}
	}
}

func (a *Async) drain() {
	for {
		select {
		case e := <-a.queue:
			a.deliver(e)
		default:
			return
		}
	}
}

func (a *Async) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	a.next.Record(ctx, e)
}
