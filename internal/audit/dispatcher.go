package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls dispatcher buffering. Logger receives sink panics; nil
// discards them.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	Logger     logrus.FieldLogger
}

// Dispatcher relays events to a sink on its own goroutine so that session
// writes never wait on audit I/O.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	logger     logrus.FieldLogger
	now        func() time.Time

	queue   chan Event
	stop    chan struct{}
	stopped chan struct{}

	closing  atomic.Bool
	dropped  atomic.Uint64
	panicked atomic.Uint64
	once     sync.Once
}

// NewDispatcher starts the relay goroutine. It returns nil when auditing is
// disabled; every method is a no-op on a nil dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		logger:     cfg.Logger,
		now:        time.Now,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go d.relay()
	return d
}

func (d *Dispatcher) relay() {
	defer close(d.stopped)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain hands over what was queued before Close, in order.
func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			if d.logger != nil {
				d.logger.WithField("panic", r).WithField("event", ev.EventType).Error("audit: sink panicked")
			}
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit queues ev and reports whether it was accepted. A zero Timestamp is set
// to the time of the call. With DropIfFull a full queue drops the event;
// otherwise Emit waits for room, ctx or Close.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) bool {
	if d == nil || d.closing.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now().UTC()
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
			return true
		case <-d.stop:
			return false
		default:
			d.dropped.Add(1)
			return false
		}
	}

	select {
	case d.queue <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-d.stop:
		return false
	}
}

// Close stops accepting events and waits until queued ones reach the sink.
// It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		<-d.stopped
	})
}

// Dropped counts events lost to a full queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Panicked counts deliveries aborted by a panicking sink.
func (d *Dispatcher) Panicked() uint64 {
	if d == nil {
		return 0
	}
	return d.panicked.Load()
}
