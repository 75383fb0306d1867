package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/xblink/internal/groutine"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventData reports that N bytes were appended to the inbound stream.
	EventData EventKind = iota
	// EventConnectionLost reports that the peer dropped an open link.
	EventConnectionLost
)

// Event is queued by the notification and monitor paths and handed to the
// registered callbacks from a single dispatcher goroutine, so callbacks never
// run on a platform BLE thread and never overlap each other.
type Event struct {
	Kind EventKind
	N    int
	Err  error
}

// dispatcher drains an overlapped ring into user callbacks.
type dispatcher struct {
	ring   mpmc.RichOverlappedRingBuffer[Event]
	wake   chan struct{}
	stop   chan struct{}
	done   <-chan struct{}
	logger *logrus.Logger

	mu     sync.RWMutex
	onData func(n int)
	onLost func(err error)

	running     atomic.Bool
	dispatched  atomic.Int64
	overwritten atomic.Int64
}

func newDispatcher(size uint32, logger *logrus.Logger) *dispatcher {
	return &dispatcher{
		ring:   mpmc.NewOverlappedRingBuffer[Event](size),
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

func (d *dispatcher) setOnData(fn func(n int)) {
	d.mu.Lock()
	d.onData = fn
	d.mu.Unlock()
}

func (d *dispatcher) setOnLost(fn func(err error)) {
	d.mu.Lock()
	d.onLost = fn
	d.mu.Unlock()
}

// start launches the dispatcher goroutine; a running dispatcher is left alone.
// After a shutdown the new goroutine first waits for the previous one to exit,
// so the two never drain the ring at the same time. start itself does not
// block, since it may be reached from a callback running on the old loop.
func (d *dispatcher) start(name string) {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	stop := make(chan struct{})
	prev := d.done
	d.stop = stop
	d.done = groutine.Go(context.Background(), name, func(ctx context.Context) {
		if prev != nil {
			<-prev
		}
		d.loop(ctx, stop)
	})
}

// shutdown asks the dispatcher to deliver whatever is queued and exit. It does
// not wait, since callbacks are allowed to close the channel themselves; the
// returned channel is closed once the goroutine is gone.
func (d *dispatcher) shutdown() <-chan struct{} {
	if !d.running.CompareAndSwap(true, false) {
		if d.done == nil {
			done := make(chan struct{})
			close(done)
			return done
		}
		return d.done
	}
	close(d.stop)
	return d.done
}

// emit queues ev without blocking. It is safe to call from any goroutine.
func (d *dispatcher) emit(ev Event) {
	overwrites, err := d.ring.EnqueueM(ev)
	if err != nil {
		d.logger.WithError(err).Warn("Event queue rejected event")
		return
	}
	if overwrites > 0 {
		d.overwritten.Add(int64(overwrites))
		d.logger.WithField("overwritten", overwrites).Debug("Event queue overflow, oldest events dropped")
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop(_ context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			d.drain()
			return
		case <-d.wake:
			d.drain()
		}
	}
}

func (d *dispatcher) drain() {
	for !d.ring.IsEmpty() {
		ev, err := d.ring.Dequeue()
		if err != nil {
			return
		}
		d.deliver(ev)
	}
}

func (d *dispatcher) deliver(ev Event) {
	d.mu.RLock()
	onData, onLost := d.onData, d.onLost
	d.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("panic", r).Error("Event callback panicked")
		}
	}()

	switch ev.Kind {
	case EventData:
		if onData != nil {
			onData(ev.N)
		}
	case EventConnectionLost:
		if onLost != nil {
			onLost(ev.Err)
		}
	}
	d.dispatched.Add(1)
}
