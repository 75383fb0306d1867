// Package ptyio opens a pseudo-terminal pair and services the master side
// from background loops, so the slave (/dev/pts/N, /dev/ttysNNN) behaves like
// a serial port for any program that opens it.
//
// Bytes written with Write are queued in a ring and copied to the master by
// a writer loop. Bytes the slave's user types are read into a second ring by
// a reader loop and handed to the ReadCallback on a dispatcher goroutine.
// Both rings drop on overflow; Stats reports how much.
//
//	p, err := ptyio.Open(ptyio.Options{ReadCap: 4096, WriteCap: 4096, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	p.SetReadCallback(func(data []byte) { ch.Write(data) })
//	fmt.Println("serial port:", p.TTYName())
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/xblink/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	DefaultReadCap     = 4096
	DefaultWriteCap    = 4096
	DefaultPollTimeout = 50 * time.Millisecond

	chunkSize = 4096
)

// ReadCallback receives bytes typed into the slave. It runs on the dispatcher
// goroutine and must not retain data.
type ReadCallback func(data []byte)

// Options configures Open. Zero values take the package defaults.
type Options struct {
	ReadCap  int // ring for bytes coming from the slave
	WriteCap int // ring for bytes going to the slave
	// PollTimeout bounds how long the loops sleep before noticing Close.
	PollTimeout time.Duration
	Logger      *logrus.Logger
	// OnError is called at most once per loop when it stops on an I/O error.
	OnError func(err error)
}

// Stats are point-in-time counters.
type Stats struct {
	ReadQueued   int
	WriteQueued  int
	ReadDropped  uint64
	WriteDropped uint64
	ReadTotal    uint64
	WriteTotal   uint64
}

// PTY is an open pseudo-terminal. It is safe for concurrent use.
type PTY struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	masterFd    int32 // captured before the loops start; master is closed only after they exit
	ttyName     string
	pollTimeout time.Duration
	onError     func(error)
	readErr     sync.Once
	writeErr    sync.Once

	toSlave   *ringbuffer.RingBuffer
	fromSlave *ringbuffer.RingBuffer
	pending   chan struct{}
	cb        atomic.Pointer[ReadCallback]

	cancel context.CancelFunc
	loops  []<-chan struct{}
	closed atomic.Bool

	readDropped  atomic.Uint64
	writeDropped atomic.Uint64
	readTotal    atomic.Uint64
	writeTotal   atomic.Uint64
}

// Open allocates a PTY pair, puts the slave in raw mode and starts the loops.
func Open(opts Options) (*PTY, error) {
	if opts.ReadCap <= 0 {
		opts.ReadCap = DefaultReadCap
	}
	if opts.WriteCap <= 0 {
		opts.WriteCap = DefaultWriteCap
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PTY{
		logger:      logger,
		master:      master,
		slave:       slave,
		masterFd:    int32(master.Fd()),
		ttyName:     slave.Name(),
		pollTimeout: opts.PollTimeout,
		onError:     opts.OnError,
		toSlave:     ringbuffer.New(opts.WriteCap),
		fromSlave:   ringbuffer.New(opts.ReadCap),
		pending:     make(chan struct{}, 1),
		cancel:      cancel,
	}

	p.loops = []<-chan struct{}{
		groutine.Go(ctx, "pty-reader", p.readLoop),
		groutine.Go(ctx, "pty-writer", p.writeLoop),
		groutine.Go(ctx, "pty-dispatcher", p.dispatchLoop),
	}

	logger.WithField("tty", p.ttyName).Debug("PTY opened")
	return p, nil
}

// TTYName returns the slave device path.
func (p *PTY) TTYName() string {
	return p.ttyName
}

// Write queues data for the slave without blocking. When the ring is full the
// excess is dropped and the returned count is short.
func (p *PTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := p.toSlave.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return n, err
	}
	if n < len(data) {
		p.writeDropped.Add(uint64(len(data) - n))
		p.logger.WithFields(logrus.Fields{
			"queued":  n,
			"dropped": len(data) - n,
		}).Warn("PTY write ring full")
	}
	return n, nil
}

// SetReadCallback installs cb, or removes it when nil. Bytes already queued
// are delivered to the new callback.
func (p *PTY) SetReadCallback(cb ReadCallback) {
	if p.closed.Load() {
		return
	}
	if cb == nil {
		p.cb.Store(nil)
		return
	}
	p.cb.Store(&cb)
	p.signal()
}

func (p *PTY) Stats() Stats {
	return Stats{
		ReadQueued:   p.fromSlave.Length(),
		WriteQueued:  p.toSlave.Length(),
		ReadDropped:  p.readDropped.Load(),
		WriteDropped: p.writeDropped.Load(),
		ReadTotal:    p.readTotal.Load(),
		WriteTotal:   p.writeTotal.Load(),
	}
}

// Close stops the loops, waits for them to exit and then releases both
// descriptors. It is idempotent.
func (p *PTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	deadline := time.After(3*p.pollTimeout + time.Second)
wait:
	for _, done := range p.loops {
		select {
		case <-done:
		case <-deadline:
			p.logger.WithField("tty", p.ttyName).Warn("PTY loops did not stop in time")
			break wait
		}
	}

	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY master: %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY slave %s: %w", p.ttyName, err))
	}
	p.logger.WithField("tty", p.ttyName).Debug("PTY closed")
	return errors.Join(errs...)
}

func (p *PTY) signal() {
	select {
	case p.pending <- struct{}{}:
	default:
	}
}

func (p *PTY) fail(once *sync.Once, loop string, err error) {
	p.logger.WithError(err).Warnf("PTY %s stopped", loop)
	if p.onError != nil {
		once.Do(func() { p.onError(fmt.Errorf("pty %s: %w", loop, err)) })
	}
}

// readLoop moves bytes from the master into fromSlave.
func (p *PTY) readLoop(ctx context.Context) {
	fds := []unix.PollFd{{Fd: p.masterFd, Events: unix.POLLIN}}
	buf := make([]byte, chunkSize)
	timeout := int(p.pollTimeout / time.Millisecond)

	for ctx.Err() == nil {
		ready, err := unix.Poll(fds, timeout)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Debug("PTY read poll")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := unix.Read(int(p.masterFd), buf)
		if n == 0 && err == nil {
			err = io.EOF
		}
		if n > 0 {
			queued, _ := p.fromSlave.Write(buf[:n])
			if queued < n {
				p.readDropped.Add(uint64(n - queued))
				p.logger.WithField("dropped", n-queued).Warn("PTY read ring full")
			}
			p.readTotal.Add(uint64(queued))
			if queued > 0 {
				p.signal()
			}
		}
		switch {
		case err == nil, errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case ctx.Err() != nil, errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
			return
		case errors.Is(err, io.EOF), errors.Is(err, syscall.EIO):
			// slave side hung up; Linux reports EIO until someone reopens it
			time.Sleep(p.pollTimeout)
		default:
			p.fail(&p.readErr, "reader", err)
			return
		}
	}
}

// writeLoop moves bytes from toSlave into the master.
func (p *PTY) writeLoop(ctx context.Context) {
	fds := []unix.PollFd{{Fd: p.masterFd, Events: unix.POLLOUT}}
	buf := make([]byte, chunkSize)
	timeout := int(p.pollTimeout / time.Millisecond)

	for ctx.Err() == nil {
		n, _ := p.toSlave.TryRead(buf)
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollTimeout):
			}
			continue
		}

		for off := 0; off < n; {
			w, err := unix.Write(int(p.masterFd), buf[off:n])
			if w < 0 {
				w = 0
			}
			off += w
			p.writeTotal.Add(uint64(w))
			switch {
			case err == nil, errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				_, _ = unix.Poll(fds, timeout)
				if ctx.Err() != nil {
					return
				}
			case ctx.Err() != nil, errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				p.fail(&p.writeErr, "writer", err)
				return
			}
		}
	}
}

// dispatchLoop hands queued slave input to the read callback.
func (p *PTY) dispatchLoop(ctx context.Context) {
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.pending:
		}

		for ctx.Err() == nil {
			cb := p.cb.Load()
			if cb == nil {
				break
			}
			n, _ := p.fromSlave.TryRead(buf)
			if n == 0 {
				break
			}
			p.deliver(*cb, buf[:n])
		}
	}
}

func (p *PTY) deliver(cb ReadCallback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("PTY read callback panicked: %v", r)
			p.cb.Store(nil)
			if p.onError != nil {
				p.readErr.Do(func() { p.onError(fmt.Errorf("pty read callback panic: %v", r)) })
			}
		}
	}()
	cb(data)
}

// openRaw opens a pair with a raw slave and a non-blocking master.
func openRaw() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(step string, cause error) (*os.File, *os.File, error) {
		name := slave.Name()
		return nil, nil, errors.Join(
			fmt.Errorf("failed to %s for %s: %w", step, name, cause),
			master.Close(),
			slave.Close(),
		)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return cleanup("set raw mode", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return cleanup("set non-blocking master", err)
	}
	return master, slave, nil
}
