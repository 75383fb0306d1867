// Package bytestream reassembles inbound notification fragments into a single
// ordered byte stream for a blocking reader.
package bytestream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Write once the buffer has been closed.
	ErrClosed = errors.New("byte stream closed")
	// ErrTimeout is returned by timed reads whose deadline passed with no data.
	ErrTimeout = errors.New("byte stream read timeout")
)

// Buffer is an unbounded FIFO of bytes. Any number of producers may Write while
// any number of consumers Read; bytes come out exactly once, in append order.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
	// ready is closed and replaced every time the buffer gains data or closes.
	ready chan struct{}
}

// New creates an empty, open Buffer.
func New() *Buffer {
	return &Buffer{ready: make(chan struct{})}
}

// Write appends a copy of p and wakes blocked readers.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	b.data = append(b.data, p...)
	b.broadcastLocked()
	return len(p), nil
}

// Read blocks until at least one byte is buffered or the buffer is closed.
// It never waits on its own; a closed and drained buffer returns io.EOF.
func (b *Buffer) Read(p []byte) (int, error) {
	return b.ReadContext(context.Background(), p)
}

// ReadTimeout is Read bounded by d. It returns ErrTimeout when d elapses
// before any byte arrives.
func (b *Buffer) ReadTimeout(p []byte, d time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return b.ReadContext(ctx, p)
}

// ReadContext is Read bounded by ctx. A ctx deadline maps to ErrTimeout, an
// explicit cancel to ctx.Err().
func (b *Buffer) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		b.mu.Lock()
		if len(b.data) > 0 {
			n := copy(p, b.data)
			b.consumeLocked(n)
			b.mu.Unlock()
			return n, nil
		}
		if b.closed {
			b.mu.Unlock()
			return 0, io.EOF
		}
		ready := b.ready
		b.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, ErrTimeout
			}
			return 0, ctx.Err()
		}
	}
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Closed reports whether Close has been called since the last Reset.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close stops accepting writes and releases blocked readers. Bytes already
// buffered remain readable. Closing twice is a no-op.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.broadcastLocked()
	return nil
}

// Reset drops buffered bytes and re-opens the buffer.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = nil
	b.closed = false
	b.broadcastLocked()
}

func (b *Buffer) broadcastLocked() {
	close(b.ready)
	b.ready = make(chan struct{})
}

func (b *Buffer) consumeLocked(n int) {
	if n == len(b.data) {
		// reuse the backing array once fully drained
		b.data = b.data[:0]
		return
	}
	b.data = b.data[n:]
}

var _ io.ReadWriteCloser = (*Buffer)(nil)
