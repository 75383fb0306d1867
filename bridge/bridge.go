// Package bridge exposes an open transport channel as a local serial port:
// bytes typed into the PTY slave are written to the peripheral, and the
// peripheral's byte stream is copied back to the slave.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/xblink/internal/groutine"
	"github.com/srg/xblink/internal/ptyio"
)

// ErrStreamEnded is returned by Run when the channel's inbound stream ends,
// which happens when the channel is closed or the link drops.
var ErrStreamEnded = errors.New("channel stream ended")

// Channel is the part of transport.Channel the bridge drives.
type Channel interface {
	io.Writer
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// Terminal is the local side of the bridge.
type Terminal interface {
	io.WriteCloser
	TTYName() string
	SetReadCallback(cb ptyio.ReadCallback)
}

// TerminalFactory opens the local terminal.
// This is a variable so that it can be overridden in tests.
var TerminalFactory = func(opts ptyio.Options) (Terminal, error) {
	return ptyio.Open(opts)
}

// Options configures Run.
type Options struct {
	ReadCap  int    // PTY ring for bytes typed into the slave (0 = default)
	WriteCap int    // PTY ring for bytes going to the slave (0 = default)
	Symlink  string // optional stable path pointing at the slave, e.g. /tmp/xbee
	Logger   *logrus.Logger
}

// Info describes a running bridge.
type Info struct {
	TTYName string
	Symlink string
}

// Stats counts bytes moved in each direction.
type Stats struct {
	ToPeer   uint64
	FromPeer uint64
}

type pump struct {
	ch     Channel
	term   Terminal
	logger *logrus.Logger
	cancel context.CancelCauseFunc

	toPeer   atomic.Uint64
	fromPeer atomic.Uint64
	// serialises writes so terminal input reaches the peer in order
	writeMu sync.Mutex
}

// Run bridges ch to a new PTY until ctx is done, the channel stream ends or a
// write to the peer fails. ready, if set, is called once the PTY exists.
// Cancelling ctx is a clean stop and returns nil.
func Run(ctx context.Context, ch Channel, opts Options, ready func(Info)) (Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	term, err := TerminalFactory(ptyio.Options{
		ReadCap:  opts.ReadCap,
		WriteCap: opts.WriteCap,
		Logger:   logger,
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open PTY: %w", err)
	}
	defer func() {
		if err := term.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close PTY")
		}
	}()

	info := Info{TTYName: term.TTYName()}
	if opts.Symlink != "" {
		if err := os.Symlink(info.TTYName, opts.Symlink); err != nil {
			return Stats{}, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.Symlink, info.TTYName, err)
		}
		info.Symlink = opts.Symlink
		defer func() {
			if err := os.Remove(opts.Symlink); err != nil {
				logger.WithError(err).WithField("symlink", opts.Symlink).Warn("Failed to remove tty symlink")
			}
		}()
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	p := &pump{ch: ch, term: term, logger: logger, cancel: cancel}
	term.SetReadCallback(p.toPeerCallback)
	defer term.SetReadCallback(nil)

	logger.WithFields(logrus.Fields{
		"tty":     info.TTYName,
		"symlink": info.Symlink,
	}).Info("Bridge running")
	if ready != nil {
		ready(info)
	}

	<-groutine.Go(runCtx, "bridge-from-peer", p.fromPeerLoop)

	stats := Stats{ToPeer: p.toPeer.Load(), FromPeer: p.fromPeer.Load()}
	cause := context.Cause(runCtx)
	if ctx.Err() != nil && errors.Is(cause, ctx.Err()) {
		return stats, nil
	}
	return stats, cause
}

// toPeerCallback runs on the PTY dispatcher goroutine.
func (p *pump) toPeerCallback(data []byte) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	n, err := p.ch.Write(data)
	p.toPeer.Add(uint64(n))
	if err != nil {
		p.logger.WithError(err).WithField("bytes", len(data)).Warn("Bridge write to peer failed")
		p.cancel(fmt.Errorf("write to peer: %w", err))
	}
}

func (p *pump) fromPeerLoop(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := p.ch.ReadContext(ctx, buf)
		if n > 0 {
			w, _ := p.term.Write(buf[:n])
			p.fromPeer.Add(uint64(w))
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			p.cancel(ErrStreamEnded)
			return
		case ctx.Err() != nil:
			return
		default:
			p.cancel(fmt.Errorf("read from peer: %w", err))
			return
		}
	}
}
