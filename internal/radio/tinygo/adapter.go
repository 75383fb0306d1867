// Package tinygoble implements the radio interfaces on top of
// tinygo.org/x/bluetooth (BlueZ over D-Bus on Linux, CoreBluetooth on macOS,
// WinRT on Windows).
package tinygoble

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/xblink/internal/radio"
	"tinygo.org/x/bluetooth"
)

// Connection interval bounds requested for low latency links.
const (
	lowLatencyMinInterval = 7500 * time.Microsecond
	lowLatencyMaxInterval = 15 * time.Millisecond
)

// Adapter is a radio.Adapter backed by the tinygo default adapter.
type Adapter struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger

	enableOnce sync.Once
	enableErr  error

	mu    sync.Mutex
	links map[string]*link // keyed by addressKey
}

func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Adapter{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		links:   make(map[string]*link),
	}
}

// enable powers the adapter on once and installs the connect handler that
// routes platform disconnects to their links.
func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = fmt.Errorf("%w: %v", radio.ErrAdapterOff, err)
			return
		}
		a.adapter.SetConnectHandler(a.handleConnectEvent)
	})
	return a.enableErr
}

func (a *Adapter) handleConnectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	key := addressKey(device.Address.String())
	a.mu.Lock()
	l, ok := a.links[key]
	delete(a.links, key)
	a.mu.Unlock()

	if ok {
		a.logger.WithField("address", key).Debug("Platform reported disconnection")
		l.markGone()
	}
}

func (a *Adapter) register(key string, l *link) {
	a.mu.Lock()
	a.links[key] = l
	a.mu.Unlock()
}

func (a *Adapter) forget(key string, l *link) {
	a.mu.Lock()
	if a.links[key] == l {
		delete(a.links, key)
	}
	a.mu.Unlock()
}

// Connect establishes an LE link. The platform call has its own timeout, set
// from ctx's deadline; ctx cancellation is honoured by abandoning the call.
func (a *Adapter) Connect(ctx context.Context, peer radio.Peer, params radio.ConnectParams) (radio.Link, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	var addr bluetooth.Address
	addr.Set(peer.PlatformAddress())
	key := addressKey(peer.PlatformAddress())

	cp := connectionParams(ctx, params)
	a.logger.WithFields(logrus.Fields{
		"address":     key,
		"low_latency": params.LowLatency,
	}).Debug("Connecting to BLE device...")

	type result struct {
		dev bluetooth.Device
		err error
	}
	done := make(chan result, 1)
	go func() {
		dev, err := a.adapter.Connect(addr, cp)
		done <- result{dev: dev, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to connect to device with address %q: %w", key, r.err)
		}
		l := newLink(r.dev, peer, a, key)
		a.register(key, l)
		return l, nil
	case <-ctx.Done():
		go func() {
			// connect completed after we gave up on it
			if r := <-done; r.err == nil {
				_ = r.dev.Disconnect()
			}
		}()
		return nil, fmt.Errorf("connect to %q: %w", key, ctx.Err())
	}
}

// NewScanner returns a radio.Scanner using the same adapter.
func (a *Adapter) NewScanner() (radio.Scanner, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}
	return &scanner{adapter: a.adapter}, nil
}

// connectionParams maps the connect deadline and latency preference onto
// tinygo's connection parameters.
func connectionParams(ctx context.Context, params radio.ConnectParams) bluetooth.ConnectionParams {
	var cp bluetooth.ConnectionParams
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			cp.ConnectionTimeout = bluetooth.NewDuration(d)
		}
	}
	if params.LowLatency {
		cp.MinInterval = bluetooth.NewDuration(lowLatencyMinInterval)
		cp.MaxInterval = bluetooth.NewDuration(lowLatencyMaxInterval)
	}
	return cp
}

// addressKey normalises platform address strings for map lookups.
func addressKey(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

var _ radio.Adapter = (*Adapter)(nil)
