package tinygoble

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/xblink/internal/radio"
	"tinygo.org/x/bluetooth"
)

type link struct {
	dev     bluetooth.Device
	peer    radio.Peer
	adapter *Adapter
	key     string

	mu   sync.Mutex
	mtu  int
	once sync.Once
	gone chan struct{}
}

func newLink(dev bluetooth.Device, peer radio.Peer, adapter *Adapter, key string) *link {
	return &link{
		dev:     dev,
		peer:    peer,
		adapter: adapter,
		key:     key,
		mtu:     radio.DefaultMTU,
		gone:    make(chan struct{}),
	}
}

func (l *link) markGone() {
	l.once.Do(func() { close(l.gone) })
}

func (l *link) Peer() radio.Peer {
	return l.peer
}

func (l *link) State() radio.LinkState {
	select {
	case <-l.gone:
		return radio.LinkDisconnected
	default:
		return radio.LinkConnected
	}
}

// MTU returns the last MTU reported by a discovered characteristic, or the
// LE default before that.
func (l *link) MTU() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mtu
}

func (l *link) setMTU(mtu int) {
	if mtu <= 0 {
		return
	}
	l.mu.Lock()
	l.mtu = mtu
	l.mu.Unlock()
}

// RequestMTU is not exposed by tinygo; the stack negotiates on its own.
func (l *link) RequestMTU(context.Context, int) (int, error) {
	return 0, fmt.Errorf("MTU exchange: %w", radio.ErrUnsupported)
}

// RequestLowLatency is applied at connect time through ConnectionParams.
func (l *link) RequestLowLatency(context.Context) error {
	return fmt.Errorf("connection interval after connect: %w", radio.ErrUnsupported)
}

func (l *link) DiscoverService(ctx context.Context, uuid string) (radio.Service, error) {
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", uuid, err)
	}

	svcs, err := awaitValue(ctx, "discover services", func() ([]bluetooth.DeviceService, error) {
		return l.dev.DiscoverServices([]bluetooth.UUID{u})
	})
	if err != nil {
		return nil, err
	}
	for i := range svcs {
		if svcs[i].UUID() == u {
			return &service{link: l, svc: svcs[i], uuid: uuid}, nil
		}
	}
	return nil, &radio.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

func (l *link) Disconnect(ctx context.Context) error {
	if l.State() == radio.LinkDisconnected {
		return nil
	}
	if err := await(ctx, "disconnect", l.dev.Disconnect); err != nil {
		return err
	}
	l.adapter.forget(l.key, l)
	l.markGone()
	return nil
}

func (l *link) Disconnected() <-chan struct{} {
	return l.gone
}

var _ radio.Link = (*link)(nil)
