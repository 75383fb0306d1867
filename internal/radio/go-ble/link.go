package goble

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/xblink/internal/radio"
)

// link wraps a connected ble.Client.
type link struct {
	client ble.Client
	peer   radio.Peer
	logger *logrus.Logger
	mtu    atomic.Int32
}

func newLink(client ble.Client, peer radio.Peer, logger *logrus.Logger) *link {
	return &link{client: client, peer: peer, logger: logger}
}

func (l *link) Peer() radio.Peer {
	return l.peer
}

func (l *link) State() radio.LinkState {
	select {
	case <-l.client.Disconnected():
		return radio.LinkDisconnected
	default:
		return radio.LinkConnected
	}
}

func (l *link) MTU() int {
	if v := l.mtu.Load(); v > 0 {
		return int(v)
	}
	if conn := l.client.Conn(); conn != nil {
		if mtu := conn.TxMTU(); mtu > 0 {
			return mtu
		}
	}
	return radio.DefaultMTU
}

// RequestMTU runs the ATT MTU exchange. CoreBluetooth negotiates on its own
// and reports the exchange as unsupported; the caller falls back to MTU().
func (l *link) RequestMTU(ctx context.Context, mtu int) (int, error) {
	got, err := awaitValue(ctx, "exchange MTU", func() (int, error) {
		return l.client.ExchangeMTU(mtu)
	}, nil)
	if err != nil {
		return 0, err
	}
	l.mtu.Store(int32(got))
	return got, nil
}

func (l *link) RequestLowLatency(context.Context) error {
	return fmt.Errorf("connection interval: %w", radio.ErrUnsupported)
}

func (l *link) DiscoverService(ctx context.Context, uuid string) (radio.Service, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", uuid, err)
	}

	svcs, err := awaitValue(ctx, "discover services", func() ([]*ble.Service, error) {
		return l.client.DiscoverServices([]ble.UUID{u})
	}, nil)
	if err != nil {
		return nil, err
	}

	for _, s := range svcs {
		if s.UUID.Equal(u) {
			l.logger.WithField("service_uuid", uuid).Debug("Found service")
			return &service{link: l, svc: s, uuid: uuid}, nil
		}
	}
	return nil, &radio.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

// Disconnect cancels the connection and waits for the stack to confirm it.
func (l *link) Disconnect(ctx context.Context) error {
	if l.State() == radio.LinkDisconnected {
		return nil
	}
	if err := await(ctx, "cancel connection", l.client.CancelConnection); err != nil {
		return err
	}
	select {
	case <-l.client.Disconnected():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for disconnect: %w", ctx.Err())
	}
}

func (l *link) Disconnected() <-chan struct{} {
	return l.client.Disconnected()
}

var _ radio.Link = (*link)(nil)
