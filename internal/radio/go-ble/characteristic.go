package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/xblink/internal/radio"
)

type service struct {
	link *link
	svc  *ble.Service
	uuid string
}

func (s *service) UUID() string {
	return s.uuid
}

// Characteristic discovers one characteristic of the service. Notifying
// characteristics also get their descriptors discovered, since go-ble needs
// the CCCD handle to subscribe.
func (s *service) Characteristic(ctx context.Context, uuid string) (radio.Characteristic, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuid, err)
	}

	chars, err := awaitValue(ctx, "discover characteristics", func() ([]*ble.Characteristic, error) {
		return s.link.client.DiscoverCharacteristics([]ble.UUID{u}, s.svc)
	}, nil)
	if err != nil {
		return nil, err
	}

	for _, c := range chars {
		if !c.UUID.Equal(u) {
			continue
		}
		if c.Property&(ble.CharNotify|ble.CharIndicate) != 0 && c.CCCD == nil {
			_, err := awaitValue(ctx, "discover descriptors", func() ([]*ble.Descriptor, error) {
				return s.link.client.DiscoverDescriptors(nil, c)
			}, nil)
			if err != nil {
				s.link.logger.WithFields(logrus.Fields{
					"char_uuid": uuid,
					"error":     err,
				}).Warn("Failed to discover descriptors")
			}
		}
		return &characteristic{link: s.link, char: c, uuid: uuid}, nil
	}
	return nil, &radio.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}}
}

type characteristic struct {
	link *link
	char *ble.Characteristic
	uuid string
}

func (c *characteristic) UUID() string {
	return c.uuid
}

func (c *characteristic) CanNotify() bool {
	return c.char.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

// indicate reports whether subscriptions must use indications.
func (c *characteristic) indicate() bool {
	return c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0
}

// Write uses a write request when the characteristic supports it so the call
// completes only once the peer acknowledged it.
func (c *characteristic) Write(ctx context.Context, data []byte) error {
	noRsp := c.char.Property&ble.CharWrite == 0
	p := make([]byte, len(data))
	copy(p, data)
	return await(ctx, "write characteristic", func() error {
		return c.link.client.WriteCharacteristic(c.char, p, noRsp)
	})
}

func (c *characteristic) Subscribe(ctx context.Context, handler radio.NotificationHandler) error {
	h := func(req []byte) { handler(req) }
	return await(ctx, "subscribe", func() error {
		return c.link.client.Subscribe(c.char, c.indicate(), h)
	})
}

func (c *characteristic) Unsubscribe(ctx context.Context) error {
	return await(ctx, "unsubscribe", func() error {
		return c.link.client.Unsubscribe(c.char, c.indicate())
	})
}

var _ radio.Characteristic = (*characteristic)(nil)
