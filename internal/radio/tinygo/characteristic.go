package tinygoble

import (
	"context"
	"fmt"

	"github.com/srg/xblink/internal/radio"
	"tinygo.org/x/bluetooth"
)

type service struct {
	link *link
	svc  bluetooth.DeviceService
	uuid string
}

func (s *service) UUID() string {
	return s.uuid
}

func (s *service) Characteristic(ctx context.Context, uuid string) (radio.Characteristic, error) {
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuid, err)
	}

	chars, err := awaitValue(ctx, "discover characteristics", func() ([]bluetooth.DeviceCharacteristic, error) {
		return s.svc.DiscoverCharacteristics([]bluetooth.UUID{u})
	})
	if err != nil {
		return nil, err
	}
	for i := range chars {
		if chars[i].UUID() != u {
			continue
		}
		c := &characteristic{link: s.link, char: chars[i], uuid: uuid}
		if mtu, err := c.char.GetMTU(); err == nil {
			s.link.setMTU(int(mtu))
		}
		return c, nil
	}
	return nil, &radio.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}}
}

type characteristic struct {
	link *link
	char bluetooth.DeviceCharacteristic
	uuid string
}

func (c *characteristic) UUID() string {
	return c.uuid
}

// CanNotify is optimistic: tinygo does not expose properties on every
// platform, and EnableNotifications reports the failure if unsupported.
func (c *characteristic) CanNotify() bool {
	return true
}

func (c *characteristic) Write(ctx context.Context, data []byte) error {
	p := make([]byte, len(data))
	copy(p, data)
	return await(ctx, "write characteristic", func() error {
		n, err := c.char.WriteWithoutResponse(p)
		if err == nil && n != len(p) {
			return fmt.Errorf("short write: %d of %d bytes", n, len(p))
		}
		return err
	})
}

func (c *characteristic) Subscribe(ctx context.Context, handler radio.NotificationHandler) error {
	return await(ctx, "enable notifications", func() error {
		return c.char.EnableNotifications(func(buf []byte) { handler(buf) })
	})
}

func (c *characteristic) Unsubscribe(ctx context.Context) error {
	return await(ctx, "disable notifications", func() error {
		return c.char.EnableNotifications(nil)
	})
}

var _ radio.Characteristic = (*characteristic)(nil)
