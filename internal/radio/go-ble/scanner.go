package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/xblink/internal/radio"
)

// scanner wraps ble.Device to implement radio.Scanner
type scanner struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to radio.Advertisement
func (s *scanner) Scan(ctx context.Context, allowDup bool, handler func(radio.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(advertisement{adv: adv})
	}
	return NormalizeError(s.dev.Scan(ctx, allowDup, bleHandler))
}

// advertisement adapts ble.Advertisement to radio.Advertisement
type advertisement struct {
	adv ble.Advertisement
}

func (a advertisement) Addr() string      { return a.adv.Addr().String() }
func (a advertisement) LocalName() string { return a.adv.LocalName() }
func (a advertisement) RSSI() int         { return a.adv.RSSI() }
func (a advertisement) Connectable() bool { return a.adv.Connectable() }

func (a advertisement) Services() []string {
	svcs := a.adv.Services()
	out := make([]string, len(svcs))
	for i, u := range svcs {
		out[i] = u.String()
	}
	return out
}
