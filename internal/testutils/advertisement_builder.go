package testutils

import (
	"context"

	"github.com/srg/xblink/internal/radio"
)

// Advertisement is a static radio.Advertisement.
type Advertisement struct {
	Address       string
	Name          string
	Signal        int
	IsConnectable bool
	ServiceIDs    []string
}

func (a *Advertisement) Addr() string       { return a.Address }
func (a *Advertisement) LocalName() string  { return a.Name }
func (a *Advertisement) RSSI() int          { return a.Signal }
func (a *Advertisement) Connectable() bool  { return a.IsConnectable }
func (a *Advertisement) Services() []string { return a.ServiceIDs }

// AdvertisementBuilder builds advertisements with a fluent API. New builders
// advertise the serial service and are connectable.
type AdvertisementBuilder struct {
	adv Advertisement
}

func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{
		IsConnectable: true,
		ServiceIDs:    []string{radio.ServiceUUID},
	}}
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Signal = rssi
	return b
}

// WithServices replaces the advertised service list.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceIDs = append([]string(nil), uuids...)
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnectable = c
	return b
}

func (b *AdvertisementBuilder) Build() radio.Advertisement {
	adv := b.adv
	adv.ServiceIDs = append([]string(nil), b.adv.ServiceIDs...)
	return &adv
}

// MockScanner replays a fixed list of advertisements, then waits for ctx.
type MockScanner struct {
	Advertisements []radio.Advertisement
	// Err, when set, is returned right after the replay.
	Err error
	// AllowDup records the flag of the last Scan call.
	AllowDup bool
}

func (s *MockScanner) Scan(ctx context.Context, allowDup bool, handler func(radio.Advertisement)) error {
	s.AllowDup = allowDup
	for _, adv := range s.Advertisements {
		handler(adv)
	}
	if s.Err != nil {
		return s.Err
	}
	<-ctx.Done()
	return ctx.Err()
}

var _ radio.Scanner = (*MockScanner)(nil)
