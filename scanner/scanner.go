// Package scanner discovers peripherals that advertise the serial service.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/xblink/internal/radio"
)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// Device is one discovered peripheral.
type Device struct {
	Peer        radio.Peer
	Address     string // as reported by the platform
	Name        string
	RSSI        int
	Connectable bool
	Services    []string
	LastSeen    time.Time
}

type DeviceEvent struct {
	Type   DeviceEventType
	Device Device
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	// ServiceUUIDs filters on advertised services; empty means the serial
	// service. AnyService disables the filter.
	ServiceUUIDs []string
	AnyService   bool
	AllowList    []string
	BlockList    []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner handles BLE device discovery
type Scanner struct {
	radio   radio.Scanner
	logger  *logrus.Logger
	devices *hashmap.Map[string, *Device]
	now     func() time.Time
}

// NewScanner creates a scanner over the given radio.
func NewScanner(r radio.Scanner, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Scanner{
		radio:  r,
		logger: logger,
		now:    time.Now,
	}
}

// Scan listens for opts.Duration (or until ctx is done) and returns matching
// devices sorted by descending RSSI. onEvent, if set, sees every accepted
// advertisement as it arrives.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, onEvent func(DeviceEvent)) ([]Device, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if onEvent == nil {
		onEvent = func(DeviceEvent) {}
	}
	s.devices = hashmap.New[string, *Device]()

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	filter := newFilter(opts)
	err := s.radio.Scan(scanCtx, !opts.DuplicateFilter, func(adv radio.Advertisement) {
		s.handleAdvertisement(adv, filter, onEvent)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	return s.snapshot(), nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv radio.Advertisement, f *filter, onEvent func(DeviceEvent)) {
	addr := adv.Addr()
	key := strings.ToLower(addr)

	dev, existing := s.devices.Get(key)
	if !existing {
		if !f.accept(adv) {
			return
		}
		peer, err := radio.ParsePeer(addr)
		if err != nil {
			s.logger.WithField("address", addr).Debug("Skipping advertiser with unusable address")
			return
		}
		dev, existing = s.devices.GetOrInsert(key, &Device{Peer: peer, Address: addr})
	}

	// hashmap guards the map, not the values; the radio delivers reports
	// from a single goroutine
	dev.RSSI = adv.RSSI()
	dev.Connectable = adv.Connectable()
	dev.LastSeen = s.now()
	if name := adv.LocalName(); name != "" {
		dev.Name = name
	}
	if svcs := adv.Services(); len(svcs) > 0 {
		dev.Services = append([]string(nil), svcs...)
	}

	event := DeviceEvent{Type: EventUpdated, Device: *dev}
	if !existing {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"device":  dev.Name,
			"address": dev.Address,
			"rssi":    dev.RSSI,
		}).Info("Discovered new device")
	}
	onEvent(event)
}

func (s *Scanner) snapshot() []Device {
	devs := make([]Device, 0, s.devices.Len())
	s.devices.Range(func(_ string, d *Device) bool {
		devs = append(devs, *d)
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].RSSI != devs[j].RSSI {
			return devs[i].RSSI > devs[j].RSSI
		}
		return devs[i].Address < devs[j].Address
	})
	return devs
}

type filter struct {
	services []string
	allow    map[string]bool
	block    map[string]bool
}

func newFilter(opts *ScanOptions) *filter {
	f := &filter{
		allow: addressSet(opts.AllowList),
		block: addressSet(opts.BlockList),
	}
	if !opts.AnyService {
		f.services = opts.ServiceUUIDs
		if len(f.services) == 0 {
			f.services = []string{radio.ServiceUUID}
		}
	}
	return f
}

// accept applies the block, allow and service filters in that order.
func (f *filter) accept(adv radio.Advertisement) bool {
	addr := strings.ToLower(adv.Addr())
	if f.block[addr] {
		return false
	}
	if len(f.allow) > 0 && !f.allow[addr] {
		return false
	}
	if len(f.services) == 0 {
		return true
	}
	for _, want := range f.services {
		for _, got := range adv.Services() {
			if radio.SameUUID(want, got) {
				return true
			}
		}
	}
	return false
}

func addressSet(addrs []string) map[string]bool {
	if len(addrs) == 0 {
		return nil
	}
	m := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		m[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return m
}
