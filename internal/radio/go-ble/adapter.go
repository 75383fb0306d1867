// Package goble implements the radio interfaces on top of github.com/go-ble/ble
// (CoreBluetooth on macOS, raw HCI on Linux).
package goble

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/xblink/internal/radio"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = newDevice

// Adapter is a radio.Adapter backed by a single ble.Device.
type Adapter struct {
	logger *logrus.Logger

	once   sync.Once
	dev    ble.Device
	devErr error
}

// NewAdapter returns an Adapter; the platform device is created on first use.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Adapter{logger: logger}
}

func (a *Adapter) device() (ble.Device, error) {
	a.once.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			a.devErr = fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
			return
		}
		a.dev = dev
	})
	return a.dev, a.devErr
}

// Connect dials the peer. go-ble only speaks LE, so the transport is always
// forced. Connection interval control is not exposed by go-ble; a LowLatency
// request is logged and ignored.
func (a *Adapter) Connect(ctx context.Context, peer radio.Peer, params radio.ConnectParams) (radio.Link, error) {
	dev, err := a.device()
	if err != nil {
		return nil, err
	}

	addr := peer.PlatformAddress()
	a.logger.WithFields(logrus.Fields{
		"address":     addr,
		"low_latency": params.LowLatency,
	}).Debug("Dialing BLE device...")

	client, err := awaitValue(ctx, "dial", func() (ble.Client, error) {
		return dev.Dial(ctx, ble.NewAddr(addr))
	}, func(c ble.Client) {
		// dial completed after we gave up on it
		_ = c.CancelConnection()
	})
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"address": addr,
			"error":   err,
		}).Debug("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", addr, err)
	}

	return newLink(client, peer, a.logger), nil
}

// NewScanner returns a radio.Scanner sharing the adapter's device.
func (a *Adapter) NewScanner() (radio.Scanner, error) {
	dev, err := a.device()
	if err != nil {
		return nil, err
	}
	return &scanner{dev: dev}, nil
}

var _ radio.Adapter = (*Adapter)(nil)
