package testutils

import (
	"context"

	"github.com/srg/xblink/internal/radio"
	"github.com/stretchr/testify/mock"
)

// MockPeripheral is a wired set of radio mocks that behaves like a serial
// service peripheral.
type MockPeripheral struct {
	Peer    radio.Peer
	Adapter *MockAdapter
	Link    *MockLink
	Service *MockService
	TX      *MockCharacteristic
	RX      *MockCharacteristic
}

// MockPeripheralBuilder configures a MockPeripheral. The zero configuration
// connects, negotiates the given MTU and accepts every write.
//
//	p := testutils.NewMockPeripheralBuilder("00:11:22:33:AA:BB").
//	    WithMTU(185).
//	    WithoutService().
//	    Build()
type MockPeripheralBuilder struct {
	peer radio.Peer

	mtu           int
	mtuErr        error
	connectErr    error
	connectHang   bool
	noService     bool
	noRX          bool
	rxNotify      bool
	subscribeErr  error
	disconnectErr error
	writeErr      error
}

func NewMockPeripheralBuilder(address string) *MockPeripheralBuilder {
	return &MockPeripheralBuilder{
		peer:     radio.MustParsePeer(address),
		mtu:      247,
		rxNotify: true,
	}
}

// WithMTU sets the MTU the link settles on.
func (b *MockPeripheralBuilder) WithMTU(mtu int) *MockPeripheralBuilder {
	b.mtu = mtu
	return b
}

// WithMTUError makes the MTU request fail; the link keeps reporting mtu.
func (b *MockPeripheralBuilder) WithMTUError(mtu int, err error) *MockPeripheralBuilder {
	b.mtu = mtu
	b.mtuErr = err
	return b
}

func (b *MockPeripheralBuilder) WithConnectError(err error) *MockPeripheralBuilder {
	b.connectErr = err
	return b
}

// WithConnectHang makes Connect block until its context expires.
func (b *MockPeripheralBuilder) WithConnectHang() *MockPeripheralBuilder {
	b.connectHang = true
	return b
}

func (b *MockPeripheralBuilder) WithoutService() *MockPeripheralBuilder {
	b.noService = true
	return b
}

func (b *MockPeripheralBuilder) WithoutRX() *MockPeripheralBuilder {
	b.noRX = true
	return b
}

// WithoutNotify makes the RX characteristic lack the notify property.
func (b *MockPeripheralBuilder) WithoutNotify() *MockPeripheralBuilder {
	b.rxNotify = false
	return b
}

func (b *MockPeripheralBuilder) WithSubscribeError(err error) *MockPeripheralBuilder {
	b.subscribeErr = err
	return b
}

func (b *MockPeripheralBuilder) WithDisconnectError(err error) *MockPeripheralBuilder {
	b.disconnectErr = err
	return b
}

// WithWriteError makes every TX write fail with err.
func (b *MockPeripheralBuilder) WithWriteError(err error) *MockPeripheralBuilder {
	b.writeErr = err
	return b
}

// Build wires the mocks and their expectations.
func (b *MockPeripheralBuilder) Build() *MockPeripheral {
	p := &MockPeripheral{
		Peer:    b.peer,
		Adapter: &MockAdapter{},
		Link:    NewMockLink(b.peer),
		TX:      &MockCharacteristic{ID: radio.TXCharUUID},
		RX:      &MockCharacteristic{ID: radio.RXCharUUID, Notify: b.rxNotify},
	}

	chars := []radio.Characteristic{p.TX}
	if !b.noRX {
		chars = append(chars, p.RX)
	}
	p.Service = &MockService{ID: radio.ServiceUUID, Chars: chars}

	connect := p.Adapter.On("Connect", mock.Anything, b.peer, mock.Anything)
	switch {
	case b.connectHang:
		connect.Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).Return(nil, context.DeadlineExceeded)
	case b.connectErr != nil:
		connect.Return(nil, b.connectErr)
	default:
		connect.Return(p.Link, nil)
	}

	if b.mtuErr != nil {
		p.Link.On("RequestMTU", mock.Anything, mock.Anything).Return(0, b.mtuErr).Maybe()
	} else {
		p.Link.On("RequestMTU", mock.Anything, mock.Anything).Return(b.mtu, nil).Maybe()
	}
	p.Link.On("MTU").Return(b.mtu).Maybe()
	p.Link.On("RequestLowLatency", mock.Anything).Return(radio.ErrUnsupported).Maybe()

	if b.noService {
		p.Link.On("DiscoverService", mock.Anything, radio.ServiceUUID).
			Return(nil, &radio.NotFoundError{Resource: "service", UUIDs: []string{radio.ServiceUUID}}).Maybe()
	} else {
		p.Link.On("DiscoverService", mock.Anything, radio.ServiceUUID).Return(p.Service, nil).Maybe()
	}
	p.Link.On("Disconnect", mock.Anything).Return(b.disconnectErr).Maybe()

	p.TX.On("Write", mock.Anything, mock.Anything).Return(b.writeErr).Maybe()
	p.RX.On("Subscribe", mock.Anything).Return(b.subscribeErr).Maybe()
	p.RX.On("Unsubscribe", mock.Anything).Return(nil).Maybe()

	return p
}
