package radio

import (
	"context"
	"fmt"
)

// Fixed GATT identifiers of the Digi BLE serial service.
const (
	ServiceUUID = "53DA53B9-0447-425A-B9EA-9837505EB59A"
	TXCharUUID  = "7DDDCA00-3E05-4651-9254-44074792C590" // host -> device (write)
	RXCharUUID  = "F9279EE9-2CD0-410C-81CC-ADF11E4E5AEA" // device -> host (notify)
)

const (
	// DefaultMTU is the ATT MTU every LE link starts with.
	DefaultMTU = 23

	// MaxMTU is the largest ATT MTU requested during negotiation.
	MaxMTU = 512
)

// LinkState is the platform-reported state of a radio link.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	// LinkLimited is reported by some stacks for a peer that is still known to the
	// OS but no longer usable by this process; it counts as disconnected.
	LinkLimited
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkLimited:
		return "limited"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// ConnectParams controls link establishment.
type ConnectParams struct {
	// LowLatency asks the backend to negotiate a short connection interval when it
	// can do so at connect time.
	LowLatency bool
}

// Adapter is the local BLE radio.
type Adapter interface {
	// Connect establishes an LE link to the peer. Backends must force the LE
	// transport and must give up when ctx expires.
	Connect(ctx context.Context, peer Peer, params ConnectParams) (Link, error)
}

// Link is one established connection to a peripheral.
//
// Every method taking a context returns no later than the context deadline; a
// platform call still in flight at that point is abandoned.
type Link interface {
	Peer() Peer
	State() LinkState

	// MTU returns the ATT MTU currently in effect on the link.
	MTU() int
	// RequestMTU asks for an ATT MTU of up to mtu bytes and returns the value the
	// platform settled on, which may be smaller.
	RequestMTU(ctx context.Context, mtu int) (int, error)
	// RequestLowLatency asks for a short connection interval. Backends without
	// such control return ErrUnsupported.
	RequestLowLatency(ctx context.Context) error

	// DiscoverService resolves the service with the given UUID. A missing service
	// is reported as *NotFoundError.
	DiscoverService(ctx context.Context, uuid string) (Service, error)

	Disconnect(ctx context.Context) error
	// Disconnected is closed once the link is gone, whoever initiated it.
	Disconnected() <-chan struct{}
}

// Service is a discovered GATT service.
type Service interface {
	UUID() string
	// Characteristic resolves a characteristic of this service. A missing
	// characteristic is reported as *NotFoundError.
	Characteristic(ctx context.Context, uuid string) (Characteristic, error)
}

// NotificationHandler receives the raw value of every notification. The slice
// may be reused by the platform once the handler returns.
type NotificationHandler func(data []byte)

// Characteristic is a resolved GATT characteristic.
type Characteristic interface {
	UUID() string
	CanNotify() bool

	// Write sends one ATT write and waits for its completion.
	Write(ctx context.Context, data []byte) error
	// Subscribe installs handler and enables notifications.
	Subscribe(ctx context.Context, handler NotificationHandler) error
	Unsubscribe(ctx context.Context) error
}

// Advertisement is one advertising report seen while scanning.
type Advertisement interface {
	// Addr is the platform address: a MAC, or a peripheral UUID on macOS.
	Addr() string
	LocalName() string
	RSSI() int
	Connectable() bool
	// Services lists the advertised service UUIDs.
	Services() []string
}

// Scanner reports nearby advertisers until ctx is done.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}
