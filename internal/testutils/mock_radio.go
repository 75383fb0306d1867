package testutils

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/srg/xblink/internal/radio"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a testify mock of radio.Adapter.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Connect(ctx context.Context, peer radio.Peer, params radio.ConnectParams) (radio.Link, error) {
	args := m.Called(ctx, peer, params)
	var link radio.Link
	if v := args.Get(0); v != nil {
		link = v.(radio.Link)
	}
	return link, args.Error(1)
}

// MockLink is a testify mock of radio.Link. Its state is tracked directly:
// it starts connected and becomes disconnected after a successful
// Disconnect or a Drop.
type MockLink struct {
	mock.Mock

	peer  radio.Peer
	state atomic.Int32
	once  sync.Once
	gone  chan struct{}
}

func NewMockLink(peer radio.Peer) *MockLink {
	l := &MockLink{peer: peer, gone: make(chan struct{})}
	l.state.Store(int32(radio.LinkConnected))
	return l
}

func (m *MockLink) Peer() radio.Peer {
	return m.peer
}

func (m *MockLink) State() radio.LinkState {
	return radio.LinkState(m.state.Load())
}

// SetState overrides the reported link state without closing Disconnected.
func (m *MockLink) SetState(s radio.LinkState) {
	m.state.Store(int32(s))
}

func (m *MockLink) MTU() int {
	return m.Called().Int(0)
}

func (m *MockLink) RequestMTU(ctx context.Context, mtu int) (int, error) {
	args := m.Called(ctx, mtu)
	return args.Int(0), args.Error(1)
}

func (m *MockLink) RequestLowLatency(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockLink) DiscoverService(ctx context.Context, uuid string) (radio.Service, error) {
	args := m.Called(ctx, uuid)
	var svc radio.Service
	if v := args.Get(0); v != nil {
		svc = v.(radio.Service)
	}
	return svc, args.Error(1)
}

func (m *MockLink) Disconnect(ctx context.Context) error {
	err := m.Called(ctx).Error(0)
	if err == nil {
		m.Drop()
	}
	return err
}

func (m *MockLink) Disconnected() <-chan struct{} {
	return m.gone
}

// Drop simulates the peer going away.
func (m *MockLink) Drop() {
	m.once.Do(func() {
		m.state.Store(int32(radio.LinkDisconnected))
		close(m.gone)
	})
}

// MockService resolves characteristics from a fixed set.
type MockService struct {
	ID    string
	Chars []radio.Characteristic
}

func (m *MockService) UUID() string {
	return m.ID
}

func (m *MockService) Characteristic(_ context.Context, uuid string) (radio.Characteristic, error) {
	for _, c := range m.Chars {
		if radio.SameUUID(c.UUID(), uuid) {
			return c, nil
		}
	}
	return nil, &radio.NotFoundError{Resource: "characteristic", UUIDs: []string{m.ID, uuid}}
}

// MockCharacteristic is a testify mock of radio.Characteristic that also
// records successful writes and can push notifications to its subscriber.
type MockCharacteristic struct {
	mock.Mock

	ID     string
	Notify bool

	mu      sync.Mutex
	handler radio.NotificationHandler
	writes  [][]byte
}

func (m *MockCharacteristic) UUID() string {
	return m.ID
}

func (m *MockCharacteristic) CanNotify() bool {
	return m.Notify
}

func (m *MockCharacteristic) Write(ctx context.Context, data []byte) error {
	p := append([]byte(nil), data...)
	err := m.Called(ctx, p).Error(0)
	if err == nil {
		m.mu.Lock()
		m.writes = append(m.writes, p)
		m.mu.Unlock()
	}
	return err
}

func (m *MockCharacteristic) Subscribe(ctx context.Context, handler radio.NotificationHandler) error {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()

	err := m.Called(ctx).Error(0)
	if err != nil {
		m.mu.Lock()
		m.handler = nil
		m.mu.Unlock()
	}
	return err
}

func (m *MockCharacteristic) Unsubscribe(ctx context.Context) error {
	m.mu.Lock()
	m.handler = nil
	m.mu.Unlock()
	return m.Called(ctx).Error(0)
}

// Push delivers data to the subscribed handler as the peer would. It reports
// whether a handler was installed.
func (m *MockCharacteristic) Push(data []byte) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Writes returns every payload written successfully, in order.
func (m *MockCharacteristic) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}
