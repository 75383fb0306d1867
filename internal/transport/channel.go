package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/xblink/internal/bytestream"
	"github.com/srg/xblink/internal/ctr"
	"github.com/srg/xblink/internal/frame"
	"github.com/srg/xblink/internal/groutine"
	"github.com/srg/xblink/internal/radio"
	"golang.org/x/sync/semaphore"
)

// ConnectionType is reported by Channel.ConnectionType.
const ConnectionType = "bluetooth"

// Channel is a bidirectional byte stream to one peripheral exposing the serial
// service. Writes are sliced to the negotiated MTU and, once keys are set,
// encrypted; notifications are decrypted and queued for Read.
//
// All methods are safe for concurrent use. Write and Close are serialised by a
// per-channel admission lock; Read is independent of both.
type Channel struct {
	adapter radio.Adapter
	peer    radio.Peer
	opts    Options
	logger  *logrus.Logger

	// admission serialises Write, SetEncryptionKeys and Close.
	admission *semaphore.Weighted
	// openMu serialises Open calls.
	openMu sync.Mutex

	mu         sync.RWMutex
	state      State
	link       radio.Link
	tx         radio.Characteristic // non-nil iff state is Open
	rx         radio.Characteristic // non-nil iff state is Open
	subscribed radio.Characteristic // kept until Close so Failed links can unsubscribe
	mtu        int
	stopWatch  chan struct{}

	stream *bytestream.Buffer
	crypto *ctr.Session
	events *dispatcher
}

// New creates a closed Channel for the peer at address (MAC or GUID form).
// A malformed address fails here, before any radio activity.
func New(adapter radio.Adapter, address string, opts Options, logger *logrus.Logger) (*Channel, error) {
	peer, err := radio.ParsePeer(address)
	if err != nil {
		return nil, err
	}
	return NewWithPeer(adapter, peer, opts, logger)
}

// NewWithPeer creates a closed Channel for an already resolved peer.
func NewWithPeer(adapter radio.Adapter, peer radio.Peer, opts Options, logger *logrus.Logger) (*Channel, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter cannot be nil")
	}
	if peer.IsZero() {
		return nil, radio.NewError(radio.KindInvalidAddressFormat, nil, "empty peer identifier")
	}
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport options: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	stream := bytestream.New()
	_ = stream.Close() // nothing to read until the first Open

	return &Channel{
		adapter:   adapter,
		peer:      peer,
		opts:      opts,
		logger:    logger,
		admission: semaphore.NewWeighted(1),
		state:     StateClosed,
		mtu:       opts.MinMTU,
		stream:    stream,
		crypto:    ctr.NewSession(),
		events:    newDispatcher(opts.EventBufferSize, logger),
	}, nil
}

// Peer returns the identity the channel connects to.
func (c *Channel) Peer() radio.Peer {
	return c.peer
}

// ConnectionType returns "bluetooth".
func (c *Channel) ConnectionType() string {
	return ConnectionType
}

func (c *Channel) String() string {
	return fmt.Sprintf("%s %s (%s)", ConnectionType, c.peer, c.State())
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsOpen reports whether the channel is Open.
func (c *Channel) IsOpen() bool {
	return c.State() == StateOpen
}

// MTU returns the ATT MTU negotiated by the last successful Open.
func (c *Channel) MTU() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mtu
}

// EncryptionEnabled reports whether traffic is currently encrypted.
func (c *Channel) EncryptionEnabled() bool {
	return c.crypto.Enabled()
}

// OnData registers a callback invoked with the byte count of every fragment
// appended to the inbound stream. Pass nil to remove it.
func (c *Channel) OnData(fn func(n int)) {
	c.events.setOnData(fn)
}

// OnConnectionLost registers a callback invoked when the peer drops an open
// link. Pass nil to remove it.
func (c *Channel) OnConnectionLost(fn func(err error)) {
	c.events.setOnLost(fn)
}

// Open connects, negotiates the MTU, resolves the serial characteristics and
// subscribes to inbound notifications, all within Options.ConnectTimeout.
// Opening an open channel is a no-op. On failure the partial link is torn
// down and the channel is left Closed.
func (c *Channel) Open(ctx context.Context) error {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateFailed:
		c.mu.Unlock()
		return radio.NewError(radio.KindConnectFailed, radio.ErrLinkLost, "channel failed, close it before reopening")
	case StateClosing:
		c.mu.Unlock()
		return radio.NewError(radio.KindConnectFailed, nil, "close in progress")
	}
	c.state = StateOpening
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	log := c.logger.WithFields(logrus.Fields{
		"peer":    c.peer.String(),
		"timeout": c.opts.ConnectTimeout,
	})
	log.Info("Opening BLE channel...")

	c.crypto.Disable()
	c.stream.Reset()
	c.events.start("ble-channel-events")

	l, err := c.establish(ctx, log)
	if err != nil {
		log.WithError(err).Error("Failed to open BLE channel")
		if cleanupErr := c.release(l, c.opts.DisconnectTimeout); cleanupErr != nil {
			log.WithError(cleanupErr).Warn("Cleanup after failed open did not complete")
		}
		c.finish(StateClosed)
		return err
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.link = l.link
	c.tx = l.tx
	c.rx = l.rx
	c.subscribed = l.subscribed
	c.mtu = l.mtu
	c.stopWatch = stop
	c.state = StateOpen
	c.mu.Unlock()

	groutine.Go(context.Background(), "ble-link-monitor", func(context.Context) {
		c.watch(l.link, stop)
	})

	log.WithField("mtu", l.mtu).Info("BLE channel open")
	return nil
}

// pending is a link under construction; fields fill in as Open progresses so
// a failure can release exactly what was acquired.
type pending struct {
	link       radio.Link
	tx, rx     radio.Characteristic
	subscribed radio.Characteristic
	mtu        int
}

func (c *Channel) establish(ctx context.Context, log *logrus.Entry) (*pending, error) {
	p := &pending{mtu: c.opts.MinMTU}

	log.Debug("Connecting to peer...")
	link, err := c.adapter.Connect(ctx, c.peer, radio.ConnectParams{LowLatency: c.opts.LowLatency})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return p, radio.NewError(radio.KindConnectTimeout, err, "no link to %s within %s", c.peer, c.opts.ConnectTimeout)
		}
		return p, radio.NewError(radio.KindConnectFailed, err, "connecting to %s", c.peer)
	}
	p.link = link

	if st := link.State(); st != radio.LinkConnected {
		return p, radio.NewError(radio.KindConnectFailed, nil, "link is %s after connect", st)
	}

	p.mtu = c.negotiateMTU(ctx, link, log)

	if c.opts.LowLatency {
		if err := link.RequestLowLatency(ctx); err != nil {
			log.WithError(err).Debug("Low latency connection interval not applied")
		}
	}

	// Some stacks hang when discovery starts right after the MTU exchange.
	if c.opts.SettleDelay > 0 {
		timer := time.NewTimer(c.opts.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return p, radio.NewError(radio.KindConnectTimeout, ctx.Err(), "open deadline passed while settling")
		}
	}

	log.WithField("service_uuid", radio.ServiceUUID).Debug("Discovering serial service...")
	svcCtx, svcCancel := context.WithTimeout(ctx, c.opts.ServiceTimeout)
	svc, err := link.DiscoverService(svcCtx, radio.ServiceUUID)
	svcCancel()
	if err != nil {
		return p, radio.NewError(radio.KindServiceNotFound, err, "service %s", radio.ServiceUUID)
	}

	charCtx, charCancel := context.WithTimeout(ctx, c.opts.ServiceTimeout)
	p.tx, err = svc.Characteristic(charCtx, radio.TXCharUUID)
	if err == nil {
		p.rx, err = svc.Characteristic(charCtx, radio.RXCharUUID)
	}
	charCancel()
	if err != nil {
		return p, radio.NewError(radio.KindCharacteristicsNotFound, err, "service %s", radio.ServiceUUID)
	}

	if p.rx.CanNotify() {
		log.WithField("char_uuid", radio.RXCharUUID).Debug("Subscribing to notifications...")
		subCtx, subCancel := context.WithTimeout(ctx, c.opts.SubscribeTimeout)
		err = p.rx.Subscribe(subCtx, c.handleNotification)
		subCancel()
		if err != nil {
			return p, radio.NewError(radio.KindSubscribeFailed, err, "characteristic %s", radio.RXCharUUID)
		}
		p.subscribed = p.rx
	} else {
		log.WithField("char_uuid", radio.RXCharUUID).Warn("RX characteristic does not support notifications")
	}

	// clear text until the key exchange running over the channel sets keys
	c.crypto.Disable()

	// Subscribing has been seen to drop the link on some stacks.
	if st := link.State(); st != radio.LinkConnected {
		return p, radio.NewError(radio.KindConnectFailed, nil, "link is %s after subscribe", st)
	}
	return p, nil
}

// negotiateMTU asks for the configured MTU and returns the value in effect,
// never less than Options.MinMTU. Failure to negotiate is not fatal.
func (c *Channel) negotiateMTU(ctx context.Context, link radio.Link, log *logrus.Entry) int {
	mtu, err := link.RequestMTU(ctx, c.opts.RequestMTU)
	if err != nil {
		log.WithError(err).Debug("MTU request failed, using current link MTU")
		mtu = link.MTU()
	}
	if mtu < c.opts.MinMTU {
		mtu = c.opts.MinMTU
	}
	log.WithFields(logrus.Fields{
		"requested":  c.opts.RequestMTU,
		"negotiated": mtu,
	}).Debug("MTU negotiated")
	return mtu
}

// Close unsubscribes, disconnects and leaves the channel Closed. Closing a
// channel that is not open (or still opening) is a no-op. A teardown that
// cannot confirm the disconnect within Options.DisconnectTimeout returns
// ErrDisconnectFailed; the channel is Closed regardless.
func (c *Channel) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateClosed, StateOpening, StateClosing:
		c.mu.Unlock()
		c.logger.Debug("Close called but channel is not open")
		return nil
	}
	c.mu.Unlock()

	// a Write may hold the lock for up to WriteLongTimeout
	ctx, cancel := context.WithTimeout(context.Background(), max(c.opts.AdmissionTimeout, c.opts.WriteLongTimeout))
	acquired := c.admission.Acquire(ctx, 1) == nil
	cancel()
	if acquired {
		defer c.admission.Release(1)
	} else {
		c.logger.Warn("Admission lock not acquired, closing anyway")
	}

	c.mu.Lock()
	if c.state != StateOpen && c.state != StateFailed {
		c.mu.Unlock()
		return nil
	}
	l := &pending{link: c.link, subscribed: c.subscribed, mtu: c.mtu}
	c.state = StateClosing
	c.tx, c.rx = nil, nil
	if c.stopWatch != nil {
		close(c.stopWatch)
		c.stopWatch = nil
	}
	c.mu.Unlock()

	c.logger.WithField("peer", c.peer.String()).Info("Closing BLE channel...")

	err := c.release(l, c.opts.DisconnectTimeout)
	c.finish(StateClosed)

	if err != nil {
		c.logger.WithError(err).Warn("BLE channel closed with errors")
		return err
	}
	c.logger.Info("BLE channel closed")
	return nil
}

// release unsubscribes and disconnects whatever l holds, bounded by timeout.
// Unsubscribe failures are logged; a disconnect that cannot be confirmed is
// returned as ErrDisconnectFailed.
func (c *Channel) release(l *pending, timeout time.Duration) error {
	if l == nil || l.link == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	gone := false
	select {
	case <-l.link.Disconnected():
		gone = true
	default:
	}

	if l.subscribed != nil && !gone {
		subCtx, subCancel := context.WithTimeout(ctx, c.opts.SubscribeTimeout)
		if err := l.subscribed.Unsubscribe(subCtx); err != nil {
			c.logger.WithError(err).Warn("Failed to unsubscribe from notifications")
		}
		subCancel()
	}

	if gone {
		c.logger.Debug("Link already gone, skipping disconnect")
		return nil
	}

	if err := l.link.Disconnect(ctx); err != nil {
		return radio.NewError(radio.KindDisconnectFailed, err, "peer %s", c.peer)
	}
	if st := l.link.State(); st != radio.LinkDisconnected && st != radio.LinkLimited {
		return radio.NewError(radio.KindDisconnectFailed, nil, "link still %s after disconnect", st)
	}
	return nil
}

// finish clears per-link state and ends the inbound stream.
func (c *Channel) finish(state State) {
	c.mu.Lock()
	c.state = state
	c.link = nil
	c.tx, c.rx = nil, nil
	c.subscribed = nil
	c.mu.Unlock()

	c.crypto.Disable()
	_ = c.stream.Close()
	c.events.shutdown()
}

// watch moves an open channel to Failed when the peer drops the link.
func (c *Channel) watch(link radio.Link, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	case <-link.Disconnected():
	}

	c.mu.Lock()
	if c.state != StateOpen || c.link != link {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.tx, c.rx = nil, nil
	c.mu.Unlock()

	c.logger.WithField("peer", c.peer.String()).Warn("Peer disconnected, BLE channel failed")
	_ = c.stream.Close()
	c.events.emit(Event{Kind: EventConnectionLost, Err: radio.ErrLinkLost})
}

// handleNotification runs on the platform's notification thread.
func (c *Channel) handleNotification(data []byte) {
	if len(data) == 0 {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	if c.crypto.Enabled() {
		if err := c.crypto.Decrypt(buf); err != nil {
			c.logger.WithError(err).Error("Failed to decrypt notification, dropping it")
			return
		}
	}

	n, err := c.stream.Write(buf)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"bytes": len(buf),
			"error": err,
		}).Debug("Notification arrived after close, dropped")
		return
	}
	c.events.emit(Event{Kind: EventData, N: n})
}

// Write sends p to the peer, sliced to the negotiated MTU and encrypted when
// keys are set. It returns len(p) once every slice is written. On any failure
// no byte count is reported and the transmit keystream is restored to where
// it was before the call, so the caller can retry the whole write.
func (c *Channel) Write(p []byte) (int, error) {
	if !c.IsOpen() {
		return 0, radio.NewError(radio.KindNotOpen, nil, "write to %s channel", c.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.AdmissionTimeout)
	err := c.admission.Acquire(ctx, 1)
	cancel()
	if err != nil {
		return 0, radio.NewError(radio.KindWriteTimeout, err, "admission lock not acquired within %s", c.opts.AdmissionTimeout)
	}
	defer c.admission.Release(1)

	c.mu.RLock()
	state, tx, mtu := c.state, c.tx, c.mtu
	c.mu.RUnlock()
	if state != StateOpen || tx == nil {
		return 0, radio.NewError(radio.KindNotOpen, nil, "write to %s channel", state)
	}
	if len(p) == 0 {
		return 0, nil
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	chunks, err := frame.Slice(buf, mtu)
	if err != nil {
		return 0, radio.NewError(radio.KindWriteFailed, err, "slicing %d bytes", len(p))
	}

	encrypted := c.crypto.Enabled()
	var mark uint64
	if encrypted {
		mark = c.crypto.MarkTX()
	}

	wctx, wcancel := context.WithTimeout(context.Background(), c.opts.WriteLongTimeout)
	defer wcancel()

	for i, chunk := range chunks {
		if encrypted {
			if err := c.crypto.Encrypt(chunk); err != nil {
				c.crypto.RewindTX(mark)
				return 0, radio.NewError(radio.KindWriteFailed, err, "encrypting slice %d/%d", i+1, len(chunks))
			}
		}

		sctx, scancel := context.WithTimeout(wctx, c.opts.WriteTimeout)
		err := tx.Write(sctx, chunk)
		scancel()
		if err != nil {
			if encrypted {
				c.crypto.RewindTX(mark)
			}
			kind := radio.KindWriteFailed
			if errors.Is(err, context.DeadlineExceeded) {
				kind = radio.KindWriteTimeout
			}
			c.logger.WithFields(logrus.Fields{
				"slice":  i + 1,
				"slices": len(chunks),
				"bytes":  len(p),
				"error":  err,
			}).Warn("BLE write failed")
			return 0, radio.NewError(kind, err, "slice %d/%d of %d bytes", i+1, len(chunks), len(p))
		}
	}

	c.logger.WithFields(logrus.Fields{
		"bytes":     len(p),
		"slices":    len(chunks),
		"encrypted": encrypted,
	}).Debug("BLE write complete")
	return len(p), nil
}

// Read blocks until inbound bytes are available and copies them into p. It
// has no timeout of its own; use ReadTimeout or ReadContext for a bounded
// wait. Once the channel is closed or failed, Read returns the bytes still
// buffered and then io.EOF.
func (c *Channel) Read(p []byte) (int, error) {
	return c.stream.Read(p)
}

// ReadContext is Read bounded by ctx. A deadline with no data returns
// bytestream.ErrTimeout.
func (c *Channel) ReadContext(ctx context.Context, p []byte) (int, error) {
	return c.stream.ReadContext(ctx, p)
}

// ReadTimeout is Read bounded by d.
func (c *Channel) ReadTimeout(p []byte, d time.Duration) (int, error) {
	return c.stream.ReadTimeout(p, d)
}

// Buffered returns the number of inbound bytes waiting to be read.
func (c *Channel) Buffered() int {
	return c.stream.Len()
}

// SetEncryptionKeys switches the channel to encrypted traffic in both
// directions. key is an AES key; the nonces seed the transmit and receive
// counter blocks. It waits for an in-flight Write to finish first.
func (c *Channel) SetEncryptionKeys(key, txNonce, rxNonce []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.AdmissionTimeout)
	err := c.admission.Acquire(ctx, 1)
	cancel()
	if err != nil {
		return fmt.Errorf("admission lock not acquired within %s: %w", c.opts.AdmissionTimeout, err)
	}
	defer c.admission.Release(1)

	if err := c.crypto.SetKeys(key, txNonce, rxNonce); err != nil {
		return fmt.Errorf("failed to set encryption keys: %w", err)
	}
	c.logger.Debug("BLE channel encryption enabled")
	return nil
}

var _ io.ReadWriteCloser = (*Channel)(nil)
