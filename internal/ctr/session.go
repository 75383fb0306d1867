package ctr

import (
	"errors"
	"sync"
)

// ErrNotEnabled is returned when transforming before SetKeys.
var ErrNotEnabled = errors.New("encryption not enabled")

// Session holds the transmit and receive keystreams of one connection. Both
// share the key but run from their own nonce, and neither affects the other.
type Session struct {
	txMu sync.Mutex
	tx   *State

	rxMu sync.Mutex
	rx   *State

	mu      sync.RWMutex
	enabled bool
}

// NewSession returns a Session with encryption disabled.
func NewSession() *Session {
	return &Session{}
}

// SetKeys installs fresh TX and RX keystreams and enables encryption.
func (s *Session) SetKeys(key, txNonce, rxNonce []byte) error {
	tx, err := NewState(key, txNonce)
	if err != nil {
		return err
	}
	rx, err := NewState(key, rxNonce)
	if err != nil {
		return err
	}

	s.txMu.Lock()
	s.tx = tx
	s.txMu.Unlock()

	s.rxMu.Lock()
	s.rx = rx
	s.rxMu.Unlock()

	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	return nil
}

// Enabled reports whether traffic is being transformed.
func (s *Session) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Disable turns encryption off and drops the keystreams.
func (s *Session) Disable() {
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()

	s.txMu.Lock()
	s.tx = nil
	s.txMu.Unlock()

	s.rxMu.Lock()
	s.rx = nil
	s.rxMu.Unlock()
}

// Encrypt transforms p in place with the TX keystream.
func (s *Session) Encrypt(p []byte) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.tx == nil {
		return ErrNotEnabled
	}
	s.tx.XORKeyStream(p, p)
	return nil
}

// Decrypt transforms p in place with the RX keystream.
func (s *Session) Decrypt(p []byte) error {
	s.rxMu.Lock()
	defer s.rxMu.Unlock()
	if s.rx == nil {
		return ErrNotEnabled
	}
	s.rx.XORKeyStream(p, p)
	return nil
}

// MarkTX returns the current TX keystream position for a later RewindTX. A
// multi-slice write marks once before its first slice, so a failure anywhere
// rewinds the whole write.
func (s *Session) MarkTX() uint64 {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.tx == nil {
		return 0
	}
	return s.tx.Position()
}

// RewindTX moves the TX keystream back to a position returned by MarkTX.
func (s *Session) RewindTX(pos uint64) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.tx != nil {
		s.tx.Seek(pos)
	}
}
