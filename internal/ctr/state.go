// Package ctr implements the AES counter-mode keystream used to encrypt the
// byte stream once a session key has been negotiated.
//
// The counter block is the direction nonce followed by a 32-bit big-endian
// counter starting at 1, zero padded to the block size. Keystream is consumed byte by byte across calls, so a message
// split over several transforms produces the same output as one transform of
// the whole message. Positions are byte offsets into the keystream and can be
// captured and restored, which is how a failed transmit is undone.
package ctr

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BlockSize is the AES block size and the counter block length.
	BlockSize = aes.BlockSize
	// MaxNonceSize leaves at least four bytes for the counter suffix.
	MaxNonceSize = BlockSize - 4
)

var (
	ErrNonceSize       = fmt.Errorf("nonce must be at most %d bytes", MaxNonceSize)
	ErrNothingToRewind = errors.New("no transform to roll back")
)

// State is one direction's keystream generator. It is not safe for concurrent
// use; Session serialises access.
type State struct {
	block cipher.Block
	iv    [BlockSize]byte // counter block for position 0

	pos  uint64 // bytes of keystream consumed
	prev uint64 // position before the last transform
	// hasPrev is set by XORKeyStream and cleared by Rollback/Seek
	hasPrev bool

	ks    [BlockSize]byte // keystream block covering pos, valid when ksPos == pos/BlockSize+1
	ksPos uint64
}

// NewState builds a keystream generator from an AES key (16, 24 or 32 bytes)
// and a nonce of at most MaxNonceSize bytes.
func NewState(key, nonce []byte) (*State, error) {
	if len(nonce) > MaxNonceSize {
		return nil, ErrNonceSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}

	s := &State{block: block}
	s.iv = InitialCounter(nonce)
	return s, nil
}

// InitialCounter returns nonce || big-endian uint32(1), zero padded to a full
// block. The counter word sits right after the nonce, whatever its length.
func InitialCounter(nonce []byte) [BlockSize]byte {
	var ctr [BlockSize]byte
	n := copy(ctr[:], nonce)
	binary.BigEndian.PutUint32(ctr[n:], 1)
	return ctr
}

// Position returns the current keystream offset in bytes.
func (s *State) Position() uint64 {
	return s.pos
}

// Seek moves the keystream to an absolute byte offset.
func (s *State) Seek(pos uint64) {
	s.pos = pos
	s.hasPrev = false
}

// XORKeyStream transforms src into dst (which may alias src) and advances the
// keystream by len(src) bytes. The same call encrypts and decrypts.
func (s *State) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("ctr: output smaller than input")
	}

	s.prev = s.pos
	s.hasPrev = true

	for i := 0; i < len(src); {
		blk := s.pos / BlockSize
		off := int(s.pos % BlockSize)
		s.fill(blk)

		n := BlockSize - off
		if rem := len(src) - i; rem < n {
			n = rem
		}
		for j := 0; j < n; j++ {
			dst[i+j] = src[i+j] ^ s.ks[off+j]
		}
		i += n
		s.pos += uint64(n)
	}
}

// Rollback undoes the most recent XORKeyStream so the next call reuses the
// same keystream bytes.
func (s *State) Rollback() error {
	if !s.hasPrev {
		return ErrNothingToRewind
	}
	s.pos = s.prev
	s.hasPrev = false
	return nil
}

// fill makes s.ks hold the keystream block with index blk.
func (s *State) fill(blk uint64) {
	if s.ksPos == blk+1 {
		return
	}
	ctr := counterAt(s.iv, blk)
	s.block.Encrypt(s.ks[:], ctr[:])
	s.ksPos = blk + 1
}

// counterAt adds n to the 128-bit big-endian counter block iv.
func counterAt(iv [BlockSize]byte, n uint64) [BlockSize]byte {
	out := iv
	carry := n
	for i := BlockSize - 1; i >= 0 && carry != 0; i-- {
		sum := uint64(out[i]) + (carry & 0xff)
		out[i] = byte(sum)
		carry = (carry >> 8) + (sum >> 8)
	}
	return out
}
