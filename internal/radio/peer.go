package radio

import (
	"encoding/hex"
	"net"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	macPattern      = regexp.MustCompile(`^[0-9A-Fa-f]{12}$`)
	macColonPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
	guidPattern     = regexp.MustCompile(`^[0-9A-Fa-f]{8}-([0-9A-Fa-f]{4}-){3}[0-9A-Fa-f]{12}$`)
)

const addressFormatHint = "expected 00112233AABB or 00:11:22:33:AA:BB for a MAC address, " +
	"or 01234567-0123-0123-0123-0123456789AB for a GUID"

// Peer identifies a remote peripheral by a 128-bit identifier. MAC addresses are
// embedded in the low six bytes of an otherwise zero identifier.
type Peer struct {
	id uuid.UUID
}

// ParsePeer parses a MAC address (plain or colon separated) or a GUID.
// Malformed input is reported as ErrInvalidAddressFormat.
func ParsePeer(address string) (Peer, error) {
	s := strings.TrimSpace(address)

	switch {
	case macPattern.MatchString(s), macColonPattern.MatchString(s):
		raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
		if err != nil {
			return Peer{}, NewError(KindInvalidAddressFormat, err, "%q", address)
		}
		var id uuid.UUID
		copy(id[10:], raw)
		return Peer{id: id}, nil

	case guidPattern.MatchString(s):
		id, err := uuid.Parse(s)
		if err != nil {
			return Peer{}, NewError(KindInvalidAddressFormat, err, "%q", address)
		}
		return Peer{id: id}, nil
	}

	return Peer{}, NewError(KindInvalidAddressFormat, nil, "%q: %s", address, addressFormatHint)
}

// MustParsePeer is like ParsePeer but panics on malformed input.
func MustParsePeer(address string) Peer {
	p, err := ParsePeer(address)
	if err != nil {
		panic(err)
	}
	return p
}

// PeerFromUUID wraps a pre-resolved platform identifier.
func PeerFromUUID(id uuid.UUID) Peer {
	return Peer{id: id}
}

// UUID returns the 128-bit identifier of the peer.
func (p Peer) UUID() uuid.UUID {
	return p.id
}

// IsZero reports whether p is the zero Peer.
func (p Peer) IsZero() bool {
	return p.id == uuid.Nil
}

// IsMAC reports whether the identifier carries an embedded MAC address.
func (p Peer) IsMAC() bool {
	if p.IsZero() {
		return false
	}
	for _, b := range p.id[:10] {
		if b != 0 {
			return false
		}
	}
	return true
}

// MAC returns the embedded MAC address as 00:11:22:33:AA:BB, or "" for GUID peers.
func (p Peer) MAC() string {
	if !p.IsMAC() {
		return ""
	}
	return strings.ToUpper(net.HardwareAddr(p.id[10:]).String())
}

// PlatformAddress returns the address form BLE stacks expect: the MAC for MAC
// peers, the lowercase GUID otherwise (CoreBluetooth peripheral identifiers).
func (p Peer) PlatformAddress() string {
	if p.IsMAC() {
		return net.HardwareAddr(p.id[10:]).String()
	}
	return p.id.String()
}

func (p Peer) String() string {
	if p.IsMAC() {
		return p.MAC()
	}
	return strings.ToUpper(p.id.String())
}
