package radio

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeer(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantMAC  string
		wantUUID string
		platform string
	}{
		{
			name:     "plain MAC",
			input:    "00112233AABB",
			wantMAC:  "00:11:22:33:AA:BB",
			wantUUID: "00000000-0000-0000-0000-00112233aabb",
			platform: "00:11:22:33:aa:bb",
		},
		{
			name:     "colon MAC",
			input:    "00:11:22:33:AA:BB",
			wantMAC:  "00:11:22:33:AA:BB",
			wantUUID: "00000000-0000-0000-0000-00112233aabb",
			platform: "00:11:22:33:aa:bb",
		},
		{
			name:     "lowercase colon MAC",
			input:    "00:11:22:33:aa:bb",
			wantMAC:  "00:11:22:33:AA:BB",
			wantUUID: "00000000-0000-0000-0000-00112233aabb",
			platform: "00:11:22:33:aa:bb",
		},
		{
			name:     "GUID",
			input:    "01234567-0123-0123-0123-0123456789AB",
			wantUUID: "01234567-0123-0123-0123-0123456789ab",
			platform: "01234567-0123-0123-0123-0123456789ab",
		},
		{
			name:     "surrounding whitespace",
			input:    "  00112233AABB ",
			wantMAC:  "00:11:22:33:AA:BB",
			wantUUID: "00000000-0000-0000-0000-00112233aabb",
			platform: "00:11:22:33:aa:bb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePeer(tt.input)
			require.NoError(t, err)

			assert.Equal(t, tt.wantUUID, p.UUID().String())
			assert.Equal(t, tt.wantMAC, p.MAC())
			assert.Equal(t, tt.wantMAC != "", p.IsMAC())
			assert.Equal(t, tt.platform, p.PlatformAddress())
		})
	}
}

func TestParsePeerRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{
		"not-an-address",
		"00112233AAB",   // odd length
		"00112233AABBC", // 13 digits
		"00:11:22:33:AA",
		"00-11-22-33-AA-BB",
		"0011:2233:AABB",
		"01234567-0123-0123-0123-0123456789A",
		"{01234567-0123-0123-0123-0123456789AB}",
		"0123456701230123012301234567890AB",
		"GG112233AABB",
		"",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParsePeer(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidAddressFormat)
			assert.Equal(t, KindInvalidAddressFormat, KindOf(err))
		})
	}
}

func TestPeerString(t *testing.T) {
	assert.Equal(t, "00:11:22:33:AA:BB", MustParsePeer("00112233aabb").String())
	assert.Equal(t, "01234567-0123-0123-0123-0123456789AB", MustParsePeer("01234567-0123-0123-0123-0123456789ab").String())
}

func TestPeerFromUUID(t *testing.T) {
	id := uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	p := PeerFromUUID(id)

	assert.Equal(t, id, p.UUID())
	assert.False(t, p.IsMAC())
	assert.Empty(t, p.MAC())
	assert.False(t, p.IsZero())
	assert.True(t, Peer{}.IsZero())
	assert.False(t, Peer{}.IsMAC())
}

func TestMustParsePeerPanics(t *testing.T) {
	assert.Panics(t, func() { MustParsePeer("nope") })
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("gatt 133")
	err := NewError(KindConnectFailed, cause, "could not connect to %s", "00:11:22:33:AA:BB")

	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.NotErrorIs(t, err, ErrConnectTimeout)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "connect_failed: could not connect to 00:11:22:33:AA:BB: gatt 133", err.Error())

	wrapped := errors.Join(errors.New("outer"), err)
	assert.Equal(t, KindConnectFailed, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(cause))

	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.Equal(t, "not_open", ErrNotOpen.Error())
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "service not found", (&NotFoundError{Resource: "service"}).Error())
	assert.Equal(t, `service "180d" not found`, (&NotFoundError{Resource: "service", UUIDs: []string{"180d"}}).Error())
	assert.Equal(t, `characteristic "2a37" not found in service "180d"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}}).Error())
}

func TestNormalizeUUID(t *testing.T) {
	assert.Equal(t, "53da53b90447425ab9ea9837505eb59a", NormalizeUUID(ServiceUUID))
	assert.Equal(t, "2902", NormalizeUUID("0x2902"))
	assert.True(t, SameUUID(TXCharUUID, "7dddca003e054651925444074792c590"))
	assert.False(t, SameUUID(TXCharUUID, RXCharUUID))
}

func TestLinkStateString(t *testing.T) {
	assert.Equal(t, "connected", LinkConnected.String())
	assert.Equal(t, "limited", LinkLimited.String())
	assert.Equal(t, "LinkState(42)", LinkState(42).String())
}
