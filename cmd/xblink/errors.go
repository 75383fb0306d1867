package main

import (
	"errors"
	"fmt"

	"github.com/srg/xblink/internal/radio"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the peer dropped the link while a command
	// was still using it.
	ErrConnectionLost = errors.New("connection lost")
)

var hints = map[radio.Kind]string{
	radio.KindInvalidAddressFormat:    "use AA:BB:CC:DD:EE:FF, AABBCCDDEEFF or a CoreBluetooth identifier",
	radio.KindConnectTimeout:          "is the module powered, in range and advertising? try 'xblink scan'",
	radio.KindServiceNotFound:         "the device does not expose the XBee BLE serial service; is BLE enabled on the module (BT=1)?",
	radio.KindCharacteristicsNotFound: "the serial service is incomplete; check the module firmware",
	radio.KindSubscribeFailed:         "the device refused notifications; try reconnecting",
	radio.KindNotOpen:                 "the connection is not open",
	radio.KindWriteTimeout:            "the device stopped acknowledging writes",
}

// FormatUserError renders err for the terminal, adding a hint for known
// transport failures.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case errors.Is(err, radio.ErrAdapterOff):
		return msg + "\n  hint: turn Bluetooth on and grant this terminal Bluetooth access"
	case errors.Is(err, radio.ErrUnsupported):
		return msg + "\n  hint: try another backend with --backend"
	}
	if hint, ok := hints[radio.KindOf(err)]; ok {
		return fmt.Sprintf("%s\n  hint: %s", msg, hint)
	}
	return msg
}
