package tinygoble

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/xblink/internal/radio"
	"tinygo.org/x/bluetooth"
)

type scanner struct {
	adapter *bluetooth.Adapter
}

// Scan runs until ctx is done and then returns ctx.Err(). Without allowDup
// each address is reported once.
func (s *scanner) Scan(ctx context.Context, allowDup bool, handler func(radio.Advertisement)) error {
	var mu sync.Mutex
	seen := make(map[string]struct{})

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = s.adapter.StopScan()
		case <-done:
		}
	}()

	err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		if !allowDup {
			mu.Lock()
			_, dup := seen[addr]
			seen[addr] = struct{}{}
			mu.Unlock()
			if dup {
				return
			}
		}
		handler(advertisement{result: result})
	})
	close(done)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

type advertisement struct {
	result bluetooth.ScanResult
}

func (a advertisement) Addr() string      { return a.result.Address.String() }
func (a advertisement) LocalName() string { return a.result.LocalName() }
func (a advertisement) RSSI() int         { return int(a.result.RSSI) }

// Connectable is not reported by every tinygo platform; scan results are
// treated as connectable.
func (a advertisement) Connectable() bool { return true }

// Services only reports the serial service, the one UUID the advertisement
// payload can be queried for on every platform.
func (a advertisement) Services() []string {
	u, err := bluetooth.ParseUUID(radio.ServiceUUID)
	if err == nil && a.result.HasServiceUUID(u) {
		return []string{radio.ServiceUUID}
	}
	return nil
}
