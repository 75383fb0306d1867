package radiofactory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/xblink/internal/radio"
	goble "github.com/srg/xblink/internal/radio/go-ble"
	tinygoble "github.com/srg/xblink/internal/radio/tinygo"
)

// Backend names accepted by New.
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"

	DefaultBackend = BackendGoBLE
)

// Backend is a radio adapter that can also scan.
type Backend interface {
	radio.Adapter
	NewScanner() (radio.Scanner, error)
}

var backends = map[string]func(*logrus.Logger) Backend{
	BackendGoBLE:  func(l *logrus.Logger) Backend { return goble.NewAdapter(l) },
	BackendTinyGo: func(l *logrus.Logger) Backend { return tinygoble.NewAdapter(l) },
}

// AdapterFactory creates the backend for the given name.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = New

// New returns the named backend; an empty name selects DefaultBackend.
// Backends touch the platform radio lazily, on the first connect or scan.
func New(name string, logger *logrus.Logger) (Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultBackend
	}
	mk, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown radio backend %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return mk(logger), nil
}

// Names lists the supported backends in sorted order.
func Names() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
