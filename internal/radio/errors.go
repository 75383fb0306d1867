package radio

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a transport failure.
type Kind string

const (
	KindInvalidAddressFormat    Kind = "invalid_address_format"
	KindConnectTimeout          Kind = "connect_timeout"
	KindConnectFailed           Kind = "connect_failed"
	KindServiceNotFound         Kind = "service_not_found"
	KindCharacteristicsNotFound Kind = "characteristics_not_found"
	KindSubscribeFailed         Kind = "subscribe_failed"
	KindNotOpen                 Kind = "not_open"
	KindWriteTimeout            Kind = "write_timeout"
	KindWriteFailed             Kind = "write_failed"
	KindDisconnectFailed        Kind = "disconnect_failed"
)

// Error is a transport failure of a given Kind. Err, when set, is the platform
// cause and is reachable through errors.Unwrap.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per Kind
var (
	ErrInvalidAddressFormat    = &Error{Kind: KindInvalidAddressFormat}
	ErrConnectTimeout          = &Error{Kind: KindConnectTimeout}
	ErrConnectFailed           = &Error{Kind: KindConnectFailed}
	ErrServiceNotFound         = &Error{Kind: KindServiceNotFound}
	ErrCharacteristicsNotFound = &Error{Kind: KindCharacteristicsNotFound}
	ErrSubscribeFailed         = &Error{Kind: KindSubscribeFailed}
	ErrNotOpen                 = &Error{Kind: KindNotOpen}
	ErrWriteTimeout            = &Error{Kind: KindWriteTimeout}
	ErrWriteFailed             = &Error{Kind: KindWriteFailed}
	ErrDisconnectFailed        = &Error{Kind: KindDisconnectFailed}
)

// Backend-level errors
var (
	ErrLinkLost    = errors.New("link lost")
	ErrUnsupported = errors.New("unsupported")
	ErrAdapterOff  = errors.New("bluetooth adapter is off")
)

// NewError builds an Error of the given kind around an optional cause.
func NewError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the Kind of the first Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
	}
}
