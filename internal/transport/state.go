package transport

import "fmt"

// State is the lifecycle state of a Channel.
//
//	Closed -> Opening -> Open -> Closing -> Closed
//	Opening -> Closed   (any failure, after cleanup)
//	Open    -> Failed   (peer disconnect)
//	Failed  -> Closed   (explicit Close)
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
