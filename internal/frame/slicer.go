// Package frame splits outbound writes into ATT-sized chunks.
package frame

import (
	"errors"
	"fmt"
)

// ATTOverhead is the opcode plus attribute handle carried by every ATT write.
const ATTOverhead = 3

// ErrInvalidMTU is returned for an MTU that leaves no room for payload.
var ErrInvalidMTU = errors.New("invalid MTU")

// PayloadSize returns the largest write payload for a given ATT MTU.
func PayloadSize(mtu int) (int, error) {
	if mtu <= ATTOverhead {
		return 0, fmt.Errorf("%w: %d (must be greater than %d)", ErrInvalidMTU, mtu, ATTOverhead)
	}
	return mtu - ATTOverhead, nil
}

// Slice splits buf into consecutive chunks of at most mtu-3 bytes. The chunks
// alias buf. A buf that already fits is returned as the single chunk.
func Slice(buf []byte, mtu int) ([][]byte, error) {
	size, err := PayloadSize(mtu)
	if err != nil {
		return nil, err
	}
	if len(buf) <= size {
		return [][]byte{buf}, nil
	}

	chunks := make([][]byte, 0, (len(buf)+size-1)/size)
	for off := 0; off < len(buf); off += size {
		end := off + size
		if end > len(buf) {
			end = len(buf)
		}
		chunks = append(chunks, buf[off:end:end])
	}
	return chunks, nil
}
