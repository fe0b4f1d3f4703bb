// Package arq implements the stop-and-wait, alternating-bit reliability
// layer: a Sender that transmits one frame at a time and retransmits on
// timeout, and a Receiver that verifies, de-duplicates, writes and
// acknowledges.
//
// Both sides are single blocking loops. They only share the datagram Link
// between them; termination is driven exclusively by the Receiver's
// acknowledgment carrying frame.TerminalAck.
package arq

import (
	"time"
)

// Link is the datagram path to the peer. Receive waits at most timeout for
// one datagram and returns an errors.TimeoutError when it expires; a zero
// timeout blocks indefinitely.
type Link interface {
	Send(b []byte) error
	Receive(buf []byte, timeout time.Duration) (int, error)
}
