// Package replication implements the outbound half of relaykv's
// anti-entropy replication: per-peer binlog senders that stream
// locally-applied writes over persistent RESP connections, and a trysync
// supervisor that negotiates resume points and manages sender lifecycle.
//
// There is no consensus here. Duplicate and re-ordered delivery are
// tolerated by design: commands are idempotent and every node applies the
// same last-writer-wins freshness check.
package replication

import "time"

const (
	// ConnectTimeout bounds data-channel and control-channel dials.
	ConnectTimeout = 1500 * time.Millisecond

	// SendTimeout and RecvTimeout bound individual socket operations.
	SendTimeout = 3 * time.Second
	RecvTimeout = 3 * time.Second

	// connectRetryInterval is the fixed backoff between failed
	// data-channel connection attempts. Connection failures never count
	// toward the fatal retry ceiling.
	connectRetryInterval = 2 * time.Second

	// sendRetryInterval is the pause after a failed batch transmission
	// before the reader is reset and the batch regenerated.
	sendRetryInterval = time.Second

	// readRetryInterval is the pause between binlog read retries.
	readRetryInterval = 500 * time.Millisecond

	// MaxRetryTimes is the ceiling on consecutive non-graceful read
	// failures. Exceeding it disables the sender until the next
	// successful trysync.
	MaxRetryTimes = 10

	// DataPortOffset separates a peer's data-streaming channel from its
	// configured control port: streaming connects to port+DataPortOffset,
	// trysync handshakes to the port itself.
	DataPortOffset = 1000

	// DefaultTrysyncInterval is the period of the supervision loop.
	DefaultTrysyncInterval = 2 * time.Second
)
