package replication

import (
	"sort"
	"sync"
)

// Diagnostic is the connection state surfaced per peer for operational
// visibility.
type Diagnostic int

const (
	// DiagnosticNone: no failure recorded on this peer's data channel.
	DiagnosticNone Diagnostic = iota
	// DiagnosticSendFailed: the last batch transmission failed; the
	// sender is reconnecting and will retry indefinitely.
	DiagnosticSendFailed
	// DiagnosticFatal: the sender exceeded its read retry ceiling and is
	// disabled until the next successful trysync.
	DiagnosticFatal
)

// String returns a human-readable diagnostic name.
func (d Diagnostic) String() string {
	switch d {
	case DiagnosticNone:
		return "none"
	case DiagnosticSendFailed:
		return "send-failed"
	case DiagnosticFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// PeerStatus is the replication state kept for a single peer node.
//
// Invariant: Sender is non-nil if and only if a sending loop is alive for
// this peer and MarkedForRemoval is false. The trysync supervisor owns the
// absent→running transition; the sender clears its own handle on a fatal
// exit; the supervisor clears it on removal. No one else touches it.
type PeerStatus struct {
	IP   string
	Port int

	// Resume point the peer asked us to negotiate from (trysync payload).
	RecvNumber uint64
	RecvOffset uint64

	// Last position successfully forwarded to this peer.
	SendNumber uint64
	SendOffset uint64

	// NeedsSync marks the peer for (re)negotiation on the next
	// supervisor cycle.
	NeedsSync bool

	// MarkedForRemoval schedules the entry and its sender for disposal.
	MarkedForRemoval bool

	Diagnostic Diagnostic

	// Descriptor is the file descriptor of the active data connection,
	// -1 when there is none.
	Descriptor int

	Sender *BinlogSender
}

// PeerRegistry is the shared map from peer server id to replication state.
// The mutex is held only for short critical sections; callers must never
// perform network I/O inside Visit or Update.
type PeerRegistry struct {
	mu    sync.Mutex
	peers map[int32]*PeerStatus
}

// NewPeerRegistry creates an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		peers: make(map[int32]*PeerStatus),
	}
}

// Add registers a peer. An existing entry for the id is replaced.
func (r *PeerRegistry) Add(id int32, status *PeerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status.Descriptor == 0 {
		status.Descriptor = -1
	}
	r.peers[id] = status
}

// Visit runs fn on the peer's status under the registry lock. It returns
// false when the peer is not registered.
func (r *PeerRegistry) Visit(id int32, fn func(*PeerStatus)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.peers[id]
	if !ok {
		return false
	}
	fn(status)
	return true
}

// Update runs fn on the whole peer map under the registry lock. fn may
// delete entries.
func (r *PeerRegistry) Update(fn func(peers map[int32]*PeerStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.peers)
}

// Get returns a copy of the peer's status.
func (r *PeerRegistry) Get(id int32) (PeerStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.peers[id]
	if !ok {
		return PeerStatus{}, false
	}
	return *status, true
}

// Has reports whether the peer is registered.
func (r *PeerRegistry) Has(id int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[id]
	return ok
}

// Remove erases the peer's entry.
func (r *PeerRegistry) Remove(id int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

// IDs returns the registered peer ids in ascending order.
func (r *PeerRegistry) IDs() []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int32, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered peers.
func (r *PeerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
