package replication

import "sync/atomic"

// OffsetMatrix tracks, per (origin server, forwarding peer) pair, the
// highest binlog segment number already forwarded. It is used to avoid
// redundant re-propagation after recovery.
//
// The shape of the matrix is fixed at construction from the configured
// server id set; afterwards only cell values change, so updates need no
// lock — each cell is an independent atomic counter. Advancing an unknown
// pair is a no-op: a record from an unconfigured origin can never grow the
// matrix at runtime.
type OffsetMatrix struct {
	cells map[int32]map[int32]*atomic.Uint64
}

// NewOffsetMatrix builds a full origin×peer grid over the given server ids.
func NewOffsetMatrix(ids []int32) *OffsetMatrix {
	cells := make(map[int32]map[int32]*atomic.Uint64, len(ids))
	for _, origin := range ids {
		row := make(map[int32]*atomic.Uint64, len(ids))
		for _, peer := range ids {
			row[peer] = new(atomic.Uint64)
		}
		cells[origin] = row
	}
	return &OffsetMatrix{cells: cells}
}

// Advance raises the (origin, peer) cell to fileNum if it is higher than
// the current value. Values are monotonically non-decreasing. It returns
// false when the pair is not part of the matrix.
func (m *OffsetMatrix) Advance(origin, peer int32, fileNum uint64) bool {
	row, ok := m.cells[origin]
	if !ok {
		return false
	}
	cell, ok := row[peer]
	if !ok {
		return false
	}
	for {
		current := cell.Load()
		if fileNum <= current {
			return true
		}
		if cell.CompareAndSwap(current, fileNum) {
			return true
		}
	}
}

// Load returns the current value of the (origin, peer) cell.
func (m *OffsetMatrix) Load(origin, peer int32) (uint64, bool) {
	row, ok := m.cells[origin]
	if !ok {
		return 0, false
	}
	cell, ok := row[peer]
	if !ok {
		return 0, false
	}
	return cell.Load(), true
}

// Snapshot copies the matrix values for status reporting.
func (m *OffsetMatrix) Snapshot() map[int32]map[int32]uint64 {
	out := make(map[int32]map[int32]uint64, len(m.cells))
	for origin, row := range m.cells {
		values := make(map[int32]uint64, len(row))
		for peer, cell := range row {
			values[peer] = cell.Load()
		}
		out[origin] = values
	}
	return out
}
