package binlog

import "errors"

// OpCode identifies the kind of write a binlog record carries.
// The set is closed: every consumer switches over all three values.
type OpCode uint8

const (
	OpSet OpCode = iota + 1
	OpDel
	OpExpireAt
)

// String returns the wire-level command name for the op code.
func (op OpCode) String() string {
	switch op {
	case OpSet:
		return "set"
	case OpDel:
		return "del"
	case OpExpireAt:
		return "expireat"
	}
	return "unknown"
}

// Record is a single locally-applied write as stored in the binlog.
// FileNum is the segment the record was read from; it is assigned by the
// reader, not persisted in the entry payload. Records are immutable once
// produced.
type Record struct {
	ServerID int32
	FileNum  uint64
	Key      string
	Value    string
	Op       OpCode
	ExecTime int32
}

// ErrReaderExit is returned by a blocked reader after Close. It signals a
// cooperative shutdown, not a failure.
var ErrReaderExit = errors.New("binlog: reader exit")
