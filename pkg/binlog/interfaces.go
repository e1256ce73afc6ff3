package binlog

// Reader streams records from the binlog starting at a resume point.
// ReadRecords blocks at the end of the log until new records arrive or the
// reader is closed, in which case it returns ErrReaderExit.
type Reader interface {
	// ReadRecords returns the next batch of records in log order.
	ReadRecords() ([]Record, error)

	// Offset returns the resume point just past the last record returned:
	// the current segment number and the byte offset within it.
	Offset() (number, offset uint64)

	// Close releases the reader and unblocks a pending ReadRecords.
	Close() error
}

// Manager hands out readers over the binlog.
type Manager interface {
	// NewReader opens a reader at the given segment number and byte offset.
	NewReader(number, offset uint64) (Reader, error)
}
