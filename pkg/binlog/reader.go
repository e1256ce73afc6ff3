package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	// maxBatchRecords caps how many records a single ReadRecords returns.
	maxBatchRecords = 128

	// readPollInterval is how often a reader at the tail re-checks for
	// new data.
	readPollInterval = 20 * time.Millisecond
)

// fileReader streams records from segment files, following rotation and
// blocking at the tail until new data arrives or Close is called.
type fileReader struct {
	log    *Binlog
	file   *os.File
	number uint64
	offset uint64

	closed    chan struct{}
	closeOnce sync.Once
}

// ReadRecords returns the next batch of records. It blocks when the log is
// fully consumed and returns ErrReaderExit once the reader is closed.
func (r *fileReader) ReadRecords() ([]Record, error) {
	var out []Record
	for {
		select {
		case <-r.closed:
			return nil, ErrReaderExit
		default:
		}

		rec, ok, err := r.readOne()
		if err != nil {
			if r.isClosed() {
				return nil, ErrReaderExit
			}
			return nil, err
		}
		if ok {
			out = append(out, rec)
			if len(out) >= maxBatchRecords {
				return out, nil
			}
			continue
		}

		if len(out) > 0 {
			return out, nil
		}

		// Tail of the current segment. Either the segment was sealed and
		// the next one exists, or we wait for the writer.
		rolled, err := r.roll()
		if err != nil {
			return nil, err
		}
		if rolled {
			continue
		}

		select {
		case <-r.closed:
			return nil, ErrReaderExit
		case <-time.After(readPollInterval):
		}
	}
}

// readOne decodes the entry at the current offset. ok is false when a full
// entry is not yet available at this position.
func (r *fileReader) readOne() (Record, bool, error) {
	var rec Record

	header := make([]byte, entryHeaderSize)
	if n, err := r.file.ReadAt(header, int64(r.offset)); err != nil {
		if !errors.Is(err, io.EOF) {
			return rec, false, fmt.Errorf("binlog: read entry header: %w", err)
		}
		if n < entryHeaderSize {
			return rec, false, nil
		}
	}

	checksum := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])
	if length == 0 || length > maxEntrySize {
		return rec, false, fmt.Errorf("binlog: invalid entry length %d at segment %d offset %d",
			length, r.number, r.offset)
	}

	payload := make([]byte, length)
	if n, err := r.file.ReadAt(payload, int64(r.offset)+entryHeaderSize); err != nil {
		if !errors.Is(err, io.EOF) {
			return rec, false, fmt.Errorf("binlog: read entry payload: %w", err)
		}
		if n < int(length) {
			return rec, false, nil
		}
	}

	if err := decodeEntry(checksum, payload, &rec); err != nil {
		return rec, false, fmt.Errorf("%w at segment %d offset %d", err, r.number, r.offset)
	}

	rec.FileNum = r.number
	r.offset += entryHeaderSize + uint64(length)
	return rec, true, nil
}

// roll advances to the next segment if one exists. A partial entry left at
// the tail of a sealed segment is skipped; the writer never splits an entry
// across segments, so those bytes can only be a torn crash remnant.
func (r *fileReader) roll() (bool, error) {
	if !r.log.segmentExists(r.number + 1) {
		return false, nil
	}
	next, err := os.Open(r.log.segmentPath(r.number + 1))
	if err != nil {
		return false, fmt.Errorf("binlog: open next segment: %w", err)
	}
	r.file.Close()
	r.file = next
	r.number++
	r.offset = 0
	return true, nil
}

// Offset returns the resume point just past the last record returned.
func (r *fileReader) Offset() (number, offset uint64) {
	return r.number, r.offset
}

// Close unblocks a pending ReadRecords and releases the segment file.
func (r *fileReader) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		r.file.Close()
	})
	return nil
}

func (r *fileReader) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

var _ Reader = (*fileReader)(nil)
