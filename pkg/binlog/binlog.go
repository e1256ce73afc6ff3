package binlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Binlog is a file-segmented, append-only change log. Writes go to the
// newest segment; readers resume from any (segment, offset) pair and follow
// the log as it grows.
type Binlog struct {
	dataDir     string
	segmentSize int64

	mu     sync.Mutex
	file   *os.File
	number uint64 // segment currently being written
	size   int64  // bytes written to the current segment
	closed bool
}

// Config holds binlog tuning knobs.
type Config struct {
	// SegmentSize is the rotation threshold in bytes. A segment is sealed
	// once an append pushes it past this size.
	SegmentSize int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SegmentSize: 64 << 20,
	}
}

const segmentPrefix = "binlog."

// Open opens the binlog in dataDir, creating it if needed. Writing resumes
// at the end of the newest existing segment.
func Open(dataDir string, config Config) (*Binlog, error) {
	if config.SegmentSize <= 0 {
		config.SegmentSize = DefaultConfig().SegmentSize
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create binlog directory: %w", err)
	}

	b := &Binlog{
		dataDir:     dataDir,
		segmentSize: config.SegmentSize,
	}

	numbers, err := listSegments(dataDir)
	if err != nil {
		return nil, err
	}
	if len(numbers) > 0 {
		b.number = numbers[len(numbers)-1]
	}

	file, err := os.OpenFile(b.segmentPath(b.number), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open binlog segment: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat binlog segment: %w", err)
	}
	b.file = file
	b.size = info.Size()
	return b, nil
}

// Append writes a record to the log and syncs it to disk. The segment is
// rotated once it exceeds the configured size.
func (b *Binlog) Append(rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("binlog: closed")
	}

	entry := encodeEntry(&rec)
	if _, err := b.file.Write(entry); err != nil {
		return fmt.Errorf("failed to write binlog entry: %w", err)
	}
	if err := b.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync binlog: %w", err)
	}
	b.size += int64(len(entry))

	if b.size >= b.segmentSize {
		if err := b.rotate(); err != nil {
			return err
		}
	}
	return nil
}

// rotate seals the current segment and starts the next one.
// Caller holds b.mu.
func (b *Binlog) rotate() error {
	next, err := os.OpenFile(b.segmentPath(b.number+1), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to rotate binlog segment: %w", err)
	}
	b.file.Close()
	b.file = next
	b.number++
	b.size = 0
	return nil
}

// Position returns the current write position: the active segment number
// and the byte offset at its end.
func (b *Binlog) Position() (number, offset uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.number, uint64(b.size)
}

// NewReader opens a reader at the given segment number and byte offset.
func (b *Binlog) NewReader(number, offset uint64) (Reader, error) {
	file, err := os.Open(b.segmentPath(number))
	if err != nil {
		return nil, fmt.Errorf("failed to open binlog segment %d: %w", number, err)
	}
	return &fileReader{
		log:    b,
		file:   file,
		number: number,
		offset: offset,
		closed: make(chan struct{}),
	}, nil
}

// Close seals the log. Open readers are not closed; they keep reading the
// segment files until their own Close.
func (b *Binlog) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.file.Close()
}

func (b *Binlog) segmentPath(number uint64) string {
	return filepath.Join(b.dataDir, fmt.Sprintf("%s%06d", segmentPrefix, number))
}

// segmentExists reports whether a segment file is present on disk.
func (b *Binlog) segmentExists(number uint64) bool {
	_, err := os.Stat(b.segmentPath(number))
	return err == nil
}

func listSegments(dataDir string) ([]uint64, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read binlog directory: %w", err)
	}
	numbers := make([]uint64, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, segmentPrefix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(name, segmentPrefix), 10, 64)
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers, nil
}

var _ Manager = (*Binlog)(nil)
