package binlog

import (
	"errors"
	"testing"
	"time"
)

func testRecord(serverID int32, key, value string, op OpCode, execTime int32) Record {
	return Record{
		ServerID: serverID,
		Key:      key,
		Value:    value,
		Op:       op,
		ExecTime: execTime,
	}
}

// TestBinlog_AppendRead tests a write/read roundtrip within one segment
func TestBinlog_AppendRead(t *testing.T) {
	log, err := Open(t.TempDir(), DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	want := []Record{
		testRecord(1, "a", "v1", OpSet, 10),
		testRecord(2, "b", "", OpDel, 11),
		testRecord(1, "c", "1700000000", OpExpireAt, 12),
	}
	for _, rec := range want {
		if err := log.Append(rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	reader, err := log.NewReader(0, 0)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	got, err := reader.ReadRecords()
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ServerID != want[i].ServerID ||
			got[i].Key != want[i].Key ||
			got[i].Value != want[i].Value ||
			got[i].Op != want[i].Op ||
			got[i].ExecTime != want[i].ExecTime {
			t.Errorf("Record %d mismatch: got %+v, want %+v", i, got[i], want[i])
		}
		if got[i].FileNum != 0 {
			t.Errorf("Record %d: expected FileNum 0, got %d", i, got[i].FileNum)
		}
	}
}

// TestBinlog_Rotation tests that readers follow segment rollover
func TestBinlog_Rotation(t *testing.T) {
	// Tiny segment size: every append seals a segment.
	log, err := Open(t.TempDir(), Config{SegmentSize: 1})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	for i := 0; i < 3; i++ {
		if err := log.Append(testRecord(1, "k", "v", OpSet, int32(i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	number, offset := log.Position()
	if number != 3 || offset != 0 {
		t.Fatalf("Expected write position (3, 0), got (%d, %d)", number, offset)
	}

	reader, err := log.NewReader(0, 0)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	var got []Record
	for len(got) < 3 {
		batch, err := reader.ReadRecords()
		if err != nil {
			t.Fatalf("ReadRecords failed: %v", err)
		}
		got = append(got, batch...)
	}
	for i, rec := range got {
		if rec.FileNum != uint64(i) {
			t.Errorf("Record %d: expected FileNum %d, got %d", i, i, rec.FileNum)
		}
		if rec.ExecTime != int32(i) {
			t.Errorf("Record %d: expected ExecTime %d, got %d", i, i, rec.ExecTime)
		}
	}
}

// TestBinlog_Resume tests resuming a reader from a persisted offset
func TestBinlog_Resume(t *testing.T) {
	log, err := Open(t.TempDir(), DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	for i := 0; i < 4; i++ {
		if err := log.Append(testRecord(1, "k", "v", OpSet, int32(i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	reader, err := log.NewReader(0, 0)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	first, err := reader.ReadRecords()
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	if len(first) != 4 {
		t.Fatalf("Expected 4 records, got %d", len(first))
	}
	number, offset := reader.Offset()
	reader.Close()

	// More records after the checkpoint.
	if err := log.Append(testRecord(1, "k", "v", OpSet, 100)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	resumed, err := log.NewReader(number, offset)
	if err != nil {
		t.Fatalf("NewReader at resume point failed: %v", err)
	}
	defer resumed.Close()

	rest, err := resumed.ReadRecords()
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	if len(rest) != 1 || rest[0].ExecTime != 100 {
		t.Fatalf("Expected the single post-checkpoint record, got %+v", rest)
	}
}

// TestBinlog_ReaderExit tests that Close unblocks a tailing reader
func TestBinlog_ReaderExit(t *testing.T) {
	log, err := Open(t.TempDir(), DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	reader, err := log.NewReader(0, 0)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := reader.ReadRecords()
		errCh <- err
	}()

	// Give the reader time to reach the tail and block.
	time.Sleep(50 * time.Millisecond)
	reader.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReaderExit) {
			t.Fatalf("Expected ErrReaderExit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reader did not unblock after Close")
	}
}

// TestBinlog_ReopenResumesSegment tests that reopening the log continues in
// the newest segment
func TestBinlog_ReopenResumesSegment(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, Config{SegmentSize: 1})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := log.Append(testRecord(1, "k", "v", OpSet, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	log.Close()

	reopened, err := Open(dir, Config{SegmentSize: 1})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	number, offset := reopened.Position()
	if number != 1 || offset != 0 {
		t.Fatalf("Expected resume at (1, 0), got (%d, %d)", number, offset)
	}
}

// TestEncodeDecodePayload tests the record payload codec
func TestEncodeDecodePayload(t *testing.T) {
	want := testRecord(7, "some-key", "some-value", OpExpireAt, 42)

	var got Record
	if err := decodePayload(encodePayload(&want), &got); err != nil {
		t.Fatalf("decodePayload failed: %v", err)
	}
	if got.ServerID != want.ServerID || got.Key != want.Key ||
		got.Value != want.Value || got.Op != want.Op || got.ExecTime != want.ExecTime {
		t.Errorf("Roundtrip mismatch: got %+v, want %+v", got, want)
	}
}

// TestDecodeEntry_ChecksumMismatch tests corruption detection
func TestDecodeEntry_ChecksumMismatch(t *testing.T) {
	rec := testRecord(1, "k", "v", OpSet, 1)
	entry := encodeEntry(&rec)

	// Flip a payload byte.
	entry[len(entry)-1] ^= 0xff

	var got Record
	err := decodeEntry(0xdeadbeef, entry[entryHeaderSize:], &got)
	if err == nil {
		t.Fatal("Expected checksum error, got nil")
	}
}
