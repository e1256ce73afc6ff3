package binlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
)

// On-disk entry format: [Checksum:4][Len:4][snappy-compressed payload:Len]
// Checksum is CRC32 (IEEE) over the compressed payload.
//
// Payload format: [ServerID:4][ExecTime:4][Op:1][KeyLen:4][Key][ValueLen:4][Value]
// All integers little-endian.

const entryHeaderSize = 8

// maxEntrySize bounds a single decoded entry; anything larger is corruption.
const maxEntrySize = 64 << 20

func encodePayload(rec *Record) []byte {
	buf := make([]byte, 0, 13+len(rec.Key)+len(rec.Value)+8)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rec.ServerID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rec.ExecTime))
	buf = append(buf, byte(rec.Op))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rec.Key)))
	buf = append(buf, rec.Key...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rec.Value)))
	buf = append(buf, rec.Value...)
	return buf
}

func decodePayload(payload []byte, rec *Record) error {
	if len(payload) < 13 {
		return fmt.Errorf("binlog: payload too short: %d bytes", len(payload))
	}
	rec.ServerID = int32(binary.LittleEndian.Uint32(payload[0:4]))
	rec.ExecTime = int32(binary.LittleEndian.Uint32(payload[4:8]))
	rec.Op = OpCode(payload[8])
	if rec.Op < OpSet || rec.Op > OpExpireAt {
		return fmt.Errorf("binlog: invalid op code %d", rec.Op)
	}
	pos := 9

	keyLen := int(binary.LittleEndian.Uint32(payload[pos : pos+4]))
	pos += 4
	if keyLen < 0 || pos+keyLen+4 > len(payload) {
		return fmt.Errorf("binlog: key length %d out of range", keyLen)
	}
	rec.Key = string(payload[pos : pos+keyLen])
	pos += keyLen

	valLen := int(binary.LittleEndian.Uint32(payload[pos : pos+4]))
	pos += 4
	if valLen < 0 || pos+valLen > len(payload) {
		return fmt.Errorf("binlog: value length %d out of range", valLen)
	}
	rec.Value = string(payload[pos : pos+valLen])
	return nil
}

// encodeEntry frames a record for disk: header plus compressed payload.
func encodeEntry(rec *Record) []byte {
	compressed := snappy.Encode(nil, encodePayload(rec))
	entry := make([]byte, entryHeaderSize, entryHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(entry[0:4], crc32.ChecksumIEEE(compressed))
	binary.LittleEndian.PutUint32(entry[4:8], uint32(len(compressed)))
	return append(entry, compressed...)
}

// decodeEntry verifies and decodes a compressed payload read from disk.
func decodeEntry(checksum uint32, compressed []byte, rec *Record) error {
	if crc32.ChecksumIEEE(compressed) != checksum {
		return fmt.Errorf("binlog: checksum mismatch")
	}
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("binlog: decompress entry: %w", err)
	}
	return decodePayload(payload, rec)
}
