// WAL record codec: a binary, length-prefixed, CRC32C-checksummed
// append-only log, exactly as laid out in spec.md §4.4:
//
//	{ len: u32, crc: u32, rev: u64, author_id: [16]byte,
//	  op_id: [16]byte, ts_ms: u64, op_kind: u8, payload: ... }
//
// len/crc/rev/ts are big-endian. crc covers everything from rev
// through payload (i.e. everything len's value describes).
package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/prosemark/server/internal/ot"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const (
	opKindInsert = 0
	opKindDelete = 1
)

// Record is one WAL entry: a single op, already post-transform,
// assigned its own revision number.
type Record struct {
	Rev      uint64
	AuthorID uuid.UUID
	OpID     uuid.UUID
	TsMs     uint64
	Op       ot.Op
}

func encodePayload(op ot.Op) (kind byte, payload []byte) {
	switch op.Kind {
	case ot.KindInsert:
		text := []byte(op.Text)
		buf := make([]byte, 8+len(text))
		binary.BigEndian.PutUint32(buf[0:4], uint32(op.Pos))
		binary.BigEndian.PutUint32(buf[4:8], uint32(len(text)))
		copy(buf[8:], text)
		return opKindInsert, buf
	default:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint32(buf[0:4], uint32(op.Pos))
		binary.BigEndian.PutUint32(buf[4:8], uint32(op.Len))
		return opKindDelete, buf
	}
}

func decodePayload(kind byte, payload []byte) (ot.Op, error) {
	if len(payload) < 8 {
		return ot.Op{}, fmt.Errorf("wal: payload too short")
	}
	pos := int(binary.BigEndian.Uint32(payload[0:4]))
	switch kind {
	case opKindInsert:
		textLen := int(binary.BigEndian.Uint32(payload[4:8]))
		if len(payload) < 8+textLen {
			return ot.Op{}, fmt.Errorf("wal: truncated insert payload")
		}
		return ot.Insert(pos, string(payload[8:8+textLen])), nil
	case opKindDelete:
		length := int(binary.BigEndian.Uint32(payload[4:8]))
		return ot.Delete(pos, length), nil
	default:
		return ot.Op{}, fmt.Errorf("wal: unknown op_kind %d", kind)
	}
}

// WriteRecord appends a single record to w. Callers are responsible
// for fsync after a batch (§5: ack only after the WAL record is
// durable).
func WriteRecord(w io.Writer, rec Record) error {
	kind, payload := encodePayload(rec.Op)

	body := make([]byte, 8+16+16+8+1+len(payload))
	off := 0
	binary.BigEndian.PutUint64(body[off:off+8], rec.Rev)
	off += 8
	copy(body[off:off+16], rec.AuthorID[:])
	off += 16
	copy(body[off:off+16], rec.OpID[:])
	off += 16
	binary.BigEndian.PutUint64(body[off:off+8], rec.TsMs)
	off += 8
	body[off] = kind
	off++
	copy(body[off:], payload)

	crc := crc32.Checksum(body, castagnoli)

	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(body)))
	binary.BigEndian.PutUint32(header[4:8], crc)

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadRecord reads a single record from r. Returns io.EOF only when
// the stream ends cleanly at a record boundary.
func ReadRecord(r io.Reader) (Record, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Record{}, err // may be io.EOF, propagated as-is
	}
	bodyLen := binary.BigEndian.Uint32(header[0:4])
	wantCRC := binary.BigEndian.Uint32(header[4:8])

	if bodyLen < 8+16+16+8+1 {
		return Record{}, fmt.Errorf("wal: corrupt record length %d", bodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, fmt.Errorf("wal: truncated record body: %w", err)
	}
	if crc32.Checksum(body, castagnoli) != wantCRC {
		return Record{}, fmt.Errorf("wal: checksum mismatch")
	}

	off := 0
	rev := binary.BigEndian.Uint64(body[off : off+8])
	off += 8
	var authorID, opID uuid.UUID
	copy(authorID[:], body[off:off+16])
	off += 16
	copy(opID[:], body[off:off+16])
	off += 16
	ts := binary.BigEndian.Uint64(body[off : off+8])
	off += 8
	kind := body[off]
	off++
	op, err := decodePayload(kind, body[off:])
	if err != nil {
		return Record{}, err
	}
	return Record{Rev: rev, AuthorID: authorID, OpID: opID, TsMs: ts, Op: op}, nil
}

// ReplayResult is the outcome of streaming a WAL file from the start.
type ReplayResult struct {
	Records      []Record
	ValidBytes   int64 // offset of the last clean record boundary
	WasTruncated bool  // a bad record was found and dropped
}

// ReplayWAL streams every record in path in order, verifying checksum
// and strict rev continuity (rev == last_rev + 1). It stops at the
// first bad record rather than erroring the whole load, and reports
// how many bytes were valid so the caller can truncate trailing
// garbage (§4.4's crash-safe recovery).
func ReplayWAL(path string, baseRev uint64) (ReplayResult, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return ReplayResult{}, nil
	}
	if err != nil {
		return ReplayResult{}, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var result ReplayResult
	lastRev := baseRev
	var offset int64

	for {
		rec, err := ReadRecord(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			result.WasTruncated = true
			break
		}
		if rec.Rev != lastRev+1 {
			result.WasTruncated = true
			break
		}
		recLen := int64(8 + 8 + 16 + 16 + 8 + 1 + payloadLen(rec.Op))
		offset += recLen
		lastRev = rec.Rev
		result.Records = append(result.Records, rec)
	}
	result.ValidBytes = offset
	return result, nil
}

func payloadLen(op ot.Op) int {
	if op.Kind == ot.KindInsert {
		return 8 + len([]byte(op.Text))
	}
	return 8
}

// TruncateTrailingGarbage truncates path to validBytes, discarding any
// bytes written after the last clean record — the crash-safety net
// spec.md §4.4 requires after a bad record is found.
func TruncateTrailingGarbage(path string, validBytes int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(validBytes)
}
