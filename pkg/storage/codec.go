package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cuemby/ledger/pkg/types"
)

// Row encoding follows spec.md §6's per-table block format byte-for-byte,
// even though the bytes end up as a bbolt value rather than a fixed-size
// block in a hand-rolled data file: delete_flag(1 byte) || row_len(uint32
// LE) || packed fields, with INT=i32 LE, FLOAT=f32 LE, CHAR(n)=n bytes
// NUL-padded, VARCHAR(n)=uint16 LE length || bytes.

const (
	flagLive    byte = 0x00
	flagDeleted byte = 'D'
)

// encodeRow packs a row's values according to schema into the wire format
// spec.md §6 describes, prefixed with a live delete_flag and length.
func encodeRow(schema types.Schema, values []types.Value) ([]byte, error) {
	if len(values) != len(schema.Columns) {
		return nil, fmt.Errorf("storage: row has %d values, schema %s wants %d", len(values), schema.Table, len(schema.Columns))
	}

	body := make([]byte, 0, 64)
	for i, col := range schema.Columns {
		v := values[i]
		switch col.Type {
		case types.ColumnInt:
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, uint32(v.I))
			body = append(body, buf...)
		case types.ColumnFloat:
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v.F))
			body = append(body, buf...)
		case types.ColumnChar:
			buf := make([]byte, col.Length)
			copy(buf, v.S)
			body = append(body, buf...)
		case types.ColumnVarchar:
			s := v.S
			if len(s) > col.Length {
				s = s[:col.Length]
			}
			lenBuf := make([]byte, 2)
			binary.LittleEndian.PutUint16(lenBuf, uint16(len(s)))
			body = append(body, lenBuf...)
			body = append(body, []byte(s)...)
		default:
			return nil, fmt.Errorf("storage: unknown column type %v for %s.%s", col.Type, schema.Table, col.Name)
		}
	}

	out := make([]byte, 0, 5+len(body))
	out = append(out, flagLive)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(body)))
	out = append(out, lenBuf...)
	out = append(out, body...)
	return out, nil
}

// decodeRow unpacks a stored row's bytes into schema-ordered values. It
// reports tombstoned rows via the ok=false return instead of an error,
// since a tombstoned row is an expected state, not a failure.
func decodeRow(schema types.Schema, raw []byte) (values []types.Value, ok bool, err error) {
	if len(raw) < 5 {
		return nil, false, fmt.Errorf("storage: row too short (%d bytes)", len(raw))
	}
	if raw[0] == flagDeleted {
		return nil, false, nil
	}

	rowLen := binary.LittleEndian.Uint32(raw[1:5])
	body := raw[5:]
	if uint32(len(body)) < rowLen {
		return nil, false, fmt.Errorf("storage: truncated row body for %s", schema.Table)
	}

	values = make([]types.Value, len(schema.Columns))
	off := 0
	for i, col := range schema.Columns {
		switch col.Type {
		case types.ColumnInt:
			if off+4 > len(body) {
				return nil, false, fmt.Errorf("storage: row truncated reading INT column %s", col.Name)
			}
			values[i] = types.IntValue(int32(binary.LittleEndian.Uint32(body[off : off+4])))
			off += 4
		case types.ColumnFloat:
			if off+4 > len(body) {
				return nil, false, fmt.Errorf("storage: row truncated reading FLOAT column %s", col.Name)
			}
			values[i] = types.FloatValue(math.Float32frombits(binary.LittleEndian.Uint32(body[off : off+4])))
			off += 4
		case types.ColumnChar:
			if off+col.Length > len(body) {
				return nil, false, fmt.Errorf("storage: row truncated reading CHAR column %s", col.Name)
			}
			values[i] = types.TextValue(trimNUL(body[off : off+col.Length]))
			off += col.Length
		case types.ColumnVarchar:
			if off+2 > len(body) {
				return nil, false, fmt.Errorf("storage: row truncated reading VARCHAR length for %s", col.Name)
			}
			n := int(binary.LittleEndian.Uint16(body[off : off+2]))
			off += 2
			if off+n > len(body) {
				return nil, false, fmt.Errorf("storage: row truncated reading VARCHAR column %s", col.Name)
			}
			values[i] = types.TextValue(string(body[off : off+n]))
			off += n
		default:
			return nil, false, fmt.Errorf("storage: unknown column type %v for %s.%s", col.Type, schema.Table, col.Name)
		}
	}
	return values, true, nil
}

// tombstone flips a previously-encoded row's delete_flag to 'D' in place,
// per spec.md §4.2 ("mark matching rows tombstoned").
func tombstone(raw []byte) []byte {
	out := append([]byte(nil), raw...)
	if len(out) > 0 {
		out[0] = flagDeleted
	}
	return out
}

func trimNUL(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
