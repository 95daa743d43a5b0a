// Package value implements propd's tagged-variant wire value: parsing and
// formatting at the CLI/text boundary, and the binary wire form used by
// every protocol frame.
package value

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Type tags a Value's payload interpretation. The numeric values match
// original_source/lib/value.h's enum ordering; nothing here depends on
// the exact numbers beyond wire stability.
type Type uint8

const (
	Undef Type = iota
	Data
	CString
	I32
	U32
	I64
	U64
	Float
	Double
)

func (t Type) String() string {
	switch t {
	case Data:
		return "data"
	case CString:
		return "cstring"
	case I32:
		return "i32"
	case U32:
		return "u32"
	case I64:
		return "i64"
	case U64:
		return "u64"
	case Float:
		return "float"
	case Double:
		return "double"
	default:
		return "undef"
	}
}

// Value is a tagged, length-prefixed binary payload. Every Value owns its
// own Bytes slice; nothing is shared or computed from another Value.
type Value struct {
	Type  Type
	Bytes []byte
}

func fixed(t Type, b []byte) Value { return Value{Type: t, Bytes: b} }

func I32Value(n int32) Value {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(n))
	return fixed(I32, b)
}

func U32Value(n uint32) Value {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return fixed(U32, b)
}

func I64Value(n int64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(n))
	return fixed(I64, b)
}

func U64Value(n uint64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return fixed(U64, b)
}

func FloatValue(n float32) Value {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(n))
	return fixed(Float, b)
}

func DoubleValue(n float64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(n))
	return fixed(Double, b)
}

func CStringValue(s string) Value {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return fixed(CString, b)
}

func DataValue(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return fixed(Data, cp)
}

// Dup returns a deep copy; callers that hand a Value across a cache/route
// boundary must not alias the original's Bytes.
func (v Value) Dup() Value {
	b := make([]byte, len(v.Bytes))
	copy(b, v.Bytes)
	return Value{Type: v.Type, Bytes: b}
}

func (v Value) ToI32() int32   { return int32(binary.LittleEndian.Uint32(v.Bytes)) }
func (v Value) ToU32() uint32  { return binary.LittleEndian.Uint32(v.Bytes) }
func (v Value) ToI64() int64   { return int64(binary.LittleEndian.Uint64(v.Bytes)) }
func (v Value) ToU64() uint64  { return binary.LittleEndian.Uint64(v.Bytes) }
func (v Value) ToFloat() float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(v.Bytes))
}
func (v Value) ToDouble() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Bytes))
}

// Parse decodes the CLI/text boundary form "<tag>:<text>". An unrecognized
// or absent tag prefix falls back to whole-string cstring, matching
// original_source/lib/value.c:value_parse.
func Parse(s string) (Value, error) {
	tag, text, hasColon := strings.Cut(s, ":")
	if !hasColon {
		return CStringValue(s), nil
	}

	switch tag {
	case "i32":
		n, err := strconv.ParseInt(text, 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse i32: %w", err)
		}
		return I32Value(int32(n)), nil
	case "u32":
		n, err := strconv.ParseUint(text, 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse u32: %w", err)
		}
		return U32Value(uint32(n)), nil
	case "i64":
		n, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse i64: %w", err)
		}
		return I64Value(n), nil
	case "u64":
		n, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse u64: %w", err)
		}
		return U64Value(n), nil
	case "float":
		n, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse float: %w", err)
		}
		return FloatValue(float32(n)), nil
	case "double":
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse double: %w", err)
		}
		return DoubleValue(n), nil
	case "data":
		text = strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")
		b, err := hex.DecodeString(text)
		if err != nil {
			return Value{}, fmt.Errorf("parse data: %w", err)
		}
		return DataValue(b), nil
	case "cstring":
		return CStringValue(text), nil
	default:
		// Unrecognized tag: the whole original string is the cstring,
		// colon included.
		return CStringValue(s), nil
	}
}

const ellipsisMiddle = 64

// Format renders a Value back to its textual boundary form. includeTag
// prefixes "<tag>:"; data payloads longer than the log-friendly threshold
// are ellipsized in the middle.
func Format(v Value, includeTag bool) string {
	var body string
	switch v.Type {
	case I32:
		body = strconv.FormatInt(int64(v.ToI32()), 10)
	case U32:
		body = strconv.FormatUint(uint64(v.ToU32()), 10)
	case I64:
		body = strconv.FormatInt(v.ToI64(), 10)
	case U64:
		body = strconv.FormatUint(v.ToU64(), 10)
	case Float:
		body = strconv.FormatFloat(float64(v.ToFloat()), 'g', -1, 32)
	case Double:
		body = strconv.FormatFloat(v.ToDouble(), 'g', -1, 64)
	case Data:
		body = ellipsizeHex(v.Bytes)
	case CString:
		body = strings.TrimSuffix(string(v.Bytes), "\x00")
	default:
		body = ""
	}
	if !includeTag {
		return body
	}
	return v.Type.String() + ":" + body
}

func ellipsizeHex(b []byte) string {
	full := hex.EncodeToString(b)
	if len(full) <= ellipsisMiddle {
		return full
	}
	half := (ellipsisMiddle - 3) / 2
	return full[:half] + "..." + full[len(full)-half:]
}

// Encode writes the wire form [u8 type][u32 LE length][payload] to w.
func Encode(w io.Writer, v Value) error {
	hdr := make([]byte, 5)
	hdr[0] = byte(v.Type)
	binary.LittleEndian.PutUint32(hdr[1:], uint32(len(v.Bytes)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(v.Bytes) == 0 {
		return nil
	}
	_, err := w.Write(v.Bytes)
	return err
}

// DecodeHeader reads the [u8 type][u32 LE length] header only, leaving the
// payload for the caller (servers need to stream/bound payload reads
// before committing to an allocation).
func DecodeHeader(r io.Reader) (Type, uint32, error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Undef, 0, err
	}
	return Type(hdr[0]), binary.LittleEndian.Uint32(hdr[1:]), nil
}

// MaxPayloadBytes bounds a single Value's payload against a corrupt or
// hostile length field (spec §4.7 discard policy / §8 "protocol
// resync"). No propd value is anywhere near this size in practice; it
// exists to turn a declared length like 0xFFFFFFFF into a bounded drain
// instead of a multi-gigabyte allocation attempt.
const MaxPayloadBytes = 1 << 20 // 1 MiB

// ErrPayloadTooLarge is returned by Decode when the declared length
// exceeds MaxPayloadBytes. The declared byte count has already been
// drained from r by the time this is returned, so the next read picks
// up at the following frame's boundary instead of desynchronizing.
var ErrPayloadTooLarge = errors.New("value: declared payload length exceeds maximum")

// Decode reads a complete wire-form Value from r. A declared length
// over MaxPayloadBytes is never allocated for; instead Decode drains
// exactly that many bytes from r (matching unix_stream_discard) and
// returns ErrPayloadTooLarge so the caller can reply with an error
// without losing the following frame's alignment.
func Decode(r io.Reader) (Value, error) {
	t, length, err := DecodeHeader(r)
	if err != nil {
		return Value{}, err
	}
	if length > MaxPayloadBytes {
		_, _ = io.CopyN(io.Discard, r, int64(length))
		return Value{}, ErrPayloadTooLarge
	}
	var b []byte
	if length > 0 {
		b = make([]byte, length)
		if _, err := io.ReadFull(r, b); err != nil {
			return Value{}, err
		}
	}
	return Value{Type: t, Bytes: b}, nil
}
