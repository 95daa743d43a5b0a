// Package wire defines propd's two on-the-wire frame formats: the
// stream I/O protocol (get/set/del over SOCK_STREAM) and the control
// datagram protocol (register/unregister/dump over SOCK_DGRAM).
// Grounded on original_source/lib/builtin/unix.c, lib/io/unix.c and
// lib/client/builtin/unix.c for the stream framing, and
// lib/ctrl_server.c / lib/client/ctrl.c for the datagram framing.
//
// All multi-byte integers are little-endian, matching the Value wire
// form in internal/value rather than the teacher's (armandParser
// gofast-server) big-endian framing — the spec resolves this open
// question explicitly in favor of one consistent byte order across the
// whole propd wire surface.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"propd/internal/value"
)

// KeyMax bounds a key as carried in a fixed-size stream header field,
// mirroring the original's fixed io_package_t.key buffer (NAME_MAX, 255
// on Linux).
const KeyMax = 255

// IOType selects the stream operation carried by a Request.
type IOType uint8

const (
	IOGet IOType = iota
	IOSet
	IODel
)

func (t IOType) String() string {
	switch t {
	case IOGet:
		return "get"
	case IOSet:
		return "set"
	case IODel:
		return "del"
	default:
		return fmt.Sprintf("io(%d)", uint8(t))
	}
}

// RequestHeader is the fixed-size portion of a stream request: type,
// creation timestamp (unix nanoseconds), and the target key padded to
// KeyMax bytes. The value, if any, follows as its own internal/value
// wire form.
type RequestHeader struct {
	Type    IOType
	Created int64
	Key     string
}

// WriteRequest sends a request header followed by v's wire form when
// the operation carries a value (set); get/del pass a nil v, and an
// empty value.Undef header (type 0, length 0) is written in its place.
func WriteRequest(w io.Writer, h RequestHeader, v *value.Value) error {
	if len(h.Key) > KeyMax {
		return fmt.Errorf("wire: key %q exceeds KeyMax %d", h.Key, KeyMax)
	}
	var keyBuf [KeyMax]byte
	copy(keyBuf[:], h.Key)

	if err := binary.Write(w, binary.LittleEndian, h.Type); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, h.Created); err != nil {
		return err
	}
	if _, err := w.Write(keyBuf[:]); err != nil {
		return err
	}
	if v == nil {
		return value.Encode(w, value.Value{Type: value.Undef})
	}
	return value.Encode(w, *v)
}

// ReadRequest reads a request header and its value back off the wire.
func ReadRequest(r io.Reader) (RequestHeader, value.Value, error) {
	var h RequestHeader
	var typ IOType
	if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
		return h, value.Value{}, err
	}
	h.Type = typ
	if err := binary.Read(r, binary.LittleEndian, &h.Created); err != nil {
		return h, value.Value{}, err
	}
	var keyBuf [KeyMax]byte
	if _, err := io.ReadFull(r, keyBuf[:]); err != nil {
		return h, value.Value{}, err
	}
	h.Key = cstringTrim(keyBuf[:])

	v, err := value.Decode(r)
	if err != nil {
		return h, value.Value{}, err
	}
	return h, v, nil
}

func cstringTrim(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// GetReply is what a stream server sends back for a get: the
// duration (as int64 nanoseconds, durationx.Inf meaning "never
// expires") followed by the value wire form, mirroring original's
// "duration then value head then value data" ordering.
type GetReply struct {
	Duration int64
	Value    value.Value
}

func WriteGetReply(w io.Writer, rep GetReply) error {
	if err := binary.Write(w, binary.LittleEndian, rep.Duration); err != nil {
		return err
	}
	return value.Encode(w, rep.Value)
}

func ReadGetReply(r io.Reader) (GetReply, error) {
	var rep GetReply
	if err := binary.Read(r, binary.LittleEndian, &rep.Duration); err != nil {
		return rep, err
	}
	v, err := value.Decode(r)
	if err != nil {
		return rep, err
	}
	rep.Value = v
	return rep, nil
}

// Result is the final int32 status code every stream exchange ends
// with (0 == success, else a perr.Kind value).
type Result int32

func WriteResult(w io.Writer, res Result) error {
	return binary.Write(w, binary.LittleEndian, res)
}

func ReadResult(r io.Reader) (Result, error) {
	var res Result
	err := binary.Read(r, binary.LittleEndian, &res)
	return res, err
}
