package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// NameMax bounds a node/prefix name in a control datagram, mirroring the
// original's NAME_MAX-sized ctrl_package_t fields (255 on Linux).
const NameMax = 255

// CtrlType selects the control datagram operation.
type CtrlType uint8

const (
	CtrlRegisterChild CtrlType = iota
	CtrlRegisterParent
	CtrlUnregisterChild
	CtrlUnregisterParent
	CtrlDumpDBRoute
	CtrlDumpDBCache
)

func (t CtrlType) String() string {
	switch t {
	case CtrlRegisterChild:
		return "register_child"
	case CtrlRegisterParent:
		return "register_parent"
	case CtrlUnregisterChild:
		return "unregister_child"
	case CtrlUnregisterParent:
		return "unregister_parent"
	case CtrlDumpDBRoute:
		return "dump_db_route"
	case CtrlDumpDBCache:
		return "dump_db_cache"
	default:
		return fmt.Sprintf("ctrl(%d)", uint8(t))
	}
}

// CtrlRequest is the single datagram frame for every opcode; only the
// fields relevant to Type are populated by the sender. register_child is
// the only variable-length shape: CacheNow then Prefix name lists.
type CtrlRequest struct {
	Type     CtrlType
	Name     string   // route item name (all opcodes) or parent/child node name
	CacheNow []string // register_child only
	Prefix   []string // register_child only
}

func putName(buf []byte, name string) error {
	if len(name) > NameMax {
		return fmt.Errorf("wire: name %q exceeds NameMax %d", name, NameMax)
	}
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, name)
	return nil
}

// EncodeCtrlRequest serializes a control datagram into a single buffer
// suitable for one sendto call (SOCK_DGRAM is message-oriented, so the
// whole frame must travel in one write).
func EncodeCtrlRequest(req CtrlRequest) ([]byte, error) {
	var nameBuf [NameMax]byte
	if err := putName(nameBuf[:], req.Name); err != nil {
		return nil, err
	}

	buf := []byte{byte(req.Type)}
	buf = append(buf, nameBuf[:]...)

	if req.Type != CtrlRegisterChild {
		return buf, nil
	}

	var lens [8]byte
	binary.LittleEndian.PutUint32(lens[0:4], uint32(len(req.CacheNow)))
	binary.LittleEndian.PutUint32(lens[4:8], uint32(len(req.Prefix)))
	buf = append(buf, lens[:]...)

	for _, s := range append(append([]string{}, req.CacheNow...), req.Prefix...) {
		var b [NameMax]byte
		if err := putName(b[:], s); err != nil {
			return nil, err
		}
		buf = append(buf, b[:]...)
	}
	return buf, nil
}

// DecodeCtrlRequest parses a single received datagram buffer.
func DecodeCtrlRequest(buf []byte) (CtrlRequest, error) {
	var req CtrlRequest
	if len(buf) < 1+NameMax {
		return req, io.ErrUnexpectedEOF
	}
	req.Type = CtrlType(buf[0])
	req.Name = cstringTrim(buf[1 : 1+NameMax])
	off := 1 + NameMax

	if req.Type != CtrlRegisterChild {
		return req, nil
	}
	if len(buf) < off+8 {
		return req, io.ErrUnexpectedEOF
	}
	numCacheNow := binary.LittleEndian.Uint32(buf[off : off+4])
	numPrefix := binary.LittleEndian.Uint32(buf[off+4 : off+8])
	off += 8

	need := off + int(numCacheNow+numPrefix)*NameMax
	if len(buf) < need {
		return req, io.ErrUnexpectedEOF
	}
	for i := uint32(0); i < numCacheNow; i++ {
		req.CacheNow = append(req.CacheNow, cstringTrim(buf[off:off+NameMax]))
		off += NameMax
	}
	for i := uint32(0); i < numPrefix; i++ {
		req.Prefix = append(req.Prefix, cstringTrim(buf[off:off+NameMax]))
		off += NameMax
	}
	return req, nil
}

// CtrlReply is the datagram sent back to a control client. Result is
// always present; Payload carries the yaml-serialized snapshot for the
// two dump opcodes and is empty otherwise.
type CtrlReply struct {
	Result  int32
	Payload []byte
}

// EncodeCtrlReply serializes a reply as [i32 result][i32 length][payload],
// the length prefix making the payload self-delimited the way the
// original's dump replies are framed.
func EncodeCtrlReply(rep CtrlReply) []byte {
	buf := make([]byte, 4, 8+len(rep.Payload))
	binary.LittleEndian.PutUint32(buf, uint32(int32(rep.Result)))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rep.Payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, rep.Payload...)
	return buf
}

func DecodeCtrlReply(buf []byte) (CtrlReply, error) {
	var rep CtrlReply
	if len(buf) < 8 {
		return rep, io.ErrUnexpectedEOF
	}
	rep.Result = int32(binary.LittleEndian.Uint32(buf[0:4]))
	n := binary.LittleEndian.Uint32(buf[4:8])
	if len(buf) < 8+int(n) {
		return rep, io.ErrUnexpectedEOF
	}
	rep.Payload = buf[8 : 8+n]
	return rep, nil
}
