// Package dir implements the directory client dispatcher,
// DIR_$DO_OP: UID-addressed RPC with route-hint-guided retry,
// legacy-wire downgrade on version skew, and the ~22 local directory
// operations a node serves when it holds the authoritative hint.
package dir

import (
	"encoding/binary"
	"fmt"

	"github.com/m-lab/domain-kernel/uid"
)

// Fixed request-buffer offsets, spec.md §4.4's "Request shape."
const (
	reqOffOpcode  = 3
	reqOffUID     = 4
	reqOffVersion = 0x12
	reqOffPayload = 0x8E
)

// Fixed response-buffer offsets, spec.md §4.4's "Response shape." The
// version field has no named byte offset in spec.md's prose, which
// only calls out flags/status explicitly; it is placed immediately
// after status, ahead of the opcode-specific data, the same way the
// request's own version field precedes its payload.
const (
	respOffFlags        = 0
	respOffContinuation = 1
	respOffLoop         = 3
	respOffStatus       = 4
	respOffVersion      = 8
	respOffPayload      = 10
)

// maxRequestSize is spec.md §4.4's "combined request packet size must
// not exceed 0x500."
const maxRequestSize = 0x500

// Request is one DIR_$DO_OP call, opcode plus its payload.
type Request struct {
	Opcode  Opcode
	DirUID  uid.UID
	Version uint16
	Payload []byte
}

// Marshal writes r into the fixed request shape.
func (r Request) Marshal() ([]byte, error) {
	total := reqOffPayload + len(r.Payload)
	if total > maxRequestSize {
		return nil, fmt.Errorf("dir: request of %d bytes exceeds 0x%X limit", total, maxRequestSize)
	}
	buf := make([]byte, total)
	buf[reqOffOpcode] = byte(r.Opcode)
	binary.BigEndian.PutUint32(buf[reqOffUID:], r.DirUID.High)
	binary.BigEndian.PutUint32(buf[reqOffUID+4:], r.DirUID.Low)
	binary.BigEndian.PutUint16(buf[reqOffVersion:], r.Version)
	copy(buf[reqOffPayload:], r.Payload)
	return buf, nil
}

// ParseRequest is the inverse of Marshal.
func ParseRequest(buf []byte) (Request, error) {
	if len(buf) < reqOffPayload {
		return Request{}, fmt.Errorf("dir: request shorter than fixed prefix (%d bytes)", len(buf))
	}
	return Request{
		Opcode:  Opcode(buf[reqOffOpcode]),
		DirUID:  uid.New(binary.BigEndian.Uint32(buf[reqOffUID:]), binary.BigEndian.Uint32(buf[reqOffUID+4:])),
		Version: binary.BigEndian.Uint16(buf[reqOffVersion:]),
		Payload: append([]byte(nil), buf[reqOffPayload:]...),
	}, nil
}

// Response is DIR_$DO_OP's reply shape: a status, a continuation flag
// (more data follows on a subsequent GET_NEXT-style call), a loop flag
// (RESOLVE only, signalling a mount-point redirect), and opcode data.
type Response struct {
	Status       uint32 // raw status.Status, kept untyped here since the wire shape is a plain uint32 on the wire
	Continuation bool
	Loop         bool
	Version      uint16
	Payload      []byte
}

// Marshal writes resp into the fixed response shape.
func (resp Response) Marshal() []byte {
	buf := make([]byte, respOffPayload+len(resp.Payload))
	if resp.Continuation {
		buf[respOffContinuation] = 1
	}
	if resp.Loop {
		buf[respOffLoop] = 1
	}
	binary.BigEndian.PutUint32(buf[respOffStatus:], resp.Status)
	binary.BigEndian.PutUint16(buf[respOffVersion:], resp.Version)
	copy(buf[respOffPayload:], resp.Payload)
	return buf
}

// ParseResponse is the inverse of Marshal.
func ParseResponse(buf []byte) (Response, error) {
	if len(buf) < respOffPayload {
		return Response{}, fmt.Errorf("dir: response shorter than fixed prefix (%d bytes)", len(buf))
	}
	return Response{
		Status:       binary.BigEndian.Uint32(buf[respOffStatus:]),
		Continuation: buf[respOffContinuation] != 0,
		Loop:         buf[respOffLoop] != 0,
		Version:      binary.BigEndian.Uint16(buf[respOffVersion:]),
		Payload:      append([]byte(nil), buf[respOffPayload:]...),
	}, nil
}
