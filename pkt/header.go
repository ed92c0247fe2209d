// Package pkt implements the packet layer: building and parsing
// internet headers, unique packet-id allocation, reliable send/receive
// with retries, node-visibility tracking, and the ping server. It
// builds directly on netbuf and socket.
package pkt

import (
	"encoding/binary"
	"fmt"

	"github.com/m-lab/domain-kernel/socket"
)

// Kind selects which of the two header shapes a packet carries.
type Kind byte

const (
	// KindLoopback is the narrow type-1 header: no routing portion,
	// destination is always this node.
	KindLoopback Kind = 1
	// KindSimple is the type-2 header with routing key and node/socket
	// pairs but no extension or signature.
	KindSimple Kind = 2
	// KindExtended is KindSimple plus a 6-byte extension, the last byte
	// of which doubles as a signature-subtype selector.
	KindExtended Kind = 3
)

// Protocol byte values, written at offProtocol on type-2 headers.
const (
	ProtocolStandard byte = 1
	ProtocolExtended byte = 4
)

// sigSubtype is the extension subtype byte that signals a 16-byte
// signature follows the extension.
const sigSubtype byte = 0x29

// Fixed byte offsets, following spec.md §3/§6's "Packet header
// (internet)" layout. Type-1 headers are compact (everything fits
// before TemplateOffsetLoopback); type-2 headers use the wider layout
// through offRoutingKey and beyond.
const (
	offFlags    = 0x00
	offHdrSize  = 0x04 // uint16: offset where the template begins
	offSrcNode  = 0x08 // uint32

	// Type-1 (loopback) compact fields.
	offL1DestNode   = 0x0C
	offL1DestSocket = 0x10
	offL1SrcSocket  = 0x12
	offL1DataLen    = 0x14
	offL1RequestID  = 0x16
	offL1Indicator  = 0x18

	// Type-2 fields.
	offDataLen    = 0x14
	offRequestID  = 0x16
	offHdrIndicator = 0x18
	offProtocol   = 0x2D
	offRoutingKey = 0x2E
	offDestNode   = 0x34
	offDestSocket = 0x38
	offSrcNodeEcho = 0x40
	offSrcSocket  = 0x44
	offExtension  = 0x46 // 6 bytes; last byte is the subtype selector
)

// TemplateOffsetLoopback is the fixed size of a type-1 header,
// spec.md's "4+0x1E".
const TemplateOffsetLoopback = 4 + 0x1E

// simpleFixedLen is the type-2 fixed prefix with no extension.
const simpleFixedLen = 0x46

// extensionLen is the width of the optional extension block,
// inclusive of its trailing subtype byte.
const extensionLen = 6

// signatureLen is the width of the optional signature block.
const signatureLen = 16

// destNodeMask keeps only the low 24 bits of a node id significant on
// the wire, per spec.md §3.
const destNodeMask = 0x00FFFFFF

// Header is a parsed or about-to-be-built internet packet header.
type Header struct {
	Kind     Kind
	Loopback bool

	RoutingKey uint32
	SrcNode    uint32
	DestNode   uint32
	SrcSocket  socket.Number
	DestSocket socket.Number
	RequestID  uint16

	// Protocol applies to every type-2 header (KindSimple and
	// KindExtended); Extension, ExtensionSubtype and Signature only to
	// KindExtended.
	Protocol         byte
	Extension        [extensionLen - 1]byte
	ExtensionSubtype byte
	Signature        [signatureLen]byte

	Template []byte
}

// fixedLen returns the number of bytes this header occupies before
// its template, given its kind and (for KindExtended) subtype.
func (h *Header) fixedLen() int {
	switch h.Kind {
	case KindLoopback:
		return TemplateOffsetLoopback
	case KindSimple:
		return simpleFixedLen
	case KindExtended:
		n := simpleFixedLen + extensionLen
		if h.ExtensionSubtype == sigSubtype {
			n += signatureLen
		}
		return n
	default:
		return simpleFixedLen
	}
}

// Marshal writes h into buf, returning the number of bytes written
// (fixed prefix plus template). buf must be at least netbuf.HeaderSize
// long; Marshal reports network_message_header_too_big-worthy errors
// as a plain error, leaving status translation to the caller.
func (h *Header) Marshal(buf []byte) (int, error) {
	total := h.fixedLen() + len(h.Template)
	if total > len(buf) {
		return 0, fmt.Errorf("pkt: header does not fit in %d-byte page (need %d)", len(buf), total)
	}

	flags := byte(h.Kind) << 1
	if h.Loopback {
		flags |= 1
	}
	buf[offFlags] = flags
	binary.BigEndian.PutUint16(buf[offHdrSize:], uint16(h.fixedLen()))
	binary.BigEndian.PutUint32(buf[offSrcNode:], h.SrcNode)

	if h.Kind == KindLoopback {
		binary.BigEndian.PutUint32(buf[offL1DestNode:], h.DestNode&destNodeMask)
		binary.BigEndian.PutUint16(buf[offL1DestSocket:], uint16(h.DestSocket))
		binary.BigEndian.PutUint16(buf[offL1SrcSocket:], uint16(h.SrcSocket))
		binary.BigEndian.PutUint16(buf[offL1DataLen:], uint16(len(h.Template)))
		binary.BigEndian.PutUint16(buf[offL1RequestID:], h.RequestID)
		buf[offL1Indicator] = byte(h.Kind)
		copy(buf[h.fixedLen():], h.Template)
		return total, nil
	}

	binary.BigEndian.PutUint16(buf[offDataLen:], uint16(len(h.Template)))
	binary.BigEndian.PutUint16(buf[offRequestID:], h.RequestID)
	buf[offHdrIndicator] = byte(h.Kind)
	buf[offProtocol] = h.Protocol
	binary.BigEndian.PutUint32(buf[offRoutingKey:], h.RoutingKey)
	binary.BigEndian.PutUint32(buf[offDestNode:], h.DestNode&destNodeMask)
	binary.BigEndian.PutUint16(buf[offDestSocket:], uint16(h.DestSocket))
	binary.BigEndian.PutUint32(buf[offSrcNodeEcho:], h.SrcNode)
	binary.BigEndian.PutUint16(buf[offSrcSocket:], uint16(h.SrcSocket))

	if h.Kind == KindExtended {
		copy(buf[offExtension:offExtension+extensionLen-1], h.Extension[:])
		buf[offExtension+extensionLen-1] = h.ExtensionSubtype
		if h.ExtensionSubtype == sigSubtype {
			copy(buf[offExtension+extensionLen:offExtension+extensionLen+signatureLen], h.Signature[:])
		}
	}

	copy(buf[h.fixedLen():], h.Template)
	return total, nil
}

// ParseHeader is the inverse of Marshal — spec.md's brk_internet_hdr.
// It dispatches on the header-size indicator byte to pick the loopback
// or type-2 layout, then copies template bytes into a slice capped at
// templateCap (the caller's buffer).
func ParseHeader(buf []byte, templateCap int) (*Header, error) {
	if len(buf) <= offHdrIndicator {
		return nil, fmt.Errorf("pkt: buffer too small to contain a header")
	}
	flags := buf[offFlags]
	kind := Kind(buf[offHdrIndicator])
	h := &Header{Kind: kind, Loopback: flags&1 != 0}

	switch kind {
	case KindLoopback:
		if len(buf) < TemplateOffsetLoopback {
			return nil, fmt.Errorf("pkt: truncated loopback header")
		}
		h.SrcNode = binary.BigEndian.Uint32(buf[offSrcNode:])
		h.DestNode = binary.BigEndian.Uint32(buf[offL1DestNode:]) & destNodeMask
		h.DestSocket = socket.Number(binary.BigEndian.Uint16(buf[offL1DestSocket:]))
		h.SrcSocket = socket.Number(binary.BigEndian.Uint16(buf[offL1SrcSocket:]))
		h.RequestID = binary.BigEndian.Uint16(buf[offL1RequestID:])
		dataLen := int(binary.BigEndian.Uint16(buf[offL1DataLen:]))
		return h, parseTemplate(h, buf, TemplateOffsetLoopback, dataLen, templateCap)

	case KindSimple, KindExtended:
		if len(buf) < simpleFixedLen {
			return nil, fmt.Errorf("pkt: truncated type-2 header")
		}
		h.SrcNode = binary.BigEndian.Uint32(buf[offSrcNode:])
		h.RequestID = binary.BigEndian.Uint16(buf[offRequestID:])
		h.Protocol = buf[offProtocol]
		h.RoutingKey = binary.BigEndian.Uint32(buf[offRoutingKey:])
		h.DestNode = binary.BigEndian.Uint32(buf[offDestNode:]) & destNodeMask
		h.DestSocket = socket.Number(binary.BigEndian.Uint16(buf[offDestSocket:]))
		h.SrcSocket = socket.Number(binary.BigEndian.Uint16(buf[offSrcSocket:]))
		dataLen := int(binary.BigEndian.Uint16(buf[offDataLen:]))

		fixed := simpleFixedLen
		if kind == KindExtended {
			if len(buf) < simpleFixedLen+extensionLen {
				return nil, fmt.Errorf("pkt: truncated extension header")
			}
			copy(h.Extension[:], buf[offExtension:offExtension+extensionLen-1])
			h.ExtensionSubtype = buf[offExtension+extensionLen-1]
			fixed += extensionLen
			if h.ExtensionSubtype == sigSubtype {
				if len(buf) < fixed+signatureLen {
					return nil, fmt.Errorf("pkt: truncated signature")
				}
				copy(h.Signature[:], buf[fixed:fixed+signatureLen])
				fixed += signatureLen
			}
		}
		return h, parseTemplate(h, buf, fixed, dataLen, templateCap)

	default:
		return nil, fmt.Errorf("pkt: unrecognized header-size indicator kind %d", kind)
	}
}

func parseTemplate(h *Header, buf []byte, at, dataLen, cap int) error {
	if dataLen > cap {
		dataLen = cap
	}
	if at+dataLen > len(buf) {
		return fmt.Errorf("pkt: template of length %d does not fit in buffer", dataLen)
	}
	h.Template = append([]byte(nil), buf[at:at+dataLen]...)
	return nil
}
