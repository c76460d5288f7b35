// Package wire implements the fixed-width, network-byte-order control
// message framing described by the OpenFlow v0x83 datapath core: an
// 8-byte header shared by every message, the 40-byte match, the 8-byte
// action header, and the phy_port descriptor. It mirrors the structure of
// hkwi/gopenflow's ofp4 package (header/body split, MarshalBinary /
// UnmarshalBinary pairs, a typed Error) but only for the message set this
// datapath core actually speaks.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Version is the wire version byte this datapath core speaks.
const Version = 0x83

// Message types (§6).
const (
	TypeHello            uint8 = 0
	TypeError            uint8 = 1
	TypeEchoRequest      uint8 = 2
	TypeEchoReply        uint8 = 3
	TypeVendor           uint8 = 4
	TypeFeaturesRequest  uint8 = 5
	TypeFeaturesReply    uint8 = 6
	TypeGetConfigRequest uint8 = 7
	TypeGetConfigReply   uint8 = 8
	TypeSetConfig        uint8 = 9
	TypePacketIn         uint8 = 10
	TypeFlowExpired      uint8 = 11
	TypePortMod          uint8 = 13
	TypePortStatus       uint8 = 14
	TypePacketOut        uint8 = 15
	TypeFlowMod          uint8 = 16
	TypeStatsRequest     uint8 = 17
	TypeStatsReply       uint8 = 18
)

// HeaderLen is the size of the common message header.
const HeaderLen = 8

// Header is the 8-byte prefix shared by every control message.
type Header struct {
	Version uint8
	Type    uint8
	Length  uint16
	Xid     uint32
}

func (h Header) MarshalBinary() []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = h.Version
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint32(buf[4:8], h.Xid)
	return buf
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderLen {
		return errors.New("wire: short header")
	}
	h.Version = data[0]
	h.Type = data[1]
	h.Length = binary.BigEndian.Uint16(data[2:4])
	h.Xid = binary.BigEndian.Uint32(data[4:8])
	return nil
}

// versionExempt reports whether a message type is allowed to carry a
// version other than Version, per §4.10 ("with exceptions for HELLO,
// ECHO_REQUEST/REPLY, ERROR, VENDOR").
func versionExempt(t uint8) bool {
	switch t {
	case TypeHello, TypeEchoRequest, TypeEchoReply, TypeError, TypeVendor:
		return true
	default:
		return false
	}
}

// minBodyLen is the minimum declared length (header included) for each
// message type whose body has a fixed minimum shape.
var minBodyLen = map[uint8]uint16{
	TypeHello:            HeaderLen,
	TypeError:            HeaderLen + 4,
	TypeEchoRequest:      HeaderLen,
	TypeEchoReply:        HeaderLen,
	TypeFeaturesRequest:  HeaderLen,
	TypeFeaturesReply:    HeaderLen + 36,
	TypeGetConfigRequest: HeaderLen,
	TypeGetConfigReply:   HeaderLen + 4,
	TypeSetConfig:        HeaderLen + 4,
	TypePacketIn:         HeaderLen + 10,
	TypeFlowExpired:      HeaderLen + MatchLen + 24,
	TypePortMod:          HeaderLen + PhyPortLen,
	TypePortStatus:       HeaderLen + 4 + PhyPortLen,
	TypePacketOut:        HeaderLen + 8,
	TypeFlowMod:          HeaderLen + MatchLen + 16,
	TypeStatsRequest:     HeaderLen + 4,
	TypeStatsReply:       HeaderLen + 4,
}

// ErrKind enumerates the typed error kinds that are surfaced to the
// controller as ERROR messages (§7, first list).
type ErrKind uint16

const (
	ErrBadVersion ErrKind = iota
	ErrBadType
	ErrBadLength
	ErrBadAction
	ErrBufferUnknown
	ErrFlowTableFull
)

// Error is both the wire ERROR body and a Go error.
type Error struct {
	Kind ErrKind
	Code uint16
	Data []byte
}

func (e Error) Error() string {
	return fmt.Sprintf("wire: error kind=%d code=%d", e.Kind, e.Code)
}

func (e Error) MarshalBinary() []byte {
	buf := make([]byte, 4+len(e.Data))
	binary.BigEndian.PutUint16(buf[0:2], uint16(e.Kind))
	binary.BigEndian.PutUint16(buf[2:4], e.Code)
	copy(buf[4:], e.Data)
	return buf
}

// Sentinel port numbers (§6).
const (
	PortMax        uint16 = 0xff00
	PortTable      uint16 = 0xfff9
	PortNormal     uint16 = 0xfffa
	PortFlood      uint16 = 0xfffb
	PortAll        uint16 = 0xfffc
	PortController uint16 = 0xfffd
	PortLocal      uint16 = 0xfffe
	PortNone       uint16 = 0xffff
)

// Other sentinels (§6).
const (
	NoBuffer  uint32 = 0xFFFFFFFF
	VlanNone  uint16 = 0xFFFF
	Permanent uint16 = 0
)

// Configuration flags (§6).
const (
	FlagSendFlowExp uint16 = 1 << 0
	FragMask        uint16 = 0x3 << 1
	FragNormal      uint16 = 0x0 << 1
	FragDrop        uint16 = 0x1 << 1
)

// CoerceFrag normalizes an unrecognized frag sub-field to DROP, per §6
// ("unknown frag values coerce to DROP").
func CoerceFrag(flags uint16) uint16 {
	frag := flags & FragMask
	if frag != FragNormal && frag != FragDrop {
		return (flags &^ FragMask) | FragDrop
	}
	return flags
}

// PacketInReason values (§4.7, §4.9).
const (
	ReasonNoMatch uint8 = 0
	ReasonAction  uint8 = 1
)

// ExpirationReason values (§4.6).
const (
	ReasonIdleTimeout uint8 = 0
	ReasonHardTimeout uint8 = 1
)

// Flow-mod commands (§4.10).
const (
	FlowAdd          uint16 = 0
	FlowModify       uint16 = 1
	FlowModifyStrict uint16 = 2
	FlowDelete       uint16 = 3
	FlowDeleteStrict uint16 = 4
)

// PhyPortLen is the size of the phy_port wire descriptor.
const PhyPortLen = 2 + 6 + 16 + 4 + 4 + 4

// PhyPort is {port_no, hw_addr, name, flags, speed, features} (§6).
type PhyPort struct {
	PortNo   uint16
	HwAddr   [6]byte
	Name     [16]byte
	Flags    uint32
	Speed    uint32
	Features uint32
}

func (p PhyPort) MarshalBinary() []byte {
	buf := make([]byte, PhyPortLen)
	binary.BigEndian.PutUint16(buf[0:2], p.PortNo)
	copy(buf[2:8], p.HwAddr[:])
	copy(buf[8:24], p.Name[:])
	binary.BigEndian.PutUint32(buf[24:28], p.Flags)
	binary.BigEndian.PutUint32(buf[28:32], p.Speed)
	binary.BigEndian.PutUint32(buf[32:36], p.Features)
	return buf
}

func (p *PhyPort) UnmarshalBinary(data []byte) error {
	if len(data) < PhyPortLen {
		return errors.New("wire: short phy_port")
	}
	p.PortNo = binary.BigEndian.Uint16(data[0:2])
	copy(p.HwAddr[:], data[2:8])
	copy(p.Name[:], data[8:24])
	p.Flags = binary.BigEndian.Uint32(data[24:28])
	p.Speed = binary.BigEndian.Uint32(data[28:32])
	p.Features = binary.BigEndian.Uint32(data[32:36])
	return nil
}

// Port flags (subset named by §3).
const (
	PortFlagNoFlood   uint32 = 1 << 0
	PortFlagNoRecv    uint32 = 1 << 1
	PortFlagNoRecvSTP uint32 = 1 << 2
)
