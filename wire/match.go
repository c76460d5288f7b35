package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MatchLen is the size of the wire match structure (§6: "40 bytes,
// layout-stable"). The fields §6 enumerates only sum to 38 bytes, so the
// pad trailing nw_proto is widened from 3 to 5 bytes to make the total
// exactly 40 without disturbing any named field's offset (see DESIGN.md).
const MatchLen = 40

// Wildcard bits (§3): eight single-bit field flags in the low 8 bits of
// Wildcards (bits 8-9 unused, completing the low 10 bits), followed by
// the two packed 6-bit "how many low-order IP bits to ignore" counts for
// nw_src/nw_dst (bits==32 is fully wildcarded, bits==0 is an exact match
// on the address).
const (
	WildcardInPort  uint32 = 1 << 0
	WildcardDlVlan  uint32 = 1 << 1
	WildcardDlSrc   uint32 = 1 << 2
	WildcardDlDst   uint32 = 1 << 3
	WildcardDlType  uint32 = 1 << 4
	WildcardNwProto uint32 = 1 << 5
	WildcardTpSrc   uint32 = 1 << 6
	WildcardTpDst   uint32 = 1 << 7

	nwSrcShift = 10
	nwDstShift = 16
	nwBitsMask = 0x3f // 6 bits
)

// Match is the 40-byte wire match: a wildcard bitmap, two 6-bit IP prefix
// lengths packed into Wildcards, and the fields those wildcards qualify.
type Match struct {
	Wildcards uint32
	InPort    uint16
	DlSrc     [6]byte
	DlDst     [6]byte
	DlVlan    uint16
	DlType    uint16
	NwSrc     uint32
	NwDst     uint32
	NwProto   uint8
	TpSrc     uint16
	TpDst     uint16
}

// NwSrcBits and NwDstBits are the low-order-bits-to-ignore counts packed
// into Wildcards bits 10-15 and 16-21 respectively (§3).
func (m Match) NwSrcBits() uint8 { return uint8((m.Wildcards >> nwSrcShift) & nwBitsMask) }
func (m Match) NwDstBits() uint8 { return uint8((m.Wildcards >> nwDstShift) & nwBitsMask) }

func packBits(w uint32, srcBits, dstBits uint8) uint32 {
	w &^= (nwBitsMask << nwSrcShift) | (nwBitsMask << nwDstShift)
	w |= uint32(srcBits&nwBitsMask) << nwSrcShift
	w |= uint32(dstBits&nwBitsMask) << nwDstShift
	return w
}

// WithBits returns a copy of m with the IP-bit counts packed in.
func (m Match) WithBits(srcBits, dstBits uint8) Match {
	m.Wildcards = packBits(m.Wildcards, srcBits, dstBits)
	return m
}

func (m Match) MarshalBinary() []byte {
	buf := make([]byte, MatchLen)
	binary.BigEndian.PutUint32(buf[0:4], m.Wildcards)
	binary.BigEndian.PutUint16(buf[4:6], m.InPort)
	copy(buf[6:12], m.DlSrc[:])
	copy(buf[12:18], m.DlDst[:])
	binary.BigEndian.PutUint16(buf[18:20], m.DlVlan)
	binary.BigEndian.PutUint16(buf[20:22], m.DlType)
	binary.BigEndian.PutUint32(buf[22:26], m.NwSrc)
	binary.BigEndian.PutUint32(buf[26:30], m.NwDst)
	buf[30] = m.NwProto
	// buf[31:36] padding
	binary.BigEndian.PutUint16(buf[36:38], m.TpSrc)
	binary.BigEndian.PutUint16(buf[38:40], m.TpDst)
	return buf
}

func (m *Match) UnmarshalBinary(data []byte) error {
	if len(data) < MatchLen {
		return errors.New("wire: short match")
	}
	m.Wildcards = binary.BigEndian.Uint32(data[0:4])
	m.InPort = binary.BigEndian.Uint16(data[4:6])
	copy(m.DlSrc[:], data[6:12])
	copy(m.DlDst[:], data[12:18])
	m.DlVlan = binary.BigEndian.Uint16(data[18:20])
	m.DlType = binary.BigEndian.Uint16(data[20:22])
	m.NwSrc = binary.BigEndian.Uint32(data[22:26])
	m.NwDst = binary.BigEndian.Uint32(data[26:30])
	m.NwProto = data[30]
	m.TpSrc = binary.BigEndian.Uint16(data[36:38])
	m.TpDst = binary.BigEndian.Uint16(data[38:40])
	return nil
}

// ActionLen is the size of the fixed 8-byte action header (§6). Every
// action is decoded as exactly this record; an argument wider than the
// trailing 4-byte Arg cannot be carried, so SetDlSrc/SetDlDst hold only
// the low 32 bits of their MAC address (see datapath's macFromArg).
const ActionLen = 8

// Action types (§4.7).
const (
	ActionOutput     uint16 = 0
	ActionSetVlanVid uint16 = 1
	ActionSetVlanPcp uint16 = 2
	ActionStripVlan  uint16 = 3
	ActionSetDlSrc   uint16 = 4
	ActionSetDlDst   uint16 = 5
	ActionSetNwSrc   uint16 = 6
	ActionSetNwDst   uint16 = 7
	ActionSetTpSrc   uint16 = 8
	ActionSetTpDst   uint16 = 9
)

// WireAction is the 8-byte {type, pad, arg} action record. Output needs
// both a port and a max_len, packed into the 4-byte Arg as
// port<<16|max_len the way this datapath's wire format reuses Arg for
// both halves rather than widening the record.
type WireAction struct {
	Type uint16
	Arg  uint32
}

func (a WireAction) MarshalBinary() []byte {
	buf := make([]byte, ActionLen)
	binary.BigEndian.PutUint16(buf[0:2], a.Type)
	binary.BigEndian.PutUint32(buf[4:8], a.Arg)
	return buf
}

func (a *WireAction) UnmarshalBinary(data []byte) error {
	if len(data) < ActionLen {
		return errors.New("wire: short action")
	}
	a.Type = binary.BigEndian.Uint16(data[0:2])
	a.Arg = binary.BigEndian.Uint32(data[4:8])
	return nil
}

// ValidateHeader enforces §4.10's header checks: version (with the
// version-exempt type list), declared length against the buffer, and
// minimum size for the declared type.
func ValidateHeader(h Header, bufLen int) error {
	if !versionExempt(h.Type) && h.Version != Version {
		return Error{Kind: ErrBadVersion}
	}
	if int(h.Length) > bufLen {
		return Error{Kind: ErrBadLength}
	}
	if min, ok := minBodyLen[h.Type]; ok {
		if h.Length < min {
			return Error{Kind: ErrBadLength}
		}
	} else if h.Type != TypeVendor {
		return Error{Kind: ErrBadType}
	}
	return nil
}
