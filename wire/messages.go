package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// FeaturesReply is the FEATURES_REPLY body (§6).
type FeaturesReply struct {
	DatapathID    uint64
	NExact        uint32
	NCompression  uint32
	NGeneral      uint32
	BufferMB      uint32
	NBuffers      uint32
	Capabilities  uint32
	Actions       uint32
	Ports         []PhyPort
}

func (r FeaturesReply) MarshalBinary() []byte {
	buf := make([]byte, 36+len(r.Ports)*PhyPortLen)
	binary.BigEndian.PutUint64(buf[0:8], r.DatapathID)
	binary.BigEndian.PutUint32(buf[8:12], r.NExact)
	binary.BigEndian.PutUint32(buf[12:16], r.NCompression)
	binary.BigEndian.PutUint32(buf[16:20], r.NGeneral)
	binary.BigEndian.PutUint32(buf[20:24], r.BufferMB)
	binary.BigEndian.PutUint32(buf[24:28], r.NBuffers)
	binary.BigEndian.PutUint32(buf[28:32], r.Capabilities)
	binary.BigEndian.PutUint32(buf[32:36], r.Actions)
	off := 36
	for _, p := range r.Ports {
		copy(buf[off:off+PhyPortLen], p.MarshalBinary())
		off += PhyPortLen
	}
	return buf
}

// GetConfigReply is also SET_CONFIG's body (§6).
type GetConfigReply struct {
	Flags       uint16
	MissSendLen uint16
}

func (c GetConfigReply) MarshalBinary() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], c.Flags)
	binary.BigEndian.PutUint16(buf[2:4], c.MissSendLen)
	return buf
}

func (c *GetConfigReply) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return errors.New("wire: short config body")
	}
	c.Flags = binary.BigEndian.Uint16(data[0:2])
	c.MissSendLen = binary.BigEndian.Uint16(data[2:4])
	return nil
}

// PacketIn is the PACKET_IN body (§6).
type PacketIn struct {
	BufferID uint32
	TotalLen uint16
	InPort   uint16
	Reason   uint8
	Data     []byte
}

func (p PacketIn) MarshalBinary() []byte {
	buf := make([]byte, 10+len(p.Data))
	binary.BigEndian.PutUint32(buf[0:4], p.BufferID)
	binary.BigEndian.PutUint16(buf[4:6], p.TotalLen)
	binary.BigEndian.PutUint16(buf[6:8], p.InPort)
	buf[8] = p.Reason
	copy(buf[10:], p.Data)
	return buf
}

// FlowExpired is the FLOW_EXPIRED body (§6).
type FlowExpired struct {
	Match       Match
	Priority    uint16
	Duration    uint32
	PacketCount uint64
	ByteCount   uint64
}

func (e FlowExpired) MarshalBinary() []byte {
	buf := make([]byte, MatchLen+24)
	copy(buf[0:MatchLen], e.Match.MarshalBinary())
	off := MatchLen
	binary.BigEndian.PutUint16(buf[off:off+2], e.Priority)
	off += 4 // + 2-byte pad
	binary.BigEndian.PutUint32(buf[off:off+4], e.Duration)
	off += 4
	binary.BigEndian.PutUint64(buf[off:off+8], e.PacketCount)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], e.ByteCount)
	return buf
}

// FlowMod is the FLOW_MOD body (§6).
type FlowMod struct {
	Match    Match
	Command  uint16
	MaxIdle  uint16
	BufferID uint32
	Priority uint16
	Actions  []WireAction
}

func (m *FlowMod) UnmarshalBinary(data []byte) error {
	if len(data) < MatchLen+16 {
		return errors.New("wire: short flow_mod")
	}
	if err := m.Match.UnmarshalBinary(data[0:MatchLen]); err != nil {
		return err
	}
	off := MatchLen
	m.Command = binary.BigEndian.Uint16(data[off : off+2])
	off += 2
	m.MaxIdle = binary.BigEndian.Uint16(data[off : off+2])
	off += 2
	m.BufferID = binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	m.Priority = binary.BigEndian.Uint16(data[off : off+2])
	off += 2
	off += 2 + 4 // pad, reserved
	m.Actions = nil
	for off+ActionLen <= len(data) {
		var a WireAction
		if err := a.UnmarshalBinary(data[off : off+ActionLen]); err != nil {
			return err
		}
		m.Actions = append(m.Actions, a)
		off += ActionLen
	}
	return nil
}

// PacketOut is the PACKET_OUT body (§6): either a saved-buffer reference
// with an action list, or an inline frame with BufferID == NoBuffer.
type PacketOut struct {
	BufferID uint32
	InPort   uint16
	OutPort  uint16
	Actions  []WireAction
	Data     []byte
}

// UnmarshalBinary decodes data (the PACKET_OUT body, header already
// stripped). When BufferID == NoBuffer the remainder is an inline frame;
// otherwise it is an action list to run against the saved buffer.
func (p *PacketOut) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return errors.New("wire: short packet_out")
	}
	p.BufferID = binary.BigEndian.Uint32(data[0:4])
	p.InPort = binary.BigEndian.Uint16(data[4:6])
	p.OutPort = binary.BigEndian.Uint16(data[6:8])
	rest := data[8:]

	if p.BufferID == NoBuffer {
		p.Data = rest
		p.Actions = nil
		return nil
	}

	if len(rest)%ActionLen != 0 {
		return errors.New("wire: packet_out action list not a multiple of the action size")
	}
	p.Actions = nil
	for off := 0; off < len(rest); off += ActionLen {
		var a WireAction
		if err := a.UnmarshalBinary(rest[off : off+ActionLen]); err != nil {
			return err
		}
		p.Actions = append(p.Actions, a)
	}
	return nil
}

// Stats sub-types (SPEC_FULL.md §6 supplement), numbered in the order
// the original's dpctl/dissector enumerate them.
const (
	StatsDesc      uint16 = 0
	StatsFlow      uint16 = 1
	StatsAggregate uint16 = 2
	StatsTable     uint16 = 3
	StatsPort      uint16 = 4
)

// StatsReplyMore is set on every part but the last of a chunked
// STATS_REPLY (§6).
const StatsReplyMore uint16 = 1 << 0

// StatsHeader is the {type, flags} prefix shared by STATS_REQUEST and
// STATS_REPLY bodies.
type StatsHeader struct {
	Type  uint16
	Flags uint16
}

func (h StatsHeader) MarshalBinary() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], h.Type)
	binary.BigEndian.PutUint16(buf[2:4], h.Flags)
	return buf
}

func (h *StatsHeader) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return errors.New("wire: short stats header")
	}
	h.Type = binary.BigEndian.Uint16(data[0:2])
	h.Flags = binary.BigEndian.Uint16(data[2:4])
	return nil
}

// FlowStats is one entry of a STATS_REPLY{type=FLOW} body.
type FlowStats struct {
	Match       Match
	Priority    uint16
	Table       uint8
	Duration    uint32
	PacketCount uint64
	ByteCount   uint64
	Actions     []WireAction
}

func (s FlowStats) MarshalBinary() []byte {
	buf := make([]byte, MatchLen+2+1+4+8+8)
	off := 0
	copy(buf[off:off+MatchLen], s.Match.MarshalBinary())
	off += MatchLen
	binary.BigEndian.PutUint16(buf[off:off+2], s.Priority)
	off += 2
	buf[off] = s.Table
	off++
	binary.BigEndian.PutUint32(buf[off:off+4], s.Duration)
	off += 4
	binary.BigEndian.PutUint64(buf[off:off+8], s.PacketCount)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], s.ByteCount)
	for _, a := range s.Actions {
		buf = append(buf, a.MarshalBinary()...)
	}
	return buf
}

// AggregateStats is the STATS_REPLY{type=AGGREGATE} body.
type AggregateStats struct {
	PacketCount uint64
	ByteCount   uint64
	FlowCount   uint32
}

func (s AggregateStats) MarshalBinary() []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint64(buf[0:8], s.PacketCount)
	binary.BigEndian.PutUint64(buf[8:16], s.ByteCount)
	binary.BigEndian.PutUint32(buf[16:20], s.FlowCount)
	return buf
}

// PortStats is one entry of a STATS_REPLY{type=PORT} body.
type PortStats struct {
	PortNo    uint16
	DropCount uint64
}

func (s PortStats) MarshalBinary() []byte {
	buf := make([]byte, 10)
	binary.BigEndian.PutUint16(buf[0:2], s.PortNo)
	binary.BigEndian.PutUint64(buf[2:10], s.DropCount)
	return buf
}
