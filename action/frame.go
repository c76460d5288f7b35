package action

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame is an owned, mutable Ethernet frame buffer (§9's "owned frame
// handles" design note). Clone produces an independently-owned copy —
// a deep byte copy, since this datapath does not need gopacket's
// reference-counted skbuf model, only the guarantee that mutating a
// clone never mutates the original.
type Frame struct {
	Data []byte
}

func NewFrame(data []byte) *Frame { return &Frame{Data: data} }

// Clone deep-copies the frame so the executor can take a unique handle
// before any header rewrite (§4.7).
func (f *Frame) Clone() *Frame {
	cp := make([]byte, len(f.Data))
	copy(cp, f.Data)
	return &Frame{Data: cp}
}

// layout records the byte offsets of the headers this action set can
// touch, located afresh by each header-rewriting action (so offsets
// reflect any earlier VLAN push or strip) via gopacket's NoCopy decode
// (offsets are derived from the cumulative length of preceding layers'
// contents, since gopacket decodes each encapsulation layer back-to-back
// with no gaps).
type layout struct {
	vlanStart int // offset of the 4-byte Dot1Q contents (TCI then inner type), -1 if none
	vlanLen   int // 4 if a VLAN tag is present, else 0

	ipStart int // -1 if not IPv4
	ipProto uint8
	ipHLen  int

	l4Start int // -1 if no recognized L4 header
	l4Kind  uint8
	l4Len   int
}

func locate(data []byte) layout {
	lo := layout{vlanStart: -1, ipStart: -1, l4Start: -1}

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	offset := 0
	for _, l := range pkt.Layers() {
		contents := l.LayerContents()
		switch t := l.(type) {
		case *layers.Dot1Q:
			lo.vlanStart = offset
			lo.vlanLen = len(contents)
		case *layers.IPv4:
			lo.ipStart = offset
			lo.ipProto = uint8(t.Protocol)
			lo.ipHLen = len(contents)
		case *layers.TCP:
			if lo.ipStart >= 0 {
				lo.l4Start = offset
				lo.l4Kind = 6
				lo.l4Len = len(contents)
			}
		case *layers.UDP:
			if lo.ipStart >= 0 {
				lo.l4Start = offset
				lo.l4Kind = 17
				lo.l4Len = len(contents)
			}
		}
		offset += len(contents)
	}
	return lo
}
