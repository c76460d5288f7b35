package action

import (
	"github.com/of83/datapath/wire"
)

// Sink is the collaborator Execute hands finished frames to. A port
// registry implements Output, a buffer pool + control channel implements
// Controller (§4.7's "output" and "punt to controller" outcomes).
type Sink interface {
	// Output delivers data out outPort, which may be a numeric port or
	// one of PortFlood/PortAll/PortNormal/PortLocal. inPort is the frame's
	// ingress port, needed so a flood/all fan-out can exclude it.
	Output(data []byte, outPort, inPort uint16)

	// Controller punts data to the control channel. data is the whole
	// frame; the implementation truncates the copy it sends to maxLen
	// bytes when maxLen != 0 and maxLen < len(data).
	Controller(data []byte, maxLen uint16, reason uint8, inPort uint16)
}

// Execute applies actions to frame left to right (§4.7). inPort is the
// frame's ingress port, passed to the sink so flood/all delivery can
// exclude it and punts can report it; Execute itself does no
// loop-prevention check (see LoopsBack). vlan is the frame's current
// key.DlVlan, mutated in
// step with VLAN push/modify/strip so the caller's copy of the key stays
// consistent with the bytes actually sent.
func Execute(frame *Frame, actions []Action, inPort uint16, vlan uint16, sink Sink) uint16 {
	outputsLeft := 0
	for _, a := range actions {
		if a.Kind == Output {
			outputsLeft++
		}
	}

	for _, a := range actions {
		switch a.Kind {
		case Output:
			outputsLeft--
			out := frame
			if outputsLeft > 0 {
				out = frame.Clone()
			}
			if a.Port == wire.PortController {
				sink.Controller(out.Data, a.MaxLen, wire.ReasonAction, inPort)
			} else {
				sink.Output(out.Data, a.Port, inPort)
			}

		case SetVlanVid:
			vlan = a.VlanVid & 0x0FFF
			setVlanTCI(frame, vlan, -1)

		case SetVlanPcp:
			if vlan == wire.VlanNone {
				vlan = 0 // an untagged frame gets a new tag with VID 0
			}
			setVlanTCI(frame, vlan, int(a.VlanPcp&0x7))

		case StripVlan:
			vlan = wire.VlanNone
			stripVlan(frame)

		case SetDlSrc:
			if len(frame.Data) >= 12 {
				copy(frame.Data[6:12], a.Mac[:])
			}

		case SetDlDst:
			if len(frame.Data) >= 12 {
				copy(frame.Data[0:6], a.Mac[:])
			}

		case SetNwSrc:
			setNwAddr(frame, a.IP, true)

		case SetNwDst:
			setNwAddr(frame, a.IP, false)

		case SetTpSrc:
			setTpPort(frame, a.TpPort, true)

		case SetTpDst:
			setTpPort(frame, a.TpPort, false)
		}
	}
	return vlan
}

// setVlanTCI rewrites or inserts the VLAN tag. When pcp < 0 the VID field
// is replaced and the PCP bits are left as they were (or zeroed on
// insert); when vid's caller instead wants only the PCP changed it passes
// pcp >= 0 and the already-current vid.
func setVlanTCI(frame *Frame, vid uint16, pcp int) {
	lo := locate(frame.Data)
	if lo.vlanStart < 0 {
		insertVlan(frame, vid, pcp)
		return
	}
	tci := getU16(frame.Data[lo.vlanStart : lo.vlanStart+2])
	tci = tci &^ 0x0FFF
	tci |= vid & 0x0FFF
	if pcp >= 0 {
		tci = tci&^0xE000 | uint16(pcp)<<13
	}
	putU16(frame.Data[lo.vlanStart:lo.vlanStart+2], tci)
}

// insertVlan adds a 4-byte 802.1Q tag after the two MAC addresses,
// promoting the frame's current EtherType field into the tag's inner
// type and writing 0x8100 in its place (§4.7's "VLAN push" case).
func insertVlan(frame *Frame, vid uint16, pcp int) {
	data := frame.Data
	if len(data) < 14 {
		return
	}
	if pcp < 0 {
		pcp = 0
	}
	tci := uint16(pcp)<<13 | (vid & 0x0FFF)
	tag := make([]byte, 4)
	putU16(tag[0:2], tci)
	tag[2], tag[3] = data[12], data[13]

	out := make([]byte, 0, len(data)+4)
	out = append(out, data[:12]...)
	out = append(out, 0x81, 0x00)
	out = append(out, tag...)
	out = append(out, data[14:]...)
	frame.Data = out
}

// stripVlan removes a present 802.1Q tag, restoring the inner EtherType
// to the fixed offset-12 field. A no-op if no tag is present.
func stripVlan(frame *Frame) {
	lo := locate(frame.Data)
	if lo.vlanStart < 0 || lo.vlanLen < 4 {
		return
	}
	data := frame.Data
	innerType := data[lo.vlanStart+2 : lo.vlanStart+4]
	out := make([]byte, 0, len(data)-4)
	out = append(out, data[:12]...)
	out = append(out, innerType...)
	out = append(out, data[lo.vlanStart+4:]...)
	frame.Data = out
}

// setNwAddr rewrites the IPv4 source or destination address in place and
// fixes up the IP header checksum and, when present, the TCP/UDP
// checksum (§4.7).
func setNwAddr(frame *Frame, newIP uint32, isSrc bool) {
	lo := locate(frame.Data)
	if lo.ipStart < 0 {
		return
	}
	data := frame.Data
	fieldOff := lo.ipStart + 16
	if isSrc {
		fieldOff = lo.ipStart + 12
	}
	if fieldOff+4 > len(data) {
		return
	}
	oldIP := getU32(data[fieldOff : fieldOff+4])
	if oldIP == newIP {
		return
	}

	csumOff := lo.ipStart + 10
	oldCsum := getU16(data[csumOff : csumOff+2])
	putU16(data[csumOff:csumOff+2], recalcCsum32(oldCsum, oldIP, newIP))
	putU32(data[fieldOff:fieldOff+4], newIP)

	if lo.l4Start < 0 {
		return
	}
	switch lo.l4Kind {
	case 6: // TCP
		off := lo.l4Start + 16
		if off+2 > len(data) {
			return
		}
		old := getU16(data[off : off+2])
		putU16(data[off:off+2], recalcCsum32(old, oldIP, newIP))
	case 17: // UDP
		off := lo.l4Start + 6
		if off+2 > len(data) {
			return
		}
		old := getU16(data[off : off+2])
		if old == 0 {
			return // §4.7: a zero UDP checksum stays zero
		}
		nw := recalcCsum32(old, oldIP, newIP)
		if nw == 0 {
			nw = 0xffff
		}
		putU16(data[off:off+2], nw)
	}
}

// setTpPort rewrites a TCP or UDP source or destination port in place
// with the matching incremental checksum fixup (§4.7).
func setTpPort(frame *Frame, newPort uint16, isSrc bool) {
	lo := locate(frame.Data)
	if lo.l4Start < 0 {
		return
	}
	data := frame.Data
	fieldOff := lo.l4Start
	if !isSrc {
		fieldOff = lo.l4Start + 2
	}
	if fieldOff+2 > len(data) {
		return
	}
	oldPort := getU16(data[fieldOff : fieldOff+2])
	if oldPort == newPort {
		return
	}

	var csumOff int
	switch lo.l4Kind {
	case 6:
		csumOff = lo.l4Start + 16
	case 17:
		csumOff = lo.l4Start + 6
	default:
		return
	}
	if csumOff+2 > len(data) {
		return
	}
	oldCsum := getU16(data[csumOff : csumOff+2])
	if lo.l4Kind == 17 && oldCsum == 0 {
		putU16(data[fieldOff:fieldOff+2], newPort)
		return // §4.7: a zero UDP checksum stays zero
	}
	newCsum := recalcCsum16(oldCsum, oldPort, newPort)
	if lo.l4Kind == 17 && newCsum == 0 {
		newCsum = 0xffff
	}
	putU16(data[csumOff:csumOff+2], newCsum)
	putU16(data[fieldOff:fieldOff+2], newPort)
}

// LoopsBack reports whether any Output action in the list would send the
// frame back out TABLE, NONE, or its own ingress port — the admission
// check §4.7 requires before a flow carrying these actions enters the
// chain.
func LoopsBack(actions []Action, inPort uint16) bool {
	for _, a := range actions {
		if a.Kind != Output {
			continue
		}
		if a.Port == wire.PortTable || a.Port == wire.PortNone || a.Port == inPort {
			return true
		}
	}
	return false
}
