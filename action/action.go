// Package action interprets an ordered action list against a frame
// (§4.7): header rewrites with incremental RFC 1624 checksums, VLAN
// push/pop/modify, and port output. Layer boundaries inside the frame are
// located with github.com/google/gopacket the way
// hkwi/gopenflow/ofp4sw locates them, but — because this datapath's
// action set only ever rewrites fixed-width fields in place rather than
// needing gopacket's full decode/mutate/re-serialize cycle — the
// checksum fixups are the incremental RFC 1624 arithmetic from
// original_source/switch/forward.c's recalc_csum16/32, applied directly
// to the header bytes gopacket located.
package action

// Kind tags the action variant (§3's "tagged variant over {...}").
type Kind int

const (
	Output Kind = iota
	SetVlanVid
	SetVlanPcp
	StripVlan
	SetDlSrc
	SetDlDst
	SetNwSrc
	SetNwDst
	SetTpSrc
	SetTpDst
)

func (k Kind) String() string {
	switch k {
	case Output:
		return "Output"
	case SetVlanVid:
		return "SetVlanVid"
	case SetVlanPcp:
		return "SetVlanPcp"
	case StripVlan:
		return "StripVlan"
	case SetDlSrc:
		return "SetDlSrc"
	case SetDlDst:
		return "SetDlDst"
	case SetNwSrc:
		return "SetNwSrc"
	case SetNwDst:
		return "SetNwDst"
	case SetTpSrc:
		return "SetTpSrc"
	case SetTpDst:
		return "SetTpDst"
	default:
		return "Unknown"
	}
}

// Action is one step of an action program (§3, §4.7).
type Action struct {
	Kind Kind

	// Output
	Port   uint16
	MaxLen uint16

	// SetVlanVid
	VlanVid uint16
	// SetVlanPcp
	VlanPcp uint8

	// SetDlSrc / SetDlDst
	Mac [6]byte
	// SetNwSrc / SetNwDst
	IP uint32
	// SetTpSrc / SetTpDst
	TpPort uint16
}
