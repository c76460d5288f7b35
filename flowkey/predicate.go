package flowkey

import "github.com/of83/datapath/wire"

// Matches answers "does packet key a match table entry (b's template)?"
// per §4.5: every non-wildcarded field of b must equal a's, and a's IP
// addresses must agree with b's under b's IP masks.
func Matches(a Key, b Template) bool {
	w := b.Wildcards
	if w&wire.WildcardInPort == 0 && a.InPort != b.Key.InPort {
		return false
	}
	if w&wire.WildcardDlVlan == 0 && a.DlVlan != b.Key.DlVlan {
		return false
	}
	if w&wire.WildcardDlSrc == 0 && a.DlSrc != b.Key.DlSrc {
		return false
	}
	if w&wire.WildcardDlDst == 0 && a.DlDst != b.Key.DlDst {
		return false
	}
	if w&wire.WildcardDlType == 0 && a.DlType != b.Key.DlType {
		return false
	}
	if w&wire.WildcardNwProto == 0 && a.NwProto != b.Key.NwProto {
		return false
	}
	if w&wire.WildcardTpSrc == 0 && a.TpSrc != b.Key.TpSrc {
		return false
	}
	if w&wire.WildcardTpDst == 0 && a.TpDst != b.Key.TpDst {
		return false
	}
	if (a.NwSrc^b.Key.NwSrc)&b.NwSrcMask != 0 {
		return false
	}
	if (a.NwDst^b.Key.NwDst)&b.NwDstMask != 0 {
		return false
	}
	return true
}

// Overlaps answers the admin "does rule a overlap rule b" question used
// by non-strict delete (§4.5): using (a.wildcards | b.wildcards) and the
// intersection of the IP masks, is a's key consistent with b's under that
// relaxed template?
func Overlaps(a, b Template) bool {
	relaxed := Template{
		Key:       b.Key,
		Wildcards: a.Wildcards | b.Wildcards,
		NwSrcMask: a.NwSrcMask & b.NwSrcMask,
		NwDstMask: a.NwDstMask & b.NwDstMask,
	}
	return Matches(a.Key, relaxed)
}
