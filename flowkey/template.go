package flowkey

import "github.com/of83/datapath/wire"

// Template is the decoded form of a wire Match: the key fields it names,
// the wildcard bitmap (with the §3 implications already applied), and the
// derived IP masks (§4.2).
type Template struct {
	Key       Key
	Wildcards uint32
	NwSrcMask uint32
	NwDstMask uint32
}

// ipMask returns the mask over the low-order `bits` of a 32-bit address
// ("host-to-net(~((1<<bits)-1))" in §3; since Key's addresses are already
// decoded to host-order uint32, the wire byte-swap has no further effect
// here and the mask is the plain high-bits-set pattern).
func ipMask(bits uint8) uint32 {
	if bits >= 32 {
		return 0
	}
	return ^((uint32(1) << bits) - 1)
}

// FromWire decodes a 40-byte wire.Match into a Template, applying the
// wildcard implications from §4.2:
//   - DL_TYPE wildcarded  => wildcard all NW/TP fields
//   - else dl_type==IPv4 && NW_PROTO wildcarded => wildcard TP fields
//   - else nw_proto not in {TCP,UDP} => clear the TP wildcard bits (push
//     such flows into the hash tables rather than the linear table)
//
// Network masks are derived last, after those adjustments, per §4.2.
func FromWire(m wire.Match) Template {
	w := m.Wildcards

	t := Template{
		Key: Key{
			InPort:  m.InPort,
			DlVlan:  m.DlVlan,
			DlSrc:   m.DlSrc,
			DlDst:   m.DlDst,
			DlType:  m.DlType,
			NwSrc:   m.NwSrc,
			NwDst:   m.NwDst,
			NwProto: m.NwProto,
			TpSrc:   m.TpSrc,
			TpDst:   m.TpDst,
		},
	}

	const ipv4 = 0x0800
	const tcp = 6
	const udp = 17

	srcBits, dstBits := m.NwSrcBits(), m.NwDstBits()
	switch {
	case w&wire.WildcardDlType != 0:
		w |= wire.WildcardNwProto | wire.WildcardTpSrc | wire.WildcardTpDst
		srcBits, dstBits = 32, 32
	case m.DlType == ipv4 && w&wire.WildcardNwProto != 0:
		w |= wire.WildcardTpSrc | wire.WildcardTpDst
	case m.NwProto != tcp && m.NwProto != udp:
		w &^= wire.WildcardTpSrc | wire.WildcardTpDst
	}

	t.Wildcards = w
	t.NwSrcMask = ipMask(srcBits)
	t.NwDstMask = ipMask(dstBits)
	return t
}

// ToWire re-encodes a Template back into a wire.Match (used for the
// encode(decode(match)) round-trip law in §8).
func (t Template) ToWire() wire.Match {
	m := wire.Match{
		Wildcards: t.Wildcards,
		InPort:    t.Key.InPort,
		DlSrc:     t.Key.DlSrc,
		DlDst:     t.Key.DlDst,
		DlVlan:    t.Key.DlVlan,
		DlType:    t.Key.DlType,
		NwSrc:     t.Key.NwSrc,
		NwDst:     t.Key.NwDst,
		NwProto:   t.Key.NwProto,
		TpSrc:     t.Key.TpSrc,
		TpDst:     t.Key.TpDst,
	}
	srcBits := bitsFromMask(t.NwSrcMask)
	dstBits := bitsFromMask(t.NwDstMask)
	return m.WithBits(srcBits, dstBits)
}

// IsExact reports whether every bit of the packed Wildcards value is
// clear: no field flag is wildcarded and both IP-bit counts are zero.
// Per §3 this is the test for hash-table eligibility.
func (t Template) IsExact() bool {
	return t.Wildcards == 0
}

func bitsFromMask(mask uint32) uint8 {
	if mask == 0 {
		return 32
	}
	var leadingOnes uint8
	for mask&(1<<31) != 0 {
		leadingOnes++
		mask <<= 1
	}
	return 32 - leadingOnes
}
