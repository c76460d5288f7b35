// Package flowkey extracts the canonical flow key from an Ethernet frame
// and builds match templates from the wire match structure (§4.1, §4.2).
// Header decoding is delegated to gopacket/layers the way
// hkwi/gopenflow's ofp4sw package builds a frame's layer list, instead of
// hand-rolling offset arithmetic: gopacket already knows how to stop
// cleanly at a truncated header, which is exactly the "never populate
// transport fields when the header is truncated" rule this package must
// honor.
package flowkey

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/of83/datapath/wire"
)

// NotEthType is the sentinel dl_type used when a frame is 802.2 but not a
// SNAP-encoded EtherType (§4.1 step 2).
const NotEthType uint16 = 0x05FF

// Key is the fixed-size, all-wildcards-clear flow key (§3).
type Key struct {
	InPort  uint16
	DlVlan  uint16
	DlSrc   [6]byte
	DlDst   [6]byte
	DlType  uint16
	NwSrc   uint32
	NwDst   uint32
	NwProto uint8
	TpSrc   uint16
	TpDst   uint16
}

// Extract builds a Key from an Ethernet frame starting at buf, plus
// whether the frame is an IPv4 fragment (§4.1).
func Extract(buf []byte, inPort uint16) (Key, bool) {
	var key Key
	key.InPort = inPort
	key.DlVlan = wire.VlanNone

	pkt := gopacket.NewPacket(buf, layers.LayerTypeEthernet, gopacket.NoCopy)
	parsed := pkt.Layers()
	if len(parsed) == 0 {
		return key, false
	}

	eth, ok := parsed[0].(*layers.Ethernet)
	if !ok {
		return key, false
	}
	copy(key.DlSrc[:], eth.SrcMAC)
	copy(key.DlDst[:], eth.DstMAC)

	idx := 1
	ethType := uint16(eth.EthernetType)
	if ethType < 0x0600 {
		// 802.2: look for an LLC/SNAP layer gopacket may have decoded.
		key.DlType = NotEthType
		if idx < len(parsed) {
			if llc, ok := parsed[idx].(*layers.LLC); ok {
				idx++
				if llc.DSAP == 0xAA && llc.SSAP == 0xAA {
					if idx < len(parsed) {
						if snap, ok := parsed[idx].(*layers.SNAP); ok {
							idx++
							if len(snap.OrganizationalCode) == 3 && snap.OrganizationalCode[0]|snap.OrganizationalCode[1]|snap.OrganizationalCode[2] == 0 {
								key.DlType = uint16(snap.Type)
							}
						}
					}
				}
			}
		}
	} else {
		key.DlType = ethType
	}

	if idx < len(parsed) {
		if dot1q, ok := parsed[idx].(*layers.Dot1Q); ok {
			key.DlVlan = dot1q.VLANIdentifier & 0x0FFF
			key.DlType = uint16(dot1q.Type)
			idx++
		}
	}

	isFrag := false
	switch key.DlType {
	case 0x0800: // IPv4
		if idx >= len(parsed) {
			break
		}
		ip4, ok := parsed[idx].(*layers.IPv4)
		if !ok {
			break
		}
		idx++
		key.NwSrc = be32(ip4.SrcIP)
		key.NwDst = be32(ip4.DstIP)
		key.NwProto = uint8(ip4.Protocol)

		if ip4.Flags&layers.IPv4MoreFragments != 0 || ip4.FragOffset != 0 {
			isFrag = true
			break
		}
		if idx >= len(parsed) {
			break
		}
		switch t := parsed[idx].(type) {
		case *layers.TCP:
			if key.NwProto == 6 {
				key.TpSrc = uint16(t.SrcPort)
				key.TpDst = uint16(t.DstPort)
			}
		case *layers.UDP:
			if key.NwProto == 17 {
				key.TpSrc = uint16(t.SrcPort)
				key.TpDst = uint16(t.DstPort)
			}
		}
	case 0x0806: // ARP
		if idx >= len(parsed) {
			break
		}
		if arp, ok := parsed[idx].(*layers.ARP); ok {
			if arp.HwAddressSize == 6 && arp.ProtAddressSize == 4 {
				key.NwSrc = be32(net.IP(arp.SourceProtAddress))
				key.NwDst = be32(net.IP(arp.DstProtAddress))
			}
		}
	}

	return key, isFrag
}

// Bytes renders the key as a deterministic byte sequence for hashing
// (flowtable's exact-hash tables key their CRC32 on this, not on the
// wire encoding — there is no requirement that the hash input match any
// wire layout).
func (k Key) Bytes() []byte {
	buf := make([]byte, 0, 24)
	buf = appendU16(buf, k.InPort)
	buf = appendU16(buf, k.DlVlan)
	buf = append(buf, k.DlSrc[:]...)
	buf = append(buf, k.DlDst[:]...)
	buf = appendU16(buf, k.DlType)
	buf = appendU32(buf, k.NwSrc)
	buf = appendU32(buf, k.NwDst)
	buf = append(buf, k.NwProto)
	buf = appendU16(buf, k.TpSrc)
	buf = appendU16(buf, k.TpDst)
	return buf
}

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func be32(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}
