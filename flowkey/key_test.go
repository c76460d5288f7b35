package flowkey

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/of83/datapath/wire"
)

func buildUDP(t *testing.T, src, dst net.IP, srcPort, dstPort uint16) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    src,
		DstIP:    dst,
		Protocol: layers.IPProtocolUDP,
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("hi"))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractUDP(t *testing.T) {
	frame := buildUDP(t, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 1, 53)
	key, frag := Extract(frame, 1)
	if frag {
		t.Fatal("unexpected fragment")
	}
	if key.DlType != 0x0800 {
		t.Errorf("DlType = %#x, want 0x0800", key.DlType)
	}
	if key.NwProto != 17 {
		t.Errorf("NwProto = %d, want 17", key.NwProto)
	}
	if key.NwSrc != 0x0A000001 || key.NwDst != 0x0A000002 {
		t.Errorf("NwSrc/NwDst = %#x/%#x", key.NwSrc, key.NwDst)
	}
	if key.TpSrc != 1 || key.TpDst != 53 {
		t.Errorf("TpSrc/TpDst = %d/%d", key.TpSrc, key.TpDst)
	}
	if key.DlVlan != wire.VlanNone {
		t.Errorf("DlVlan = %#x, want VlanNone", key.DlVlan)
	}
}

func TestExtractFragmentLeavesTransportZero(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:    4,
		TTL:        64,
		SrcIP:      net.IPv4(10, 0, 0, 1),
		DstIP:      net.IPv4(10, 0, 0, 2),
		Protocol:   layers.IPProtocolUDP,
		FragOffset: 8,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, gopacket.Payload([]byte{1, 2, 3, 4, 5, 6, 7, 8})); err != nil {
		t.Fatal(err)
	}
	key, frag := Extract(buf.Bytes(), 2)
	if !frag {
		t.Fatal("expected fragment")
	}
	if key.TpSrc != 0 || key.TpDst != 0 {
		t.Errorf("transport fields should be zero on a fragment, got %d/%d", key.TpSrc, key.TpDst)
	}
}

// TestExtract8022SetsNotEthType builds a raw 802.2 LLC frame (a length
// field, not an EtherType, at offset 12) whose DSAP/SSAP aren't the
// 0xAA/0xAA pair that flags a SNAP encapsulation, and checks the
// sentinel matches OFP_DL_TYPE_NOT_ETH_TYPE (0x05ff), not the unrelated
// 0xFFFF used elsewhere in this wire format for VlanNone/PortNone/NoBuffer.
func TestExtract8022SetsNotEthType(t *testing.T) {
	frame := []byte{
		0, 0, 0, 0, 0, 2, // dst mac
		0, 0, 0, 0, 0, 1, // src mac
		0x00, 0x03, // length field, < 0x0600: this is 802.2, not an EtherType
		0x42, 0x42, 0x03, // LLC: DSAP, SSAP, Control (not the SNAP 0xAA/0xAA pair)
	}
	key, _ := Extract(frame, 1)
	if key.DlType != 0x05FF {
		t.Errorf("DlType = %#x, want 0x05ff (OFP_DL_TYPE_NOT_ETH_TYPE)", key.DlType)
	}
}

func TestMatchRoundTrip(t *testing.T) {
	orig := wire.Match{
		Wildcards: wire.WildcardDlVlan | wire.WildcardTpSrc,
		InPort:    3,
		DlType:    0x0800,
		NwProto:   6,
		TpDst:     80,
	}.WithBits(8, 0)
	tmpl := FromWire(orig)
	tmpl.Wildcards &^= wire.WildcardTpSrc | wire.WildcardTpDst // undo any implication to compare apples-to-apples
	got := tmpl.ToWire()
	again := FromWire(got)
	if again.ToWire() != got {
		t.Errorf("encode(decode(match)) not idempotent: %+v != %+v", again.ToWire(), got)
	}
}

func TestMatchesPredicate(t *testing.T) {
	tmpl := FromWire(wire.Match{
		DlType:  0x0800,
		NwProto: 17,
		NwSrc:   0x0A000000,
	}.WithBits(8, 32))
	pkt := Key{DlType: 0x0800, NwProto: 17, NwSrc: 0x0A000005}
	if !Matches(pkt, tmpl) {
		t.Error("expected match within /24")
	}
	pkt.NwSrc = 0x0B000005
	if Matches(pkt, tmpl) {
		t.Error("expected no match outside /24")
	}
}
