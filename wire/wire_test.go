package wire

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: Version, Type: TypeFlowMod, Length: 123, Xid: 0xdeadbeef}
	var got Header
	if err := got.UnmarshalBinary(h.MarshalBinary()); err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestHeaderUnmarshalShort(t *testing.T) {
	var h Header
	if err := h.UnmarshalBinary(make([]byte, HeaderLen-1)); err == nil {
		t.Error("expected error on short header")
	}
}

func TestMatchRoundTrip(t *testing.T) {
	m := Match{
		Wildcards: WildcardDlVlan | WildcardTpSrc,
		InPort:    3,
		DlSrc:     [6]byte{1, 2, 3, 4, 5, 6},
		DlDst:     [6]byte{6, 5, 4, 3, 2, 1},
		DlVlan:    VlanNone,
		DlType:    0x0800,
		NwSrc:     0x0A000001,
		NwDst:     0x0A000002,
		NwProto:   17,
		TpSrc:     53,
		TpDst:     5353,
	}
	m = m.WithBits(8, 24)

	var got Match
	if err := got.UnmarshalBinary(m.MarshalBinary()); err != nil {
		t.Fatal(err)
	}
	if got != m {
		t.Errorf("got %+v, want %+v", got, m)
	}
	if got.NwSrcBits() != 8 {
		t.Errorf("NwSrcBits = %d, want 8", got.NwSrcBits())
	}
	if got.NwDstBits() != 24 {
		t.Errorf("NwDstBits = %d, want 24", got.NwDstBits())
	}
}

func TestMatchUnmarshalShort(t *testing.T) {
	var m Match
	if err := m.UnmarshalBinary(make([]byte, MatchLen-1)); err == nil {
		t.Error("expected error on short match")
	}
}

func TestWireActionRoundTrip(t *testing.T) {
	a := WireAction{Type: ActionOutput, Arg: uint32(5)<<16 | 128}
	var got WireAction
	if err := got.UnmarshalBinary(a.MarshalBinary()); err != nil {
		t.Fatal(err)
	}
	if got != a {
		t.Errorf("got %+v, want %+v", got, a)
	}
}

func TestCoerceFrag(t *testing.T) {
	cases := []struct {
		in, want uint16
	}{
		{FragNormal, FragNormal},
		{FragDrop, FragDrop},
		{0x3 << 1, FragDrop}, // unrecognized frag sub-field coerces to DROP
	}
	for _, c := range cases {
		if got := CoerceFrag(c.in); got&FragMask != c.want {
			t.Errorf("CoerceFrag(%#x) = %#x, want %#x", c.in, got&FragMask, c.want)
		}
	}
}

func TestValidateHeaderBadVersion(t *testing.T) {
	h := Header{Version: 0x01, Type: TypeFeaturesRequest, Length: HeaderLen}
	err := ValidateHeader(h, HeaderLen)
	if err == nil {
		t.Fatal("expected bad version error")
	}
	if werr, ok := err.(Error); !ok || werr.Kind != ErrBadVersion {
		t.Errorf("got %v, want ErrBadVersion", err)
	}
}

func TestValidateHeaderVersionExemptTypes(t *testing.T) {
	for _, typ := range []uint8{TypeHello, TypeEchoRequest, TypeEchoReply, TypeError, TypeVendor} {
		h := Header{Version: 0x01, Type: typ, Length: HeaderLen + 4}
		if err := ValidateHeader(h, HeaderLen+4); err != nil {
			t.Errorf("type %d: unexpected error %v", typ, err)
		}
	}
}

func TestValidateHeaderLengthExceedsBuffer(t *testing.T) {
	h := Header{Version: Version, Type: TypeHello, Length: 100}
	err := ValidateHeader(h, 10)
	if werr, ok := err.(Error); !ok || werr.Kind != ErrBadLength {
		t.Errorf("got %v, want ErrBadLength", err)
	}
}

func TestValidateHeaderBelowMinimum(t *testing.T) {
	h := Header{Version: Version, Type: TypeFlowMod, Length: HeaderLen}
	err := ValidateHeader(h, HeaderLen)
	if werr, ok := err.(Error); !ok || werr.Kind != ErrBadLength {
		t.Errorf("got %v, want ErrBadLength", err)
	}
}

func TestValidateHeaderUnknownType(t *testing.T) {
	h := Header{Version: Version, Type: 200, Length: HeaderLen}
	err := ValidateHeader(h, HeaderLen)
	if werr, ok := err.(Error); !ok || werr.Kind != ErrBadType {
		t.Errorf("got %v, want ErrBadType", err)
	}
}

func TestValidateHeaderVendorHasNoMinimum(t *testing.T) {
	h := Header{Version: Version, Type: TypeVendor, Length: HeaderLen}
	if err := ValidateHeader(h, HeaderLen); err != nil {
		t.Errorf("unexpected error for bare vendor message: %v", err)
	}
}

func TestErrorMarshalRoundTrip(t *testing.T) {
	e := Error{Kind: ErrBadAction, Code: 7, Data: []byte{1, 2, 3}}
	buf := e.MarshalBinary()
	if len(buf) != 4+len(e.Data) {
		t.Fatalf("len = %d, want %d", len(buf), 4+len(e.Data))
	}
	if e.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

func TestPhyPortRoundTrip(t *testing.T) {
	p := PhyPort{
		PortNo:   7,
		HwAddr:   [6]byte{1, 2, 3, 4, 5, 6},
		Flags:    PortFlagNoFlood,
		Speed:    1000,
		Features: 0xff,
	}
	copy(p.Name[:], "eth0")

	var got PhyPort
	if err := got.UnmarshalBinary(p.MarshalBinary()); err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Errorf("got %+v, want %+v", got, p)
	}
}
