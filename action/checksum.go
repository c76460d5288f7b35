package action

import "encoding/binary"

// recalcCsum16 returns the updated ones-complement checksum for a header
// in which the field previously containing old16 was changed to new16,
// the checksum field previously holding oldCsum (RFC 1624, ported
// verbatim from original_source/switch/forward.c's recalc_csum16).
func recalcCsum16(oldCsum, old16, new16 uint16) uint16 {
	hcComplement := ^oldCsum
	mComplement := ^old16
	mPrime := new16
	sum := uint32(hcComplement) + uint32(mComplement) + uint32(mPrime)
	hcPrimeComplement := uint16(sum) + uint16(sum>>16)
	return ^hcPrimeComplement
}

// recalcCsum32 is recalcCsum16 applied to both halves of a 32-bit field.
func recalcCsum32(oldCsum uint16, old32, new32 uint32) uint16 {
	return recalcCsum16(
		recalcCsum16(oldCsum, uint16(old32), uint16(new32)),
		uint16(old32>>16), uint16(new32>>16),
	)
}

func getU16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func putU16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func getU32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
