package hv

// gpRegisterIndex is the inverse of gpRegisterByIndex, used by backends
// (and the simulator) that need to encode a CR-access exit qualification
// rather than decode one.
var gpRegisterIndex = map[Register]uint8{
	RegRAX: 0, RegRCX: 1, RegRDX: 2, RegRBX: 3,
	RegRSP: 4, RegRBP: 5, RegRSI: 6, RegRDI: 7,
	RegR8: 8, RegR9: 9, RegR10: 10, RegR11: 11,
	RegR12: 12, RegR13: 13, RegR14: 14, RegR15: 15,
}

// EncodeCRAccessQualification builds the raw exit qualification word for a
// CR-access VM-exit, the inverse of DecodeCRAccessQualification.
func EncodeCRAccessQualification(crNumber uint8, typ CRAccessType, reg Register) uint64 {
	return uint64(crNumber&0xf) | uint64(typ&0x3)<<4 | uint64(gpRegisterIndex[reg])<<8
}
