package analyzer

// opcodeLength holds the fixed total instruction length (opcode byte
// included) for every JVM opcode whose operand count is constant. Variable
// length instructions (tableswitch, lookupswitch, wide) are handled
// separately in instructionLength. Table per JVM spec chapter 6.5.
var opcodeLength = [256]int{
	0x00: 1, 0x01: 1, 0x02: 1, 0x03: 1, 0x04: 1, 0x05: 1, 0x06: 1, 0x07: 1, 0x08: 1, 0x09: 1,
	0x0a: 1, 0x0b: 1, 0x0c: 1, 0x0d: 1, 0x0e: 1, 0x0f: 1,
	0x10: 2, 0x11: 3, 0x12: 2, 0x13: 3, 0x14: 3,
	0x15: 2, 0x16: 2, 0x17: 2, 0x18: 2, 0x19: 2,
	0x1a: 1, 0x1b: 1, 0x1c: 1, 0x1d: 1,
	0x1e: 1, 0x1f: 1, 0x20: 1, 0x21: 1,
	0x22: 1, 0x23: 1, 0x24: 1, 0x25: 1, 0x26: 1, 0x27: 1, 0x28: 1, 0x29: 1, 0x2a: 1, 0x2b: 1, 0x2c: 1, 0x2d: 1,
	0x2e: 1, 0x2f: 1, 0x30: 1, 0x31: 1, 0x32: 1, 0x33: 1, 0x34: 1, 0x35: 1,
	0x36: 2, 0x37: 2, 0x38: 2, 0x39: 2, 0x3a: 2,
	0x3b: 1, 0x3c: 1, 0x3d: 1, 0x3e: 1,
	0x3f: 1, 0x40: 1, 0x41: 1, 0x42: 1, 0x43: 1, 0x44: 1, 0x45: 1, 0x46: 1, 0x47: 1, 0x48: 1, 0x49: 1, 0x4a: 1, 0x4b: 1, 0x4c: 1, 0x4d: 1, 0x4e: 1, 0x4f: 1,
	0x50: 1, 0x51: 1, 0x52: 1, 0x53: 1, 0x54: 1, 0x55: 1, 0x56: 1, 0x57: 1, 0x58: 1, 0x59: 1, 0x5a: 1, 0x5b: 1, 0x5c: 1, 0x5d: 1, 0x5e: 1, 0x5f: 1,
	0x60: 1, 0x61: 1, 0x62: 1, 0x63: 1, 0x64: 1, 0x65: 1, 0x66: 1, 0x67: 1, 0x68: 1, 0x69: 1, 0x6a: 1, 0x6b: 1, 0x6c: 1, 0x6d: 1, 0x6e: 1, 0x6f: 1,
	0x70: 1, 0x71: 1, 0x72: 1, 0x73: 1, 0x74: 1, 0x75: 1, 0x76: 1, 0x77: 1, 0x78: 1, 0x79: 1, 0x7a: 1, 0x7b: 1, 0x7c: 1, 0x7d: 1, 0x7e: 1, 0x7f: 1,
	0x80: 1, 0x81: 1, 0x82: 1, 0x83: 1, 0x84: 3, 0x85: 1, 0x86: 1, 0x87: 1, 0x88: 1, 0x89: 1, 0x8a: 1, 0x8b: 1, 0x8c: 1, 0x8d: 1, 0x8e: 1, 0x8f: 1,
	0x90: 1, 0x91: 1, 0x92: 1, 0x93: 1, 0x94: 1, 0x95: 1, 0x96: 1, 0x97: 1, 0x98: 1, 0x99: 3, 0x9a: 3, 0x9b: 3, 0x9c: 3, 0x9d: 3, 0x9e: 3, 0x9f: 3,
	0xa0: 3, 0xa1: 3, 0xa2: 3, 0xa3: 3, 0xa4: 3, 0xa5: 3, 0xa6: 3, 0xa7: 3, 0xa8: 3,
	0xa9: 2,
	// 0xaa tableswitch, 0xab lookupswitch: variable length, handled below
	0xac: 1, 0xad: 1, 0xae: 1, 0xaf: 1, 0xb0: 1, 0xb1: 1,
	0xb2: 3, 0xb3: 3, 0xb4: 3, 0xb5: 3,
	0xb6: 3, 0xb7: 3, 0xb8: 3, 0xb9: 5, 0xba: 5,
	0xbb: 3, 0xbc: 2, 0xbd: 3, 0xbe: 1, 0xbf: 1,
	0xc0: 3, 0xc1: 3, 0xc2: 1, 0xc3: 1,
	// 0xc4 wide: variable length, handled below
	0xc5: 4,
	0xc6: 3, 0xc7: 3,
	0xc8: 5, 0xc9: 5,
	0xca: 1, 0xfe: 1, 0xff: 1,
}

const (
	opTableswitch  = 0xaa
	opLookupswitch = 0xab
	opWide         = 0xc4
)

// instructionLength returns the total byte length of the instruction
// starting at b[i], including the opcode byte itself. tableswitch and
// lookupswitch pad to a 4-byte boundary measured from the start of the
// code array; wide doubles the operand width of the instruction it
// prefixes. Unknown/reserved opcodes fall back to length 1 to keep the
// scan moving rather than aborting the whole class.
func instructionLength(b []byte, i int) int {
	op := b[i]
	switch op {
	case opTableswitch:
		pad := (4 - (i+1)%4) % 4
		p := i + 1 + pad
		if p+12 > len(b) {
			return len(b) - i
		}
		// default(4), low(4), high(4), then high-low+1 jump offsets.
		low := int32(be32(b[p+4:]))
		high := int32(be32(b[p+8:]))
		n := int(high-low+1)
		if n < 0 {
			n = 0
		}
		return 1 + pad + 12 + 4*n
	case opLookupswitch:
		pad := (4 - (i+1)%4) % 4
		p := i + 1 + pad
		if p+8 > len(b) {
			return len(b) - i
		}
		// default(4), npairs(4), then npairs match/offset pairs.
		npairs := int(int32(be32(b[p+4:])))
		if npairs < 0 {
			npairs = 0
		}
		return 1 + pad + 4 + 8*npairs
	case opWide:
		if i+1 >= len(b) {
			return 1
		}
		if b[i+1] == 0x84 { // wide iinc
			return 6
		}
		return 4
	}
	if l := opcodeLength[op]; l > 0 {
		return l
	}
	return 1
}

func be32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
