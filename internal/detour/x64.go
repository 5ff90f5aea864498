package detour

// Minimal x64 length decoder for function prologues. Only the encodings that
// show up at the start of compiler-generated functions are covered; anything
// else aborts the patch. Position-relative instructions (call/jmp rel32,
// RIP-relative operands) cannot be moved into a trampoline, so they are
// rejected outright.

// absJumpSize is the footprint of an absolute indirect jump:
// FF 25 00000000 followed by the 8-byte destination.
const absJumpSize = 14

// instLen returns the byte length of the instruction at code[0], or 0 if it
// cannot be decoded or cannot be safely relocated.
func instLen(code []byte) int {
	n := 0

	// Legacy prefixes.
	for n < len(code) {
		switch code[n] {
		case 0x66, 0x67, 0xF2, 0xF3, 0x2E, 0x36, 0x3E, 0x26, 0x64, 0x65:
			n++
			continue
		}
		break
	}

	// REX prefix.
	if n < len(code) && code[n]&0xF0 == 0x40 {
		n++
	}
	if n >= len(code) {
		return 0
	}

	op := code[n]
	n++

	switch {
	case op >= 0x50 && op <= 0x5F: // push/pop r64
		return n
	case op == 0x90 || op == 0xCC || op == 0xC3: // nop, int3, ret
		return n
	case op >= 0xB8 && op <= 0xBF: // mov r, imm32/imm64
		if hasRexW(code[:n]) {
			return n + 8
		}
		return n + 4
	case op == 0x00 || op == 0x01 || op == 0x02 || op == 0x03, // add
		op == 0x08 || op == 0x09 || op == 0x0A || op == 0x0B, // or
		op == 0x20 || op == 0x21 || op == 0x22 || op == 0x23, // and
		op == 0x28 || op == 0x29 || op == 0x2A || op == 0x2B, // sub
		op == 0x30 || op == 0x31 || op == 0x32 || op == 0x33, // xor
		op == 0x38 || op == 0x39 || op == 0x3A || op == 0x3B, // cmp
		op == 0x84 || op == 0x85, // test
		op == 0x88 || op == 0x89 || op == 0x8A || op == 0x8B, // mov
		op == 0x8D, // lea
		op == 0x63: // movsxd
		return withModRM(code, n, 0)
	case op == 0x83: // grp1 r/m, imm8
		return withModRM(code, n, 1)
	case op == 0x81: // grp1 r/m, imm32
		return withModRM(code, n, 4)
	case op == 0xC6: // mov r/m8, imm8
		return withModRM(code, n, 1)
	case op == 0xC7: // mov r/m, imm32
		return withModRM(code, n, 4)
	case op == 0x0F:
		if n >= len(code) {
			return 0
		}
		op2 := code[n]
		n++
		switch {
		case op2 == 0x1F: // multi-byte nop
			return withModRM(code, n, 0)
		case op2 == 0xB6 || op2 == 0xB7 || op2 == 0xBE || op2 == 0xBF: // movzx/movsx
			return withModRM(code, n, 0)
		case op2 == 0x10 || op2 == 0x11 || op2 == 0x28 || op2 == 0x29 ||
			op2 == 0x6F || op2 == 0x7F: // SSE/AVX-less mov loads and stores
			return withModRM(code, n, 0)
		case op2 == 0x57 || op2 == 0xEF: // xorps, pxor
			return withModRM(code, n, 0)
		}
		return 0
	}
	return 0
}

func hasRexW(prefix []byte) bool {
	for _, b := range prefix {
		if b&0xF8 == 0x48 {
			return true
		}
	}
	return false
}

// withModRM decodes the ModRM byte and any SIB/displacement that follows,
// returning total instruction length including imm trailing bytes. Returns 0
// for RIP-relative addressing, which is not relocatable.
func withModRM(code []byte, n, imm int) int {
	if n >= len(code) {
		return 0
	}
	modrm := code[n]
	n++

	mod := modrm >> 6
	rm := modrm & 0x07

	if mod == 0 && rm == 5 {
		// RIP-relative disp32.
		return 0
	}

	if mod != 3 && rm == 4 {
		// SIB byte.
		if n >= len(code) {
			return 0
		}
		sib := code[n]
		n++
		if mod == 0 && sib&0x07 == 5 {
			n += 4
		}
	}

	switch mod {
	case 1:
		n++
	case 2:
		n += 4
	}

	n += imm
	if n > len(code) {
		return 0
	}
	return n
}

// prologueLen returns the number of whole instructions needed to cover at
// least want bytes from the start of code, or 0 if decoding fails first.
func prologueLen(code []byte, want int) int {
	total := 0
	for total < want {
		l := instLen(code[total:])
		if l == 0 {
			return 0
		}
		total += l
	}
	return total
}
