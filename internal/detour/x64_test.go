package detour

import "testing"

func TestInstLen(t *testing.T) {
	cases := []struct {
		name string
		code []byte
		want int
	}{
		{"push rbx", []byte{0x53}, 1},
		{"push r14", []byte{0x41, 0x56}, 2},
		{"mov rbp, rsp", []byte{0x48, 0x89, 0xE5}, 3},
		{"sub rsp, imm8", []byte{0x48, 0x83, 0xEC, 0x28}, 4},
		{"sub rsp, imm32", []byte{0x48, 0x81, 0xEC, 0x88, 0x00, 0x00, 0x00}, 7},
		{"mov [rsp+8], rbx", []byte{0x48, 0x89, 0x5C, 0x24, 0x08}, 5},
		{"mov eax, imm32", []byte{0xB8, 0x01, 0x00, 0x00, 0x00}, 5},
		{"mov rax, imm64", []byte{0x48, 0xB8, 1, 2, 3, 4, 5, 6, 7, 8}, 10},
		{"xor ecx, ecx", []byte{0x33, 0xC9}, 2},
		{"lea rdx, [rcx+0x10]", []byte{0x48, 0x8D, 0x51, 0x10}, 4},
		{"nop", []byte{0x90}, 1},
		{"nop word [rax+rax]", []byte{0x66, 0x0F, 0x1F, 0x44, 0x00, 0x00}, 6},
		{"ret", []byte{0xC3}, 1},
	}
	for _, c := range cases {
		if got := instLen(c.code); got != c.want {
			t.Errorf("%s: instLen = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestInstLenRejectsRelative(t *testing.T) {
	cases := []struct {
		name string
		code []byte
	}{
		{"call rel32", []byte{0xE8, 0x00, 0x00, 0x00, 0x00}},
		{"jmp rel32", []byte{0xE9, 0x00, 0x00, 0x00, 0x00}},
		{"mov rax, [rip+x]", []byte{0x48, 0x8B, 0x05, 0x10, 0x00, 0x00, 0x00}},
		{"truncated", []byte{0x48}},
	}
	for _, c := range cases {
		if got := instLen(c.code); got != 0 {
			t.Errorf("%s: instLen = %d, want 0", c.name, got)
		}
	}
}

func TestPrologueLen(t *testing.T) {
	// Typical MSVC prologue: mov [rsp+8],rbx / push rdi / sub rsp,0x20 /
	// mov rdi,rcx / ...
	code := []byte{
		0x48, 0x89, 0x5C, 0x24, 0x08,
		0x57,
		0x48, 0x83, 0xEC, 0x20,
		0x48, 0x8B, 0xF9,
		0x48, 0x8B, 0xD9,
		0x90, 0x90, 0x90, 0x90,
	}
	got := prologueLen(code, absJumpSize)
	if got < absJumpSize {
		t.Fatalf("prologueLen = %d, want >= %d", got, absJumpSize)
	}
	// Must end on an instruction boundary: 5+1+4+3+3 = 16.
	if got != 16 {
		t.Fatalf("prologueLen = %d, want 16", got)
	}

	if got := prologueLen([]byte{0xE9, 0, 0, 0, 0, 0x90}, absJumpSize); got != 0 {
		t.Fatalf("undecodable prologue should yield 0, got %d", got)
	}
}
