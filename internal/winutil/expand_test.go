package winutil

import "testing"

func TestExpandEnv(t *testing.T) {
	lookup := func(name string) string {
		switch name {
		case "TEMP":
			return `C:\Users\player\AppData\Local\Temp`
		case "EMPTY":
			return ""
		}
		return ""
	}

	cases := []struct {
		in, want string
	}{
		{`%TEMP%\HydraHook.log`, `C:\Users\player\AppData\Local\Temp\HydraHook.log`},
		{`no variables here`, `no variables here`},
		{`%UNKNOWN%\file`, `%UNKNOWN%\file`},
		{`prefix %TEMP%`, `prefix C:\Users\player\AppData\Local\Temp`},
		{`dangling %TEMP`, `dangling %TEMP`},
		{`100%% done`, `100% done`},
	}
	for _, c := range cases {
		if got := expandEnv(c.in, lookup); got != c.want {
			t.Fatalf("expandEnv(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEnsureTrailingSeparator(t *testing.T) {
	if got := EnsureTrailingSeparator(`C:\Dumps\`); got != `C:\Dumps\` {
		t.Fatalf("separator doubled: %q", got)
	}
	if got := EnsureTrailingSeparator(""); got != "" {
		t.Fatalf("empty path grew a separator: %q", got)
	}
	got := EnsureTrailingSeparator(`C:\Dumps`)
	if got != `C:\Dumps\` && got != `C:\Dumps/` {
		t.Fatalf("missing separator not appended: %q", got)
	}
}
