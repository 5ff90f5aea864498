package config

import (
	"strings"
	"testing"

	"github.com/hydrahook/hydrahook/pkg/api"
)

func TestDefaultsMirrorEngineDefaults(t *testing.T) {
	cfg := Default()
	if !cfg.Logging.Enabled {
		t.Fatal("logging should default on")
	}
	if cfg.Logging.FilePath != `%TEMP%\HydraHook.log` {
		t.Fatalf("default log fallback = %q", cfg.Logging.FilePath)
	}
	if cfg.CrashHandler.Enabled {
		t.Fatal("crash handler should default off")
	}
	if cfg.CrashHandler.DumpType != "normal" {
		t.Fatalf("default dump type = %q, want normal", cfg.CrashHandler.DumpType)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config does not validate: %v", errs)
	}
}

func TestValidateCorrectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"
	errs := cfg.Validate()
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "logging.level") {
		t.Fatalf("Validate = %v, want one logging.level error", errs)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("level left as %q, want corrected to info", cfg.Logging.Level)
	}
}

func TestValidateCorrectsBadDumpType(t *testing.T) {
	cfg := Default()
	cfg.CrashHandler.DumpType = "gigantic"
	errs := cfg.Validate()
	if len(errs) != 1 {
		t.Fatalf("Validate = %v, want one error", errs)
	}
	if cfg.CrashHandler.DumpType != "normal" {
		t.Fatalf("dump type left as %q", cfg.CrashHandler.DumpType)
	}
}

func TestValidateDropsControlCharacterPaths(t *testing.T) {
	cfg := Default()
	cfg.CrashHandler.DumpDirectory = "C:\\Dumps\x00evil"
	cfg.Validate()
	if cfg.CrashHandler.DumpDirectory != "" {
		t.Fatalf("dump directory kept: %q", cfg.CrashHandler.DumpDirectory)
	}
}

func TestToAPIDumpTypeMapping(t *testing.T) {
	cases := []struct {
		in   string
		want api.DumpType
	}{
		{"minimal", api.DumpTypeMinimal},
		{"normal", api.DumpTypeNormal},
		{"full", api.DumpTypeFull},
		{"", api.DumpTypeNormal},
	}
	for _, tc := range cases {
		cfg := Default()
		cfg.CrashHandler.DumpType = tc.in
		if got := cfg.ToAPI().CrashHandler.DumpType; got != tc.want {
			t.Fatalf("dump type %q mapped to %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestToAPICarriesHookSelections(t *testing.T) {
	cfg := Default()
	cfg.Direct3D.HookD3D11 = true
	cfg.CoreAudio.HookCoreAudio = true

	out := cfg.ToAPI()
	if !out.Direct3D.HookD3D11 || out.Direct3D.HookD3D9 {
		t.Fatalf("hook selections not carried: %+v", out.Direct3D)
	}
	if !out.CoreAudio.HookCoreAudio {
		t.Fatal("core audio selection not carried")
	}
}

func TestToAPICarriesLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "error"

	out := cfg.ToAPI()
	if out.Logging.Level != "error" {
		t.Fatalf("log level = %q, want error", out.Logging.Level)
	}
}
