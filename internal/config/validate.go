package config

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validDumpTypes = map[string]bool{
	"minimal": true,
	"normal":  true,
	"full":    true,
}

// Validate checks the config for invalid values and returns all errors
// found. Recoverable mistakes are corrected in place; nothing here prevents
// the engine from starting.
func (c *Config) Validate() []error {
	var errs []error

	if c.Logging.Level != "" && !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("logging.level %q is not valid (use debug, info, warn, error)", c.Logging.Level))
		c.Logging.Level = "info"
	}

	if c.CrashHandler.DumpType != "" && !validDumpTypes[strings.ToLower(c.CrashHandler.DumpType)] {
		errs = append(errs, fmt.Errorf("crash_handler.dump_type %q is not valid (use minimal, normal, full), using normal", c.CrashHandler.DumpType))
		c.CrashHandler.DumpType = "normal"
	}

	for _, r := range c.CrashHandler.DumpDirectory {
		if unicode.IsControl(r) {
			errs = append(errs, fmt.Errorf("crash_handler.dump_directory contains control characters, ignoring it"))
			c.CrashHandler.DumpDirectory = ""
			break
		}
	}

	for _, r := range c.Logging.FilePath {
		if unicode.IsControl(r) {
			errs = append(errs, fmt.Errorf("logging.file_path contains control characters, ignoring it"))
			c.Logging.FilePath = ""
			break
		}
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
