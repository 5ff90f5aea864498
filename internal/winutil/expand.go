// Package winutil wraps the small set of OS facilities the engine leans on:
// environment expansion, module-relative paths, module pinning, and native
// event objects.
package winutil

import (
	"os"
	"strings"
)

// ExpandEnv expands %VAR% references using the process environment.
// Unknown variables are left in place, matching ExpandEnvironmentStrings.
func ExpandEnv(s string) string {
	return expandEnv(s, os.Getenv)
}

func expandEnv(s string, lookup func(string) string) string {
	var b strings.Builder
	b.Grow(len(s))

	for {
		start := strings.IndexByte(s, '%')
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexByte(s[start+1:], '%')
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += start + 1

		b.WriteString(s[:start])
		name := s[start+1 : end]
		if name == "" {
			// %% escapes a literal percent sign.
			b.WriteByte('%')
		} else if val := lookup(name); val != "" {
			b.WriteString(val)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
}

// EnsureTrailingSeparator appends a path separator if the path lacks one.
// Directory values handed to callers always carry it so file names can be
// appended directly.
func EnsureTrailingSeparator(p string) string {
	if p == "" {
		return p
	}
	if strings.HasSuffix(p, `\`) || strings.HasSuffix(p, "/") {
		return p
	}
	return p + string(os.PathSeparator)
}
