//go:build windows

package ipc

import (
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// SDDL: SYSTEM and Administrators get full control. The pipe exposes log
// contents and module addresses, so ordinary users stay out.
const pipeSecurity = "D:P(A;;GA;;;SY)(A;;GA;;;BA)"

// PipeName returns the per-process diagnostics pipe path.
func PipeName(pid int32) string {
	return fmt.Sprintf(`\\.\pipe\hydrahook-%d`, pid)
}

// Listen opens the diagnostics pipe listener for the given process.
func Listen(pid int32) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: pipeSecurity,
		InputBufferSize:    64 * 1024,
		OutputBufferSize:   64 * 1024,
	}
	ln, err := winio.ListenPipe(PipeName(pid), cfg)
	if err != nil {
		return nil, fmt.Errorf("listen pipe %s: %w", PipeName(pid), err)
	}
	log.Info("diagnostics pipe listening", "pipe", PipeName(pid))
	return ln, nil
}

// Dial connects to the diagnostics pipe of the given process.
func Dial(pid int32, timeout time.Duration) (*Conn, error) {
	raw, err := winio.DialPipe(PipeName(pid), &timeout)
	if err != nil {
		return nil, fmt.Errorf("dial pipe %s: %w", PipeName(pid), err)
	}
	return NewConn(raw), nil
}
