package ipc

import (
	"encoding/json"

	"github.com/hydrahook/hydrahook/internal/logging"
)

// Message type constants for the diagnostics pipe.
const (
	TypePing           = "ping"
	TypePong           = "pong"
	TypeStatusRequest  = "status_request"
	TypeStatus         = "status"
	TypeJournalRequest = "journal_request"
	TypeJournal        = "journal"
)

// MaxMessageSize caps one JSON message (1MB). The pipe only ever carries
// status blobs and log journals.
const MaxMessageSize = 1 * 1024 * 1024

// ProtocolVersion is the current diagnostics protocol version.
const ProtocolVersion = 1

// Envelope is the wire-format wrapper for all pipe messages.
type Envelope struct {
	ID      string          `json:"id"`
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error,omitempty"`
}

// EngineStatus describes one live engine.
type EngineStatus struct {
	HostModule   uint64 `json:"hostModule"`
	Version      string `json:"version"`
	Hooked       bool   `json:"hooked"`
	HookedObject uint64 `json:"hookedObject,omitempty"`
}

// Status is the response to a status_request.
type Status struct {
	ProtocolVersion int            `json:"protocolVersion"`
	PID             int32          `json:"pid"`
	Process         string         `json:"process"`
	Engines         []EngineStatus `json:"engines"`
}

// JournalRequest asks for the most recent log entries.
type JournalRequest struct {
	Max int `json:"max,omitempty"`
}

// Journal is the response to a journal_request.
type Journal struct {
	Entries []logging.Entry `json:"entries"`
}
