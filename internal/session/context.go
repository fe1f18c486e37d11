// Package session owns the lifecycle of one active GameStream session:
// its command queue, its three real-time streams (video, audio,
// control), and their shared cooperative shutdown token.
//
// Grounded on moonshine/src/session/mod.rs (SessionContext/SessionKeys,
// command set, UpdateKeys drop-if-absent behavior) restructured into
// the teacher's command-channel + Manager idiom from
// internal/session/manager.go.
package session

// Keys carries the remote-input AES-GCM key and a monotonically
// growing key id for one session (spec §3). The key id is retained
// for forward compatibility and never inspected during dispatch
// (spec §9).
type Keys struct {
	RemoteInputKey   [16]byte
	RemoteInputKeyID int64
}

// Context is the launch parameters and current keys for one session
// (spec §3): application id, resolution, refresh rate, and keys.
type Context struct {
	ApplicationID int
	Width         int
	Height        int
	RefreshRate   int
	Keys          Keys
}
