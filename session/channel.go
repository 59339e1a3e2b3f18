package session

import "github.com/layer-3/rendezvous/core"

// Channel is the server side of one client stream carrying messages of type T.
// Implementations must be safe for concurrent Send calls and must make Close
// idempotent; a Send after Close returns core.ErrChannelClosed.
type Channel[T any] interface {
	Send(msg T) error
	Close() error
}

type (
	PresenceChannel = Channel[core.PresenceUpdate]
	SDPChannel      = Channel[core.SessionDescription]
	ICEChannel      = Channel[core.ICECandidates]
)
