package core

// ChannelKind names a secondary stream attached to a session.
type ChannelKind string

const (
	ChannelSDP ChannelKind = "sdp"
	ChannelICE ChannelKind = "ice"
)

// SessionDescription is an SDP offer/answer travelling between two peers.
type SessionDescription struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Type     string `json:"type"`
	SDP      string `json:"sdp"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit dictionary.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ICECandidates is a batch of candidates sent from one peer to another.
type ICECandidates struct {
	Sender     string         `json:"sender"`
	Receiver   string         `json:"receiver"`
	Candidates []ICECandidate `json:"candidates"`
}

// PresenceUpdate is the full list of principals currently online.
type PresenceUpdate struct {
	Users []string `json:"users"`
}

// Session lifecycle event types.
const (
	EventSessionOpened = "session.opened"
	EventSessionClosed = "session.closed"
	EventPresence      = "presence"
)

// SessionEvent is published whenever the set of online principals changes.
type SessionEvent struct {
	Type      string   `json:"type"`
	Principal string   `json:"principal,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Online    []string `json:"online,omitempty"`
	At        int64    `json:"at"`
}
