package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/layer-3/rendezvous/core"
)

// Unary request and response bodies. Binary fields travel as standard base64.

type challengeRequest struct {
	Username string `json:"username"`
}

type challengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	Challenge   []byte `json:"challenge"`
}

type registerRequest struct {
	ReservationToken string `json:"reservation_token"`
	PublicKey        []byte `json:"public_key"`
}

type registerResponse struct {
	Success bool `json:"success"`
}

type authenticateRequest struct {
	Username    string `json:"username"`
	ChallengeID string `json:"challenge_id"`
	Signature   []byte `json:"signature"`
}

type authenticateResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at_unix"`
}

type reserveRequest struct {
	Nickname string `json:"nickname"`
}

type reserveResponse struct {
	ReservationToken string `json:"reservation_token"`
	ExpiresAt        int64  `json:"expires_at_unix"`
}

type sendNotificationRequest struct {
	FCMToken  string            `json:"fcm_token"`
	Topic     string            `json:"topic"`
	EventType string            `json:"event_type"`
	Data      map[string]string `json:"data"`
}

type messageIDResponse struct {
	MessageID string `json:"message_id"`
}

type pushTokenRequest struct {
	Token string `json:"token"`
}

type disconnectRequest struct {
	Name string `json:"name"`
}

type notifyPeerRequest struct {
	Receiver string `json:"receiver"`
}

type ackResponse struct {
	Success bool `json:"success"`
}

// Stream envelopes. Exactly one field is set per message.

type presenceInitial struct {
	Name string `json:"name"`
}

type presenceClientMessage struct {
	Initial    *presenceInitial `json:"initial,omitempty"`
	StillAlive *struct{}        `json:"still_alive,omitempty"`
}

type presenceAck struct {
	KeepAliveInterval int64  `json:"keep_alive_interval"`
	SessionKey        string `json:"session_key"`
}

type presenceServerMessage struct {
	Initial   *presenceAck         `json:"initial,omitempty"`
	UsersList *core.PresenceUpdate `json:"users_list,omitempty"`
}

type streamInitial struct {
	SessionKey string `json:"session_key"`
}

type sdpClientMessage struct {
	Initial            *streamInitial           `json:"initial,omitempty"`
	SessionDescription *core.SessionDescription `json:"session_description,omitempty"`
}

type sdpServerMessage struct {
	Approved           *bool                    `json:"approved,omitempty"`
	SessionDescription *core.SessionDescription `json:"session_description,omitempty"`
}

type iceClientMessage struct {
	Initial       *streamInitial      `json:"initial,omitempty"`
	ICECandidates *core.ICECandidates `json:"ice_candidates,omitempty"`
}

type iceServerMessage struct {
	Approved      *bool               `json:"approved,omitempty"`
	ICECandidates *core.ICECandidates `json:"ice_candidates,omitempty"`
}

var errEmptyEnvelope = errors.New("message carries no payload")

// decodeStrict rejects unknown fields and trailing data.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func parsePresenceMessage(data []byte) (presenceClientMessage, error) {
	var msg presenceClientMessage
	if err := decodeStrict(data, &msg); err != nil {
		return msg, err
	}
	switch {
	case msg.Initial != nil && msg.StillAlive != nil:
		return msg, errors.New("initial and still_alive are exclusive")
	case msg.Initial == nil && msg.StillAlive == nil:
		return msg, errEmptyEnvelope
	}
	return msg, nil
}

func parseSDPMessage(data []byte) (sdpClientMessage, error) {
	var msg sdpClientMessage
	if err := decodeStrict(data, &msg); err != nil {
		return msg, err
	}
	switch {
	case msg.Initial != nil && msg.SessionDescription != nil:
		return msg, errors.New("initial and session_description are exclusive")
	case msg.Initial == nil && msg.SessionDescription == nil:
		return msg, errEmptyEnvelope
	case msg.SessionDescription != nil:
		return msg, validateSessionDescription(msg.SessionDescription)
	}
	return msg, nil
}

func parseICEMessage(data []byte) (iceClientMessage, error) {
	var msg iceClientMessage
	if err := decodeStrict(data, &msg); err != nil {
		return msg, err
	}
	switch {
	case msg.Initial != nil && msg.ICECandidates != nil:
		return msg, errors.New("initial and ice_candidates are exclusive")
	case msg.Initial == nil && msg.ICECandidates == nil:
		return msg, errEmptyEnvelope
	case msg.ICECandidates != nil:
		return msg, validateICECandidates(msg.ICECandidates)
	}
	return msg, nil
}

// validateSessionDescription checks the type against the WebRTC SDP types
// and that the body parses as SDP.
func validateSessionDescription(desc *core.SessionDescription) error {
	if strings.TrimSpace(desc.Receiver) == "" {
		return fmt.Errorf("%w: receiver must not be blank", core.ErrInvalidArgument)
	}
	if webrtc.NewSDPType(desc.Type) == webrtc.SDPTypeUnknown {
		return fmt.Errorf("%w: unsupported sdp type %q", core.ErrInvalidArgument, desc.Type)
	}
	// A rollback carries no body.
	if webrtc.NewSDPType(desc.Type) == webrtc.SDPTypeRollback {
		return nil
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return fmt.Errorf("%w: malformed sdp: %w", core.ErrInvalidArgument, err)
	}
	return nil
}

// validateICECandidates parses every candidate line. An empty candidate is
// the end-of-candidates marker and passes through.
func validateICECandidates(batch *core.ICECandidates) error {
	if strings.TrimSpace(batch.Receiver) == "" {
		return fmt.Errorf("%w: receiver must not be blank", core.ErrInvalidArgument)
	}
	if len(batch.Candidates) == 0 {
		return fmt.Errorf("%w: no candidates", core.ErrInvalidArgument)
	}
	for i, c := range batch.Candidates {
		if c.Candidate == "" {
			continue
		}
		if _, err := ice.UnmarshalCandidate(strings.TrimPrefix(c.Candidate, "candidate:")); err != nil {
			return fmt.Errorf("%w: candidate %d: %w", core.ErrInvalidArgument, i, err)
		}
	}
	return nil
}
