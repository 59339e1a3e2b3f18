package http

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/rendezvous/core"
)

func TestParsePresenceMessage(t *testing.T) {
	msg, err := parsePresenceMessage([]byte(`{"initial":{"name":"alice"}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Initial)
	assert.Equal(t, "alice", msg.Initial.Name)

	msg, err = parsePresenceMessage([]byte(`{"still_alive":{}}`))
	require.NoError(t, err)
	assert.NotNil(t, msg.StillAlive)

	for name, raw := range map[string]string{
		"empty":         `{}`,
		"both":          `{"initial":{"name":"a"},"still_alive":{}}`,
		"unknown field": `{"hello":1}`,
		"trailing data": `{"still_alive":{}} {}`,
		"not json":      `still alive`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parsePresenceMessage([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestParseSDPMessage(t *testing.T) {
	msg, err := parseSDPMessage([]byte(`{"initial":{"session_key":"k"}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Initial)
	assert.Equal(t, "k", msg.Initial.SessionKey)

	valid := fmt.Sprintf(`{"session_description":{"receiver":"bob","type":"answer","sdp":%q}}`, testSDP)
	msg, err = parseSDPMessage([]byte(valid))
	require.NoError(t, err)
	require.NotNil(t, msg.SessionDescription)
	assert.Equal(t, "answer", msg.SessionDescription.Type)

	_, err = parseSDPMessage([]byte(`{"session_description":{"receiver":"bob","type":"rollback","sdp":""}}`))
	assert.NoError(t, err, "rollback carries no body")

	tests := map[string]string{
		"unknown type":   fmt.Sprintf(`{"session_description":{"receiver":"bob","type":"bogus","sdp":%q}}`, testSDP),
		"blank receiver": fmt.Sprintf(`{"session_description":{"receiver":"","type":"offer","sdp":%q}}`, testSDP),
		"malformed sdp":  `{"session_description":{"receiver":"bob","type":"offer","sdp":"hello"}}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseSDPMessage([]byte(raw))
			assert.ErrorIs(t, err, core.ErrInvalidArgument)
		})
	}

	_, err = parseSDPMessage([]byte(`{"session_description":{"receiver":"bob","extra":true}}`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, core.ErrInvalidArgument), "structural errors are not payload errors")
}

func TestParseICEMessage(t *testing.T) {
	msg, err := parseICEMessage([]byte(`{"ice_candidates":{"receiver":"bob","candidates":[` +
		`{"candidate":"candidate:1 1 udp 2122260223 192.0.2.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0},` +
		`{"candidate":""}]}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.ICECandidates)
	require.Len(t, msg.ICECandidates.Candidates, 2)
	require.NotNil(t, msg.ICECandidates.Candidates[0].SDPMid)
	assert.Equal(t, "0", *msg.ICECandidates.Candidates[0].SDPMid)

	tests := map[string]string{
		"no candidates":  `{"ice_candidates":{"receiver":"bob","candidates":[]}}`,
		"blank receiver": `{"ice_candidates":{"receiver":"","candidates":[{"candidate":""}]}}`,
		"garbage":        `{"ice_candidates":{"receiver":"bob","candidates":[{"candidate":"candidate:nonsense"}]}}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseICEMessage([]byte(raw))
			assert.ErrorIs(t, err, core.ErrInvalidArgument)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: blank", core.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("%w: %w", core.ErrUnauthenticated, core.ErrTokenExpired), http.StatusUnauthorized},
		{fmt.Errorf("%w: %w", core.ErrNotFound, core.ErrPrincipalNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: %w", core.ErrAlreadyExists, core.ErrNicknameReserved), http.StatusConflict},
		{fmt.Errorf("%w: %w", core.ErrFailedPrecondition, core.ErrReservationNotFound), http.StatusPreconditionFailed},
		{fmt.Errorf("%w: unregistered", core.ErrPushTokenInvalid), http.StatusPreconditionFailed},
		{fmt.Errorf("%w: timeout", core.ErrPushUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		status, message := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.NotContains(t, message, "boom")
	}
}

func TestBearerToken(t *testing.T) {
	token, ok := bearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	token, ok = bearerToken("bearer  abc ")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	for _, h := range []string{"", "Bearer", "Bearer ", "Basic abc"} {
		_, ok := bearerToken(h)
		assert.False(t, ok, h)
	}
}
