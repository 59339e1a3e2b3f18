package session

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/metrics"
)

func TestGate_ApprovesAndRegisters(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.CreateSession("alice", "key-a", &testChannel[core.PresenceUpdate]{}))

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	g := NewGate(r, zaptest.NewLogger(t), m)

	sdp := &testChannel[core.SessionDescription]{}
	adm := g.AdmitSDP("key-a", "alice", sdp)
	assert.True(t, adm.Approved)
	assert.Equal(t, "alice", adm.Principal)

	ch, ok := r.SDPChannel("alice")
	require.True(t, ok)
	assert.Same(t, sdp, ch)

	ice := &testChannel[core.ICECandidates]{}
	adm = g.AdmitICE("key-a", "", ice)
	assert.True(t, adm.Approved)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamAuth.WithLabelValues("sdp", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamAuth.WithLabelValues("ice", "approved")))
}

func TestGate_Denies(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.CreateSession("alice", "key-a", &testChannel[core.PresenceUpdate]{}))
	g := NewGate(r, zaptest.NewLogger(t), nil)

	sdp := &testChannel[core.SessionDescription]{}

	adm := g.AdmitSDP("unknown", "alice", sdp)
	assert.False(t, adm.Approved)

	// Bob cannot hijack alice's key.
	adm = g.AdmitSDP("key-a", "bob", sdp)
	assert.False(t, adm.Approved)

	_, ok := r.SDPChannel("alice")
	assert.False(t, ok)
	assert.False(t, sdp.Closed())

	g.Dropped(core.ChannelSDP, "bob")
}
