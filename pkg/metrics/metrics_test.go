package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pylonengine/netsync/pkg/network"
)

type fixedSource struct {
	status network.StatusSnapshot
}

func (f *fixedSource) Status() network.StatusSnapshot {
	return f.status
}

func TestCollectorReportsSnapshot(t *testing.T) {
	source := &fixedSource{status: network.StatusSnapshot{
		Mode:             "server",
		Peers:            []uint32{1, 2, 3},
		Actors:           7,
		MessagesSent:     100,
		MessagesReceived: 50,
		FramesDiscarded:  2,
	}}
	reg := NewRegistry(source)

	families, err := reg.Gather()
	require.NoError(t, err)

	got := make(map[string]float64)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			if m.GetCounter() != nil {
				got[fam.GetName()] = m.GetCounter().GetValue()
			} else if m.GetGauge() != nil {
				got[fam.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 100.0, got["netsync_messages_sent_total"])
	assert.Equal(t, 50.0, got["netsync_messages_received_total"])
	assert.Equal(t, 3.0, got["netsync_peers_connected"])
	assert.Equal(t, 7.0, got["netsync_actors_registered"])
	assert.Equal(t, 2.0, got["netsync_frames_discarded_total"])
}

func TestCollectorFollowsSource(t *testing.T) {
	source := &fixedSource{}
	reg := NewRegistry(source)

	source.status.MessagesSent = 5
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() == "netsync_messages_sent_total" {
			assert.Equal(t, 5.0, fam.GetMetric()[0].GetCounter().GetValue())
			return
		}
	}
	t.Fatal("netsync_messages_sent_total not gathered")
}
