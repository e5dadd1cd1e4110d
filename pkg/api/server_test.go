package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func TestHandleStatus(t *testing.T) {
	source := &fixedSource{status: network.StatusSnapshot{
		Mode:         "server",
		Peers:        []uint32{1, 2},
		Actors:       3,
		MessagesSent: 42,
	}}

	rec := httptest.NewRecorder()
	handleStatus(source)(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got network.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "server", got.Mode)
	assert.Equal(t, []uint32{1, 2}, got.Peers)
	assert.Equal(t, uint64(42), got.MessagesSent)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewStatusServer(NewStatusServerOptions{
		Addr:   ":0",
		Source: &fixedSource{},
	})

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "netsync_messages_sent_total")
}
