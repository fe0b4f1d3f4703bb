package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"arqcopier/internal/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounts(t *testing.T) {
	reg := NewRegistry()

	stats := progress.NewStats("provider", "a.bin", 100, 512)
	reg.Begin(stats)

	rep := reg.Snapshot()
	assert.Equal(t, int64(1), rep.Active)
	require.NotNil(t, rep.Current)
	assert.Equal(t, "a.bin", rep.Current.Filename)

	summary := stats.Snapshot()
	reg.End(Session{Peer: "127.0.0.1:5000", Filename: "a.bin", Success: true, Summary: &summary})
	reg.Rejected("127.0.0.1:5001", "missing.bin")

	rep = reg.Snapshot()
	assert.Zero(t, rep.Active)
	assert.Nil(t, rep.Current)
	assert.Equal(t, uint64(1), rep.Served)
	assert.Equal(t, uint64(1), rep.NotFound)
	assert.Zero(t, rep.Failed)
	require.NotNil(t, rep.Last)
	assert.Equal(t, "missing.bin", rep.Last.Filename)
	assert.False(t, rep.Last.Found)
}

func TestHandlerServesJSON(t *testing.T) {
	reg := NewRegistry()
	reg.Rejected("10.0.0.1:1", "nope")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	reg.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var rep Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, uint64(1), rep.NotFound)
	require.NotNil(t, rep.Last)
	assert.Equal(t, "nope", rep.Last.Filename)
}

func TestHandlerRejectsOtherMethods(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	NewRegistry().Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Header().Get("Allow"), http.MethodGet)
}

func TestServe(t *testing.T) {
	reg := NewRegistry()
	srv, addr, err := Serve("127.0.0.1:0", reg)
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + addr.String() + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var rep Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Zero(t, rep.Served)
}
