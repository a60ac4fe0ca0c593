package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatfeed/internal/orchestrator"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type stubProvider struct {
	stats orchestrator.CycleStats
}

func (s stubProvider) LastStats() orchestrator.CycleStats { return s.stats }

func TestHealth_ReturnsOK(t *testing.T) {
	s := NewServer(":0", stubProvider{}, testLogger())
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStats_ReturnsLastCycleAsJSON(t *testing.T) {
	s := NewServer(":0", stubProvider{stats: orchestrator.CycleStats{TotalUnique: 42}}, testLogger())
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats orchestrator.CycleStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 42, stats.TotalUnique)
}
