package orchestrator

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatfeed/internal/sinks"
	"threatfeed/pkg/adapter"
	"threatfeed/pkg/circuit"
	"threatfeed/pkg/dedup"
	"threatfeed/pkg/errors"
	"threatfeed/pkg/quality"
	"threatfeed/pkg/record"
	"threatfeed/pkg/syncstate"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestOrchestrator(t *testing.T, sources []Source) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	logger := testLogger()

	history, err := quality.NewHistory(dir+"/quality_history.json", logger)
	require.NoError(t, err)

	return New(
		Config{MaxConcurrentSources: 2, DedupStrategy: dedup.DefaultStrategy(), BreakerConfig: circuit.Config{FailureThreshold: 2, Timeout: 1}},
		sources,
		dedup.New(logger),
		quality.NewAnalyzer(history),
		sinks.New(sinks.Config{DataDir: dir}, logger),
		syncstate.NewManager(dir, logger),
		logger,
	)
}

func newRecord(source, cve string) *record.Record {
	r := record.New(source)
	r.CVEID = cve
	r.Description = "a sufficiently long description of " + cve
	return r
}

func TestRunCycle_OneFailingSourceDoesNotBlockOthers(t *testing.T) {
	good := Source{Name: "nvd", Adapter: adapter.NewStaticAdapter("nvd", []*record.Record{newRecord("nvd", "CVE-2024-1")}), DataType: quality.DataTypeVulnerability}
	bad := Source{Name: "broken", Adapter: adapter.NewFailingAdapter("broken", errors.FetchTransient("broken", assert.AnError)), DataType: quality.DataTypeVulnerability}

	o := newTestOrchestrator(t, []Source{good, bad})
	stats := o.RunCycle(context.Background())

	assert.Equal(t, 1, stats.TotalUnique)
	assert.Contains(t, stats.SourceErrors, "broken")
	assert.NotContains(t, stats.SourceErrors, "nvd")
	require.Contains(t, stats.Dedup, "nvd")
}

func TestRunCycle_DedupsAcrossCycles(t *testing.T) {
	src := Source{Name: "nvd", Adapter: adapter.NewStaticAdapter("nvd", []*record.Record{newRecord("nvd", "CVE-2024-1")}), DataType: quality.DataTypeVulnerability}

	o := newTestOrchestrator(t, []Source{src})
	first := o.RunCycle(context.Background())
	second := o.RunCycle(context.Background())

	assert.Equal(t, 1, first.TotalUnique)
	assert.Equal(t, 0, second.TotalUnique, "the same record fetched again is a duplicate across cycles")
	assert.Equal(t, 1, second.Dedup["nvd"].DuplicatesRemoved)
}

func TestRunCycle_PerSourceStrategyOverridesOrchestratorDefault(t *testing.T) {
	a := newRecord("nvd", "CVE-2024-1")
	b := newRecord("community", "CVE-2024-1")
	b.Tags = []string{"extra"}

	src := Source{
		Name:     "nvd",
		Adapter:  adapter.NewStaticAdapter("nvd", []*record.Record{a, b}),
		DataType: quality.DataTypeVulnerability,
		Strategy: &dedup.Strategy{MergeFields: false, KeepHighestAuthority: true},
	}

	dir := t.TempDir()
	logger := testLogger()
	history, err := quality.NewHistory(dir+"/quality_history.json", logger)
	require.NoError(t, err)

	o := New(
		Config{MaxConcurrentSources: 2, DedupStrategy: dedup.DefaultStrategy(), BreakerConfig: circuit.Config{FailureThreshold: 2, Timeout: 1}},
		[]Source{src},
		dedup.New(logger),
		quality.NewAnalyzer(history),
		sinks.New(sinks.Config{DataDir: dir}, logger),
		syncstate.NewManager(dir, logger),
		logger,
	)

	stats := o.RunCycle(context.Background())

	require.Equal(t, 1, stats.TotalUnique)
	require.Equal(t, 1, stats.Dedup["nvd"].DuplicatesRemoved)
	require.Equal(t, 0, stats.Dedup["nvd"].ItemsMerged, "the per-source strategy disables merging even though the orchestrator default enables it")
}

func TestLastStats_ReflectsMostRecentCycle(t *testing.T) {
	src := Source{Name: "nvd", Adapter: adapter.NewStaticAdapter("nvd", []*record.Record{newRecord("nvd", "CVE-2024-1")}), DataType: quality.DataTypeVulnerability}
	o := newTestOrchestrator(t, []Source{src})

	assert.Zero(t, o.LastStats().StartedAt)
	o.RunCycle(context.Background())
	assert.NotZero(t, o.LastStats().StartedAt)
}
