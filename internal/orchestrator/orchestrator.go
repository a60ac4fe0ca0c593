// Package orchestrator drives one fetch/process cycle across every
// configured source: a bounded fan-out of concurrent fetches (the
// teacher's worker-pool idiom, generalized from a fixed worker count to
// a semaphore sized by max_concurrent_sources) feeding a single
// dedup/quality/sink consumer goroutine, with per-source circuit
// isolation so one source's failure can never abort another's fetch,
// per §4.5.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"threatfeed/internal/metrics"
	"threatfeed/internal/sinks"
	"threatfeed/pkg/adapter"
	"threatfeed/pkg/circuit"
	"threatfeed/pkg/dedup"
	"threatfeed/pkg/errors"
	"threatfeed/pkg/quality"
	"threatfeed/pkg/record"
	"threatfeed/pkg/syncstate"
	"threatfeed/pkg/taskrunner"
)

// Source bundles one configured source's adapter with its quality data
// type hint and dedup/sink participation.
type Source struct {
	Name     string
	Adapter  adapter.SourceAdapter
	DataType quality.DataType

	// Strategy overrides Config.DedupStrategy for this source only,
	// mirroring pipeline.py's per-source DuplicateStrategy. Nil means
	// "use the orchestrator-wide default".
	Strategy *dedup.Strategy
}

// Config configures one Orchestrator instance.
type Config struct {
	MaxConcurrentSources int
	DedupStrategy        dedup.Strategy
	BreakerConfig        circuit.Config
}

func (c Config) maxConcurrent() int64 {
	if c.MaxConcurrentSources <= 0 {
		return 3
	}
	return int64(c.MaxConcurrentSources)
}

// CycleStats summarizes one run_cycle call, returned to the CLI's "stats"
// subcommand and the thin HTTP API.
type CycleStats struct {
	StartedAt    time.Time                  `json:"started_at"`
	Duration     time.Duration              `json:"duration"`
	SourceErrors map[string]string          `json:"source_errors,omitempty"`
	Dedup        map[string]dedup.Stats     `json:"dedup_stats"`
	Quality      map[string]quality.Metrics `json:"quality_metrics"`
	TotalUnique  int                        `json:"total_unique"`
}

// Orchestrator runs fetch/dedup/quality/sink cycles across every
// configured source, either once (run_cycle) or on a fixed interval
// (run_forever) until stopped.
type Orchestrator struct {
	config   Config
	sources  []Source
	dedup    *dedup.Deduplicator
	analyzer *quality.Analyzer
	sinks    *sinks.FileSinks
	sync     *syncstate.Manager
	logger   *logrus.Logger

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker

	statsMu sync.RWMutex
	last    CycleStats

	runner *taskrunner.Runner
}

// New constructs an Orchestrator over the given sources.
func New(config Config, sources []Source, deduper *dedup.Deduplicator, analyzer *quality.Analyzer, sinker *sinks.FileSinks, syncMgr *syncstate.Manager, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		config:   config,
		sources:  sources,
		dedup:    deduper,
		analyzer: analyzer,
		sinks:    sinker,
		sync:     syncMgr,
		logger:   logger,
		breakers: make(map[string]*circuit.Breaker),
	}
}

func (o *Orchestrator) breakerFor(source string) *circuit.Breaker {
	o.mu.Lock()
	defer o.mu.Unlock()

	if b, ok := o.breakers[source]; ok {
		return b
	}
	cfg := o.config.BreakerConfig
	cfg.Name = source
	b := circuit.New(cfg, o.logger)
	o.breakers[source] = b
	return b
}

type fetchResult struct {
	source    Source
	records   []*record.Record
	watermark *time.Time
	err       error
}

// RunCycle executes exactly one fetch/dedup/quality/sink cycle across
// every configured source and returns a summary of what happened. A
// failing source's fetch error never prevents any other source's cycle
// from completing (§4.5).
func (o *Orchestrator) RunCycle(ctx context.Context) CycleStats {
	started := time.Now()
	sem := semaphore.NewWeighted(o.config.maxConcurrent())

	results := make(chan fetchResult, len(o.sources))
	var wg sync.WaitGroup

	for _, src := range o.sources {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- fetchResult{source: src, err: err}
				return
			}
			defer sem.Release(1)
			results <- o.fetchOne(ctx, src)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	stats := CycleStats{
		StartedAt:    started,
		SourceErrors: make(map[string]string),
		Dedup:        make(map[string]dedup.Stats),
		Quality:      make(map[string]quality.Metrics),
	}

	for res := range results {
		o.processOne(ctx, res, &stats)
	}

	stats.Duration = time.Since(started)
	o.statsMu.Lock()
	o.last = stats
	o.statsMu.Unlock()

	metrics.ActiveSources.Set(float64(len(o.sources)))
	return stats
}

// fetchOne fetches one source under its circuit breaker's protection.
// Breaker-open and fetch errors both surface as fetchResult.err; the
// caller (processOne) is responsible for recording metrics/log lines and
// never lets this abort another source's goroutine.
func (o *Orchestrator) fetchOne(ctx context.Context, src Source) fetchResult {
	breaker := o.breakerFor(src.Name)

	var records []*record.Record
	var watermark *time.Time
	var fetchErr error

	state, err := o.sync.Load(src.Name)
	if err != nil {
		return fetchResult{source: src, err: fmt.Errorf("loading sync state for %s: %w", src.Name, err)}
	}

	started := time.Now()
	breakerErr := breaker.Execute(func() error {
		records, watermark, fetchErr = src.Adapter.FetchIncremental(ctx, state)
		return fetchErr
	})
	duration := time.Since(started)

	status := "success"
	if breakerErr != nil {
		status = "error"
	}
	metrics.SourceFetchDuration.WithLabelValues(src.Name, status).Observe(duration.Seconds())
	metrics.RecordFetch(src.Name, status)

	if breakerErr != nil {
		if appErr, ok := errors.AsAppError(breakerErr); ok {
			metrics.RecordError(src.Name, appErr.Code)
		} else {
			metrics.RecordError(src.Name, "circuit_open")
		}
		return fetchResult{source: src, err: breakerErr}
	}

	return fetchResult{source: src, records: records, watermark: watermark}
}

// processOne runs dedup, quality analysis, and sink writes for one
// source's fetch result, recording the watermark only after both sinks
// commit successfully (Design Note §9's corrected ordering).
func (o *Orchestrator) processOne(ctx context.Context, res fetchResult, stats *CycleStats) {
	logEntry := o.logger.WithField("source", res.source.Name)

	if res.err != nil {
		logEntry.WithError(res.err).Warn("source fetch failed, skipping this cycle")
		stats.SourceErrors[res.source.Name] = res.err.Error()
		return
	}

	strategy := o.config.DedupStrategy
	if res.source.Strategy != nil {
		strategy = *res.source.Strategy
	}

	dedupStart := time.Now()
	dedupResult := o.dedup.Run(res.records, strategy)
	metrics.DeduplicationDuration.WithLabelValues("exact_approx_fuzzy").Observe(time.Since(dedupStart).Seconds())
	metrics.RecordDuplicatesRemoved(res.source.Name, dedupResult.Stats.DuplicatesRemoved)
	metrics.SetDeduplicationRatio(res.source.Name, dedupResult.Stats.ReductionRatio)
	stats.Dedup[res.source.Name] = dedupResult.Stats
	stats.TotalUnique += len(dedupResult.Unique)

	qualityStart := time.Now()
	report := o.analyzer.Analyze(res.source.Name, dedupResult.Unique, res.source.DataType)
	metrics.QualityAnalysisDuration.WithLabelValues(res.source.Name).Observe(time.Since(qualityStart).Seconds())
	stats.Quality[res.source.Name] = report.Metrics
	metrics.SetQualityScore(res.source.Name, "freshness", report.Metrics.Freshness)
	metrics.SetQualityScore(res.source.Name, "completeness", report.Metrics.Completeness)
	metrics.SetQualityScore(res.source.Name, "uniqueness", report.Metrics.Uniqueness)
	metrics.SetQualityScore(res.source.Name, "consistency", report.Metrics.Consistency)
	metrics.SetQualityScore(res.source.Name, "accuracy", report.Metrics.Accuracy)
	metrics.SetQualityScore(res.source.Name, "overall", report.Metrics.Overall)

	at := time.Now()
	if _, err := o.sinks.WriteSnapshot(res.source.Name, dedupResult.Unique, report, at); err != nil {
		logEntry.WithError(err).Error("snapshot sink write failed")
		stats.SourceErrors[res.source.Name] = err.Error()
		return
	}
	if _, err := o.sinks.WriteReport(res.source.Name, report, dedupResult.Stats, at); err != nil {
		logEntry.WithError(err).Error("report sink write failed")
		stats.SourceErrors[res.source.Name] = err.Error()
		return
	}

	if res.watermark != nil {
		if err := o.sync.Save(res.source.Name, *res.watermark, int64(len(dedupResult.Unique))); err != nil {
			logEntry.WithError(err).Error("sync state save failed")
		}
	}

	metrics.TotalVulnerabilities.Add(float64(len(dedupResult.Unique)))
}

// LastStats returns the most recently completed cycle's statistics.
func (o *Orchestrator) LastStats() CycleStats {
	o.statsMu.RLock()
	defer o.statsMu.RUnlock()
	return o.last
}
