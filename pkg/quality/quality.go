// Package quality implements the multi-dimensional source-quality scorer:
// five independent dimensions, a weighted overall score, a deterministic
// issues/recommendations table, and OLS-slope trend classification over a
// bounded, durably persisted history. Persistence is grounded on the
// teacher's pkg/persistence (atomic batch writes) and pkg/positions
// (write-temp-then-rename) patterns.
package quality

import (
	"time"

	"threatfeed/pkg/dedup"
	"threatfeed/pkg/record"
)

// DataType is a hint influencing the completeness dimension's required
// field set (§4.3).
type DataType string

const (
	DataTypeVulnerability     DataType = "vulnerability"
	DataTypeThreatIntel       DataType = "threat_intelligence"
	DataTypeMalware           DataType = "malware"
	DataTypeDefault           DataType = ""
)

var requiredFields = map[DataType][]string{
	DataTypeVulnerability: {"cve_id", "description", "published", "cvss_score"},
	DataTypeThreatIntel:   {"indicator", "type", "source", "timestamp"},
	DataTypeMalware:       {"hash", "name", "type", "first_seen"},
}

var defaultRequiredFields = []string{"id", "source", "timestamp"}

func requiredFieldsFor(dataType DataType) []string {
	if fields, ok := requiredFields[dataType]; ok {
		return fields
	}
	return defaultRequiredFields
}

// Trend is the per-source recent-quality-direction classification.
type Trend string

const (
	TrendImproving          Trend = "improving"
	TrendDegrading          Trend = "degrading"
	TrendStable             Trend = "stable"
	TrendInsufficientData   Trend = "insufficient_data"
)

// Metrics holds the five independently computed dimensions plus their
// weighted overall score, each in [0, 1].
type Metrics struct {
	Freshness    float64 `json:"freshness"`
	Completeness float64 `json:"completeness"`
	Uniqueness   float64 `json:"uniqueness"`
	Consistency  float64 `json:"consistency"`
	Accuracy     float64 `json:"accuracy"`
	Overall      float64 `json:"overall"`
}

// Weights are the fixed overall-score weights from §4.3. They are a
// package variable that nothing in the pipeline reassigns.
var Weights = struct {
	Freshness, Completeness, Uniqueness, Consistency, Accuracy float64
}{
	Freshness:    0.25,
	Completeness: 0.20,
	Uniqueness:   0.20,
	Consistency:  0.20,
	Accuracy:     0.15,
}

// Report is an immutable snapshot produced per source per analysis (§3).
type Report struct {
	Source          string    `json:"source"`
	Timestamp       time.Time `json:"timestamp"`
	Metrics         Metrics   `json:"metrics"`
	Issues          []string  `json:"issues"`
	Recommendations []string  `json:"recommendations"`
	Trend           Trend     `json:"trend"`
	Samples         int       `json:"samples"`
}

// Analyzer computes quality reports and appends them to a History store.
type Analyzer struct {
	history *History
}

// NewAnalyzer constructs an Analyzer backed by the given history store.
func NewAnalyzer(history *History) *Analyzer {
	return &Analyzer{history: history}
}

// Analyze scores source's records and appends the resulting report to
// history. Empty input yields the canonical zero-metrics report without
// updating trend (§4.3's empty-input rule).
func (a *Analyzer) Analyze(source string, records []*record.Record, dataType DataType) Report {
	if len(records) == 0 {
		report := Report{
			Source:          source,
			Timestamp:       time.Now(),
			Issues:          []string{"No data available from source"},
			Recommendations: []string{"Check source connectivity and configuration"},
			Trend:           TrendInsufficientData,
			Samples:         0,
		}
		if a.history != nil {
			a.history.Append(report)
		}
		return report
	}

	metrics := Metrics{
		Freshness:    freshness(records),
		Completeness: completeness(records, dataType),
		Uniqueness:   uniqueness(source, records),
		Consistency:  consistency(records),
		Accuracy:     accuracy(source, records),
	}
	metrics.Overall = Weights.Freshness*metrics.Freshness +
		Weights.Completeness*metrics.Completeness +
		Weights.Uniqueness*metrics.Uniqueness +
		Weights.Consistency*metrics.Consistency +
		Weights.Accuracy*metrics.Accuracy

	issues, recommendations := evaluateThresholds(metrics)

	report := Report{
		Source:          source,
		Timestamp:       time.Now(),
		Metrics:         metrics,
		Issues:          issues,
		Recommendations: recommendations,
		Samples:         len(records),
	}

	if a.history != nil {
		report.Trend = a.history.ClassifyTrend(source, metrics.Overall)
		a.history.Append(report)
	} else {
		report.Trend = TrendInsufficientData
	}

	return report
}

// freshness implements §4.3's freshness dimension.
func freshness(records []*record.Record) float64 {
	if len(records) == 0 {
		return 0
	}
	now := time.Now()
	var sum float64
	for _, r := range records {
		ts, ok := r.FreshnessTimestamp()
		if !ok {
			continue
		}
		ageHours := now.Sub(ts).Hours()
		score := 1 - ageHours/48
		if score < 0 {
			score = 0
		}
		sum += score
	}
	return sum / float64(len(records))
}

// completeness implements §4.3's completeness dimension.
func completeness(records []*record.Record, dataType DataType) float64 {
	if len(records) == 0 {
		return 0
	}
	required := requiredFieldsFor(dataType)
	var sum float64
	for _, r := range records {
		present := 0
		for _, field := range required {
			if r.HasField(field) {
				present++
			}
		}
		sum += float64(present) / float64(len(required))
	}
	return sum / float64(len(records))
}

// uniqueness implements §4.3's uniqueness dimension, running an isolated
// dedup pass (a scratch Deduplicator, never the orchestrator's shared
// instance) so scoring has no side effect on cross-cycle dedup state.
func uniqueness(source string, records []*record.Record) float64 {
	if len(records) == 0 {
		return 0
	}
	scratch := dedup.New(nil)
	result := scratch.Run(records, dedup.Strategy{})
	ratio := float64(len(result.Unique)) / float64(len(records))

	if record.IsHighAuthoritySource(source) {
		return ratio
	}
	boosted := ratio * 1.2
	if boosted > 1.0 {
		boosted = 1.0
	}
	return boosted
}

// consistency implements §4.3's consistency dimension: presence
// uniformity averaged with type consistency.
func consistency(records []*record.Record) float64 {
	if len(records) == 0 {
		return 0
	}

	presentCount := make(map[string]int)
	kindsSeen := make(map[string]map[string]struct{})

	for _, r := range records {
		for name, value := range r.Attributes() {
			presentCount[name]++
			if kindsSeen[name] == nil {
				kindsSeen[name] = make(map[string]struct{})
			}
			kindsSeen[name][kindOf(value)] = struct{}{}
		}
	}

	if len(presentCount) == 0 {
		return 0
	}

	var presenceSum float64
	for _, count := range presentCount {
		presenceSum += float64(count) / float64(len(records))
	}
	presenceUniformity := presenceSum / float64(len(presentCount))

	var typeSum float64
	for _, kinds := range kindsSeen {
		typeSum += 1.0 / float64(len(kinds))
	}
	typeConsistency := typeSum / float64(len(kindsSeen))

	return (presenceUniformity + typeConsistency) / 2
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case []string:
		return "list"
	case *float64, float64:
		return "number"
	case *time.Time, time.Time:
		return "timestamp"
	case bool:
		return "bool"
	default:
		return "other"
	}
}

// accuracy implements §4.3's accuracy dimension: per-source prior,
// adjusted for test-data markers and missing-identifier prevalence.
func accuracy(source string, records []*record.Record) float64 {
	score := record.AccuracyPriorOf(source)

	if len(records) == 0 {
		return clamp01(score)
	}

	testMarked := 0
	missingIDs := 0
	for _, r := range records {
		if r.ContainsTestMarker() {
			testMarked++
		}
		if r.MissingAllIdentifiers() {
			missingIDs++
		}
	}

	if float64(testMarked)/float64(len(records)) > 0.10 {
		score -= 0.10
	}
	if float64(missingIDs)/float64(len(records)) > 0.05 {
		score -= 0.05
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// evaluateThresholds implements the §7 issues/recommendations table.
func evaluateThresholds(m Metrics) (issues, recommendations []string) {
	type rule struct {
		value    float64
		ok       bool
		issue    string
		fix      string
	}
	rules := []rule{
		{m.Freshness, m.Freshness >= 0.5, "Data freshness is below acceptable levels", "Increase update frequency or check source is active"},
		{m.Completeness, m.Completeness >= 0.7, "Data completeness below threshold", "Review field mapping"},
		{m.Uniqueness, m.Uniqueness >= 0.1, "High duplicate rate detected", "Improve deduplication upstream"},
		{m.Consistency, m.Consistency >= 0.8, "Inconsistent data structure detected", "Standardize parsing and add type validation"},
		{m.Accuracy, m.Accuracy >= 0.85, "Potential accuracy issues detected", "Validate against authoritative sources"},
	}

	for _, r := range rules {
		if !r.ok {
			issues = append(issues, r.issue)
			recommendations = append(recommendations, r.fix)
		}
	}

	if m.Overall < 0.7 {
		issues = append(issues, "Overall quality below threshold")
	}

	if len(issues) == 0 {
		recommendations = []string{"Source is performing well"}
	}

	return issues, recommendations
}
