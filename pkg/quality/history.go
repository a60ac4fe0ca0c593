package quality

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// MaxHistoryPerSource bounds retention: oldest reports are dropped first
// once a source's history exceeds this length (§3).
const MaxHistoryPerSource = 100

// trendWindow is the number of most-recent scores considered by the OLS
// trend fit (§4.3: "last up-to-10 scores").
const trendWindow = 10

// minTrendPoints is the minimum number of historical points (including the
// current one) required to classify a trend at all.
const minTrendPoints = 3

// History is the durable source → ordered report-snapshot sequence store.
// Persisted atomically (write-temp-then-rename) after every append,
// mirroring the teacher's pkg/positions discipline.
type History struct {
	path   string
	logger *logrus.Logger

	mu   sync.Mutex
	data map[string][]Report
}

// NewHistory loads an existing history file at path, if any, or starts
// empty. A missing file is not an error.
func NewHistory(path string, logger *logrus.Logger) (*History, error) {
	h := &History{
		path:   path,
		logger: logger,
		data:   make(map[string][]Report),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h, nil
		}
		return nil, fmt.Errorf("read quality history: %w", err)
	}

	if err := json.Unmarshal(raw, &h.data); err != nil {
		return nil, fmt.Errorf("unmarshal quality history: %w", err)
	}
	return h, nil
}

// Append adds report to source's history, truncating the oldest entries to
// keep length <= MaxHistoryPerSource, then persists. A persistence
// failure is logged, not returned to the caller: per §7, the analyzer
// still returns its report and the append is retried on the next cycle.
func (h *History) Append(report Report) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.data[report.Source], report)
	if len(list) > MaxHistoryPerSource {
		list = list[len(list)-MaxHistoryPerSource:]
	}
	h.data[report.Source] = list

	if err := h.persistLocked(); err != nil && h.logger != nil {
		h.logger.WithError(err).WithField("source", report.Source).Warn("failed to persist quality history")
	}
}

// persistLocked writes the full history map atomically. Caller must hold
// h.mu.
func (h *History) persistLocked() error {
	data, err := json.MarshalIndent(h.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal quality history: %w", err)
	}

	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp quality history: %w", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename quality history: %w", err)
	}
	return nil
}

// Scores returns the overall-score history for source, oldest first.
func (h *History) Scores(source string) []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	reports := h.data[source]
	scores := make([]float64, len(reports))
	for i, r := range reports {
		scores[i] = r.Metrics.Overall
	}
	return scores
}

// ClassifyTrend fits an OLS regression over the last up-to-10 historical
// overall scores plus the incoming currentScore, classifying the slope
// per §4.3. Fewer than minTrendPoints total points yields
// TrendInsufficientData.
func (h *History) ClassifyTrend(source string, currentScore float64) Trend {
	history := h.Scores(source)
	points := append(append([]float64{}, history...), currentScore)
	if len(points) > trendWindow {
		points = points[len(points)-trendWindow:]
	}
	if len(points) < minTrendPoints {
		return TrendInsufficientData
	}

	slope := olsSlope(points)
	switch {
	case slope > 0.01:
		return TrendImproving
	case slope < -0.01:
		return TrendDegrading
	default:
		return TrendStable
	}
}

// olsSlope fits y = a + b*x by ordinary least squares over evenly spaced
// x = 0..n-1 and returns b.
func olsSlope(y []float64) float64 {
	n := float64(len(y))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	denominator := n*sumXX - sumX*sumX
	if denominator == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denominator
}
