// Package sinks persists cycle output to the local filesystem: one
// snapshot file and one quality-report file per successful source per
// cycle, both atomically written (write-to-temp, rename), matching the
// teacher's local_file_sink.go discipline. Optional gzip compression
// reuses the teacher's own approach to compressing a completed file
// (open source, gzip.NewWriter over a fresh destination, drop the
// uncompressed original) rather than introducing a new library.
package sinks

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"threatfeed/pkg/dedup"
	"threatfeed/pkg/quality"
	"threatfeed/pkg/record"
)

// Config configures where and how the file sinks write.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	Compress    bool   `yaml:"compress"`
	TimeFormat  string // exported for tests; defaults to "20060102_150405"
}

func (c Config) timeFormat() string {
	if c.TimeFormat != "" {
		return c.TimeFormat
	}
	return "20060102_150405"
}

// FileSinks writes the snapshot and quality-report artifacts §6 names.
type FileSinks struct {
	config Config
	logger *logrus.Logger
}

// New constructs FileSinks rooted at config.DataDir.
func New(config Config, logger *logrus.Logger) *FileSinks {
	return &FileSinks{config: config, logger: logger}
}

// snapshotMetadata is the envelope around a cycle's retained records.
type snapshotMetadata struct {
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	TotalItems    int             `json:"total_items"`
	QualityScore  float64         `json:"quality_score"`
	QualityMetric quality.Metrics `json:"quality_metrics"`
}

type snapshotDocument struct {
	Metadata snapshotMetadata `json:"metadata"`
	Items    []*record.Record `json:"items"`
}

// reportDocument is the quality-report sink's content: the report itself
// plus this cycle's deduplication statistics.
type reportDocument struct {
	quality.Report
	Deduplication dedup.Stats `json:"deduplication_stats"`
}

// WriteSnapshot writes <data_dir>/processed/<source>/<source>_<ts>.json.
func (s *FileSinks) WriteSnapshot(source string, items []*record.Record, report quality.Report, at time.Time) (string, error) {
	doc := snapshotDocument{
		Metadata: snapshotMetadata{
			Source:        source,
			Timestamp:     at,
			TotalItems:    len(items),
			QualityScore:  report.Metrics.Overall,
			QualityMetric: report.Metrics,
		},
		Items: items,
	}

	dir := filepath.Join(s.config.DataDir, "processed", source)
	name := fmt.Sprintf("%s_%s.json", source, at.Format(s.config.timeFormat()))
	return s.writeJSON(dir, name, doc)
}

// WriteReport writes <data_dir>/quality_reports/<source>_<ts>.json.
func (s *FileSinks) WriteReport(source string, report quality.Report, dedupStats dedup.Stats, at time.Time) (string, error) {
	doc := reportDocument{Report: report, Deduplication: dedupStats}

	dir := filepath.Join(s.config.DataDir, "quality_reports")
	name := fmt.Sprintf("%s_%s.json", source, at.Format(s.config.timeFormat()))
	return s.writeJSON(dir, name, doc)
}

func (s *FileSinks) writeJSON(dir, name string, doc interface{}) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating sink directory %q: %w", dir, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling sink document: %w", err)
	}

	target := filepath.Join(dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("writing temp sink file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming sink file %q: %w", target, err)
	}

	if s.config.Compress {
		compressed, err := compressFile(target)
		if err != nil {
			s.logger.WithError(err).WithField("file", target).Warn("failed to compress sink file")
			return target, nil
		}
		return compressed, nil
	}

	return target, nil
}

// compressFile gzips src in place, dropping the uncompressed original,
// mirroring the teacher's compressFile.
func compressFile(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening source file: %w", err)
	}
	defer in.Close()

	dstPath := src + ".gz"
	out, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("creating compressed file: %w", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return "", fmt.Errorf("compressing file: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("closing gzip writer: %w", err)
	}

	if err := os.Remove(src); err != nil {
		return dstPath, fmt.Errorf("removing uncompressed original: %w", err)
	}
	return dstPath, nil
}
