package adapter

import (
	"context"
	"time"

	"threatfeed/pkg/record"
	"threatfeed/pkg/syncstate"
)

// StaticAdapter serves a fixed, in-memory list of records regardless of
// sync state: a template for feeds that publish one bounded list rather
// than an incrementally queryable stream (CISA KEV, OTX pulses, abuse.ch
// blocklists all ship this way), and the adapter used by orchestrator
// tests in place of a live HTTP source.
type StaticAdapter struct {
	source  string
	records []*record.Record
	err     error
}

// NewStaticAdapter constructs a StaticAdapter that always returns records.
func NewStaticAdapter(source string, records []*record.Record) *StaticAdapter {
	return &StaticAdapter{source: source, records: records}
}

// NewFailingAdapter constructs a StaticAdapter whose every fetch fails,
// for exercising the orchestrator's per-source failure isolation.
func NewFailingAdapter(source string, err error) *StaticAdapter {
	return &StaticAdapter{source: source, err: err}
}

// Name returns the source tag.
func (a *StaticAdapter) Name() string { return a.source }

// FetchIncremental implements SourceAdapter. The watermark always
// advances to the call time: a static list has no window to track, so
// each cycle simply reports the time of its own fetch.
func (a *StaticAdapter) FetchIncremental(ctx context.Context, state syncstate.State) ([]*record.Record, *time.Time, error) {
	if a.err != nil {
		return nil, nil, a.err
	}
	now := time.Now()
	out := make([]*record.Record, len(a.records))
	for i, r := range a.records {
		out[i] = r.DeepCopy()
	}
	return out, &now, nil
}
