// Package adapter defines the contract the orchestrator requires of every
// source adapter (§6) and supplies two reference implementations: an
// HTTP+JSON polling adapter in the NVD style, and a static adapter usable
// both for tests and as a template for feeds (CISA KEV, OTX, abuse.ch)
// that hand back a bounded list rather than paging through history.
package adapter

import (
	"context"
	"time"

	"threatfeed/pkg/record"
	"threatfeed/pkg/syncstate"
)

// SourceAdapter is implemented by every external producer the orchestrator
// fans out to. FetchIncremental is called once per cycle; it is
// responsible for using state.LastSync to request only changed data and
// returns the records it found plus the watermark the orchestrator should
// persist once the cycle's sinks have committed. A nil watermark means
// "leave the existing watermark alone" (used by permanent-error recovery
// paths that still want to report records already in hand).
type SourceAdapter interface {
	// Name identifies the source tag records are stamped with, and is
	// used for authority lookup, circuit isolation, and sync-state
	// filenames.
	Name() string

	// FetchIncremental returns records observed since state.LastSync
	// (nil means "fetch the last 30 days" per §4.4) and the instant the
	// returned window ends. A returned error is always treated as
	// transient or permanent per §7 — the orchestrator counts and logs
	// it but never aborts other sources' fetches.
	FetchIncremental(ctx context.Context, state syncstate.State) ([]*record.Record, *time.Time, error)
}
