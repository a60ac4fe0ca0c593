// Package dedup implements the two-stage (exact + fuzzy) duplicate
// detection and merge engine, generalized from the teacher's LRU/TTL
// deduplication cache (pkg/deduplication) into the fingerprint-based
// exact-index/approx-index/merge-log design the pipeline requires.
//
// The fuzzy path runs only when the bloom filter reports an incoming
// fingerprint as possibly present, so near-duplicate detection for records
// fingerprinted by description alone is best-effort: a near-duplicate
// whose fingerprint the filter has not seen is kept as unique.
package dedup

import (
	"sort"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sirupsen/logrus"

	"threatfeed/pkg/record"
)

// approxFilterCapacity and approxFilterFPRate size the bloom filter per
// §3: false-positive rate ≤ 0.1% at design capacity ≥ 10^6.
const (
	approxFilterCapacity = 1_000_000
	approxFilterFPRate   = 0.001
)

// DefaultSimilarityThreshold is the token-sort similarity cutoff for the
// fuzzy-match path (§4.2).
const DefaultSimilarityThreshold = 0.85

// Strategy is the merge-strategy configuration structure from §4.2.
type Strategy struct {
	MergeFields          bool    `yaml:"merge_fields"`
	KeepHighestAuthority bool    `yaml:"keep_highest_authority"`
	AggregateScores      bool    `yaml:"aggregate_scores"`
	PreserveAllSources    bool    `yaml:"preserve_all_sources"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold"`
}

// DefaultStrategy mirrors the spec's "defaults" strategy used in scenario 1.
func DefaultStrategy() Strategy {
	return Strategy{
		MergeFields:          true,
		KeepHighestAuthority: true,
		AggregateScores:      true,
		PreserveAllSources:    true,
		SimilarityThreshold:  DefaultSimilarityThreshold,
	}
}

func (s Strategy) threshold() float64 {
	if s.SimilarityThreshold <= 0 {
		return DefaultSimilarityThreshold
	}
	return s.SimilarityThreshold
}

// MergePair records one (winner, loser) fingerprint pairing in the order
// merges happened.
type MergePair struct {
	Winner string
	Loser  string
}

// Stats is the per-run statistics block (§4.2).
type Stats struct {
	TotalInput        int     `json:"total_input"`
	UniqueOutput      int     `json:"unique_output"`
	DuplicatesRemoved int     `json:"duplicates_removed"`
	ItemsMerged       int     `json:"items_merged"`
	ReductionRatio    float64 `json:"reduction_ratio"`
	ApproxIndexSize   uint    `json:"approx_index_size"`
	ExactHashesStored int     `json:"exact_hashes_stored"`
}

// Result is the outcome of a Deduplicator.Run call.
type Result struct {
	Unique     []*record.Record
	Duplicates []*record.Record
	Merged     []*record.Record
	Stats      Stats
}

// Deduplicator holds the exact_index/approx_index/merge_log state described
// in §3. A single instance is shared for the lifetime of the process (per
// §4.5) so cross-cycle duplicates from the same source are detected;
// callers that need a fresh per-run instance call New again.
type Deduplicator struct {
	logger *logrus.Logger

	mu          sync.Mutex
	exactIndex  map[string]*record.Record
	approxIndex *bloom.BloomFilter
	mergeLog    []MergePair

	totalChecked int64
}

// New constructs a Deduplicator with a fresh exact index and a bloom
// filter sized to the design capacity in §3.
func New(logger *logrus.Logger) *Deduplicator {
	return &Deduplicator{
		logger:      logger,
		exactIndex:  make(map[string]*record.Record),
		approxIndex: bloom.NewWithEstimates(approxFilterCapacity, approxFilterFPRate),
	}
}

// Reset clears all deduplicator state, as if freshly constructed.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exactIndex = make(map[string]*record.Record)
	d.approxIndex = bloom.NewWithEstimates(approxFilterCapacity, approxFilterFPRate)
	d.mergeLog = nil
	d.totalChecked = 0
}

// Run executes one deduplication pass over input, per the algorithm in
// §4.2. It never fails on malformed records: a record with no
// fingerprintable attribute falls back to a full-record hash and is
// treated as unique unless literally identical to something already seen.
func (d *Deduplicator) Run(input []*record.Record, strategy Strategy) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	ordered := input
	if strategy.KeepHighestAuthority {
		ordered = stableSortByAuthority(input)
	}

	result := Result{
		Unique:     make([]*record.Record, 0, len(ordered)),
		Duplicates: make([]*record.Record, 0),
		Merged:     make([]*record.Record, 0),
	}

	threshold := strategy.threshold()

	for _, incoming := range ordered {
		d.totalChecked++
		fp := record.Fingerprint(incoming)

		if winner, ok := d.exactIndex[fp]; ok {
			d.recordMerge(winner, incoming, fp, strategy, &result)
			continue
		}

		if d.approxIndex.TestString(fp) {
			if match := d.fuzzyMatch(incoming, result.Unique, threshold); match != nil {
				winnerFP := record.Fingerprint(match)
				d.recordMerge(match, incoming, winnerFP, strategy, &result)
				continue
			}
		}

		d.exactIndex[fp] = incoming
		d.approxIndex.AddString(fp)
		result.Unique = append(result.Unique, incoming)
	}

	result.Stats = d.computeStats(len(input), len(result.Unique), len(result.Duplicates), len(result.Merged))
	return result
}

// recordMerge records a duplicate hit. When strategy.MergeFields is set,
// the winner absorbs the loser's complementary fields (see merge rules)
// and is reported in result.Merged; when it is not set, per §4.2 step b
// the duplicate is discarded untouched — the winner is left exactly as
// it was, gets no audit block, and nothing is appended to result.Merged.
func (d *Deduplicator) recordMerge(winner, loser *record.Record, winnerFP string, strategy Strategy, result *Result) {
	if strategy.MergeFields {
		mergeInto(winner, loser, strategy)
		d.exactIndex[winnerFP] = winner
		result.Merged = append(result.Merged, winner)
	}
	d.mergeLog = append(d.mergeLog, MergePair{Winner: winnerFP, Loser: record.Fingerprint(loser)})
	result.Duplicates = append(result.Duplicates, loser)
}

// fuzzyMatch implements the approximate-hit branch of §4.2.c: a CVE-ID
// match against any retained record is treated as a near-dup; otherwise
// description token-sort similarity is compared against every retained
// record and the best match wins if it clears the threshold.
func (d *Deduplicator) fuzzyMatch(incoming *record.Record, unique []*record.Record, threshold float64) *record.Record {
	if incoming.CVEID != "" {
		for _, candidate := range unique {
			if candidate.CVEID == incoming.CVEID {
				return candidate
			}
		}
	}

	if incoming.Description == "" {
		return nil
	}

	var best *record.Record
	bestScore := 0.0
	for _, candidate := range unique {
		if candidate.Description == "" {
			continue
		}
		score := tokenSortSimilarity(incoming.Description, candidate.Description)
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	if best != nil && bestScore >= threshold {
		return best
	}
	return nil
}

func (d *Deduplicator) computeStats(totalInput, uniqueOutput, duplicatesRemoved, itemsMerged int) Stats {
	ratio := 0.0
	if totalInput > 0 {
		ratio = float64(totalInput-uniqueOutput) / float64(totalInput)
	}
	return Stats{
		TotalInput:        totalInput,
		UniqueOutput:      uniqueOutput,
		DuplicatesRemoved: duplicatesRemoved,
		ItemsMerged:       itemsMerged,
		ReductionRatio:    ratio,
		ApproxIndexSize:   uint(d.approxIndex.ApproximatedSize()),
		ExactHashesStored: len(d.exactIndex),
	}
}

// stableSortByAuthority returns a new slice ordered by descending
// authority, preserving input order for ties (§4.2 step 1, §8 invariant).
func stableSortByAuthority(input []*record.Record) []*record.Record {
	out := make([]*record.Record, len(input))
	copy(out, input)
	sort.SliceStable(out, func(i, j int) bool {
		return record.Authority(out[i]) > record.Authority(out[j])
	})
	return out
}
