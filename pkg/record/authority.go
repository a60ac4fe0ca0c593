package record

import (
	"strings"
	"sync"
)

// authorityTable is the compiled-in source → priority mapping from §3,
// used whenever the source descriptor file (internal/config) carries no
// override for a given source. Baseline weights and scoring formulas
// never change at runtime; only the per-source override set below does,
// via the descriptor hot-reload path.
var authorityTable = map[string]int{
	"cisa_kev":     10,
	"nvd":          9,
	"mitre_attack": 9,
	"mitre_d3fend": 8,
	"epss":         8,
	"otx":          7,
	"abuse.ch":     6,
	"community":    5,
}

// DefaultAuthority is used for records whose source is absent or unknown.
const DefaultAuthority = 1

var (
	authorityMu        sync.RWMutex
	authorityOverrides map[string]int
)

// SetAuthorityOverrides replaces the live authority override set, applied
// by internal/config when the source descriptor file is (re)loaded. A nil
// or empty map clears all overrides, reverting to the compiled-in table.
func SetAuthorityOverrides(overrides map[string]int) {
	authorityMu.Lock()
	defer authorityMu.Unlock()
	if len(overrides) == 0 {
		authorityOverrides = nil
		return
	}
	next := make(map[string]int, len(overrides))
	for source, weight := range overrides {
		next[strings.ToLower(source)] = weight
	}
	authorityOverrides = next
}

// Authority looks up the record's source in the authority table,
// defaulting to DefaultAuthority.
func Authority(r *Record) int {
	return AuthorityOf(r.Source)
}

// AuthorityOf is the same lookup taking a raw source string, used by
// callers (e.g. the quality analyzer) that don't have a Record in hand.
// A live descriptor override takes precedence over the compiled-in table.
func AuthorityOf(source string) int {
	key := strings.ToLower(source)

	authorityMu.RLock()
	if a, ok := authorityOverrides[key]; ok {
		authorityMu.RUnlock()
		return a
	}
	authorityMu.RUnlock()

	if a, ok := authorityTable[key]; ok {
		return a
	}
	return DefaultAuthority
}

// HighAuthoritySources is the set the uniqueness dimension (§4.3) treats
// specially: their raw uniqueness ratio is used directly rather than
// boosted, since they're not expected to carry redundancy.
var HighAuthoritySources = map[string]struct{}{
	"nvd":      {},
	"cisa_kev": {},
}

// IsHighAuthoritySource reports membership in HighAuthoritySources.
func IsHighAuthoritySource(source string) bool {
	_, ok := HighAuthoritySources[strings.ToLower(source)]
	return ok
}

// AccuracyPriors is the per-source accuracy prior table (§4.3).
var AccuracyPriors = map[string]float64{
	"nvd":          0.98,
	"cisa_kev":     0.99,
	"mitre_attack": 0.95,
	"epss":         0.90,
	"otx":          0.85,
	"abuse.ch":     0.88,
}

// DefaultAccuracyPrior applies to sources absent from AccuracyPriors.
const DefaultAccuracyPrior = 0.80

// AccuracyPriorOf looks up the per-source accuracy prior, defaulting to
// DefaultAccuracyPrior.
func AccuracyPriorOf(source string) float64 {
	if p, ok := AccuracyPriors[strings.ToLower(source)]; ok {
		return p
	}
	return DefaultAccuracyPrior
}
