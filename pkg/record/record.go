// Package record defines the canonical ingestion record shape: a small set
// of strongly-typed well-known fields plus an overflow map for arbitrary
// source-specific attributes, per the dynamic-heterogeneous-records design
// note. Fingerprinting and the dedup merge rules name only the well-known
// fields enumerated here; anything else rides in the overflow map, which
// merging fills in where absent and quality scoring reads generically.
package record

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DeduplicationAudit records that a Record is the result of a merge.
type DeduplicationAudit struct {
	Merged          bool      `json:"merged"`
	MergeTime       time.Time `json:"merge_time"`
	PrimarySource   string    `json:"primary_source"`
	SecondarySource string    `json:"secondary_source"`
}

// Record is the unit of ingestion. Source is mandatory; every other field
// is optional and absence is meaningful (it drives fingerprint fallback,
// completeness scoring, and merge-fill behavior).
type Record struct {
	Source string `json:"source"`

	// Primary identifiers, tried in this order for fingerprinting.
	CVEID     string `json:"cve_id,omitempty"`
	Indicator string `json:"indicator,omitempty"`
	PulseID   string `json:"pulse_id,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	MD5       string `json:"md5,omitempty"`

	// Secondary-fingerprint candidates.
	Description string `json:"description,omitempty"`
	Title       string `json:"title,omitempty"`
	Name        string `json:"name,omitempty"`

	// Recognized list attributes (union-merged, duplicates removed).
	References       []string `json:"references,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	CWEIDs           []string `json:"cwe_ids,omitempty"`
	AttackTechniques []string `json:"attack_techniques,omitempty"`

	// Recognized numeric scores (max-merged or kept, per strategy).
	CVSSv3Score *float64 `json:"cvss_v3_score,omitempty"`
	CVSSv2Score *float64 `json:"cvss_v2_score,omitempty"`
	EPSSScore   *float64 `json:"epss_score,omitempty"`

	// Freshness candidates; the newest one set is used.
	Published    *time.Time `json:"published,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	Modified     *time.Time `json:"modified,omitempty"`
	Updated      *time.Time `json:"updated,omitempty"`
	Created      *time.Time `json:"created,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`

	// Populated only on merged records when preserve_all_sources is set.
	Sources []string `json:"sources,omitempty"`

	// Populated only on merged records.
	Dedup *DeduplicationAudit `json:"deduplication,omitempty"`

	mu    sync.RWMutex
	attrs map[string]interface{}
}

// New constructs a Record for the given source with an empty overflow map.
func New(source string) *Record {
	return &Record{Source: source, attrs: make(map[string]interface{})}
}

// SetAttr stores an arbitrary, non-well-known attribute (e.g. "id", "type",
// "hash", "first_seen") safely for concurrent access.
func (r *Record) SetAttr(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attrs == nil {
		r.attrs = make(map[string]interface{})
	}
	r.attrs[key] = value
}

// GetAttr retrieves an overflow attribute.
func (r *Record) GetAttr(key string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.attrs[key]
	return v, ok
}

// CopyAttrs returns a snapshot of the overflow map.
func (r *Record) CopyAttrs() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]interface{}, len(r.attrs))
	for k, v := range r.attrs {
		out[k] = v
	}
	return out
}

// DeepCopy returns an independent copy safe for concurrent mutation,
// mirroring the teacher's LogEntry.DeepCopy pattern.
func (r *Record) DeepCopy() *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := *r
	cp.mu = sync.RWMutex{}

	cp.References = cloneStrings(r.References)
	cp.Tags = cloneStrings(r.Tags)
	cp.CWEIDs = cloneStrings(r.CWEIDs)
	cp.AttackTechniques = cloneStrings(r.AttackTechniques)
	cp.Sources = cloneStrings(r.Sources)

	if r.CVSSv3Score != nil {
		v := *r.CVSSv3Score
		cp.CVSSv3Score = &v
	}
	if r.CVSSv2Score != nil {
		v := *r.CVSSv2Score
		cp.CVSSv2Score = &v
	}
	if r.EPSSScore != nil {
		v := *r.EPSSScore
		cp.EPSSScore = &v
	}
	if r.Dedup != nil {
		d := *r.Dedup
		cp.Dedup = &d
	}

	cp.attrs = make(map[string]interface{}, len(r.attrs))
	for k, v := range r.attrs {
		cp.attrs[k] = v
	}

	return &cp
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// UnionStrings merges two string lists, removing duplicates. Order of
// first appearance is preserved but not guaranteed meaningful: the merge
// rules only require duplicates within the list be removed.
func UnionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// FreshnessTimestamp returns the newest of the candidate timestamps
// (Published, LastModified, Modified, Updated, Created, Timestamp) that
// are set, and whether one was found.
func (r *Record) FreshnessTimestamp() (time.Time, bool) {
	candidates := []*time.Time{r.Published, r.LastModified, r.Modified, r.Updated, r.Created, r.Timestamp}
	var newest time.Time
	found := false
	for _, c := range candidates {
		if c != nil && (!found || c.After(newest)) {
			newest = *c
			found = true
		}
	}
	return newest, found
}

// HasField reports whether a canonical field name is present and
// non-empty, checking well-known typed fields first and falling back to
// the overflow map. "cvss_score" is treated as present if either CVSS
// variant is set, matching the quality analyzer's generic requirement.
func (r *Record) HasField(name string) bool {
	switch name {
	case "source":
		return r.Source != ""
	case "cve_id":
		return r.CVEID != ""
	case "indicator":
		return r.Indicator != ""
	case "pulse_id":
		return r.PulseID != ""
	case "sha256":
		return r.SHA256 != ""
	case "md5":
		return r.MD5 != ""
	case "hash":
		return r.SHA256 != "" || r.MD5 != ""
	case "description":
		return r.Description != ""
	case "title":
		return r.Title != ""
	case "name":
		return r.Name != ""
	case "references":
		return len(r.References) > 0
	case "tags":
		return len(r.Tags) > 0
	case "cwe_ids":
		return len(r.CWEIDs) > 0
	case "attack_techniques":
		return len(r.AttackTechniques) > 0
	case "cvss_score":
		return r.CVSSv3Score != nil || r.CVSSv2Score != nil
	case "cvss_v3_score":
		return r.CVSSv3Score != nil
	case "cvss_v2_score":
		return r.CVSSv2Score != nil
	case "epss_score":
		return r.EPSSScore != nil
	case "published":
		return r.Published != nil
	case "last_modified":
		return r.LastModified != nil
	case "modified":
		return r.Modified != nil
	case "updated":
		return r.Updated != nil
	case "created":
		return r.Created != nil
	case "timestamp":
		_, ok := r.FreshnessTimestamp()
		return ok
	default:
		v, ok := r.GetAttr(name)
		if !ok || v == nil {
			return false
		}
		if s, isStr := v.(string); isStr {
			return s != ""
		}
		return true
	}
}

// Attributes returns a snapshot of every attribute the record carries,
// well-known and overflow alike, keyed by canonical name. Used by the
// quality analyzer's consistency dimension, which scans "every attribute
// appearing anywhere".
func (r *Record) Attributes() map[string]interface{} {
	out := r.CopyAttrs()
	add := func(name string, present bool, value interface{}) {
		if present {
			out[name] = value
		}
	}
	add("cve_id", r.CVEID != "", r.CVEID)
	add("indicator", r.Indicator != "", r.Indicator)
	add("pulse_id", r.PulseID != "", r.PulseID)
	add("sha256", r.SHA256 != "", r.SHA256)
	add("md5", r.MD5 != "", r.MD5)
	add("description", r.Description != "", r.Description)
	add("title", r.Title != "", r.Title)
	add("name", r.Name != "", r.Name)
	add("references", len(r.References) > 0, r.References)
	add("tags", len(r.Tags) > 0, r.Tags)
	add("cwe_ids", len(r.CWEIDs) > 0, r.CWEIDs)
	add("attack_techniques", len(r.AttackTechniques) > 0, r.AttackTechniques)
	add("cvss_v3_score", r.CVSSv3Score != nil, r.CVSSv3Score)
	add("cvss_v2_score", r.CVSSv2Score != nil, r.CVSSv2Score)
	add("epss_score", r.EPSSScore != nil, r.EPSSScore)
	add("published", r.Published != nil, r.Published)
	add("last_modified", r.LastModified != nil, r.LastModified)
	add("modified", r.Modified != nil, r.Modified)
	add("updated", r.Updated != nil, r.Updated)
	add("created", r.Created != nil, r.Created)
	add("timestamp", r.Timestamp != nil, r.Timestamp)
	return out
}

// ContainsTestMarker reports whether the description carries one of the
// tokens the quality analyzer's accuracy dimension treats as a test-data
// indicator ("test", "example", "demo", "sample").
func (r *Record) ContainsTestMarker() bool {
	desc := strings.ToLower(r.Description)
	for _, marker := range []string{"test", "example", "demo", "sample"} {
		if strings.Contains(desc, marker) {
			return true
		}
	}
	return false
}

// MissingAllIdentifiers reports whether id, cve_id, and indicator are all
// absent — the accuracy dimension's second penalty condition.
func (r *Record) MissingAllIdentifiers() bool {
	if r.HasField("id") || r.CVEID != "" || r.Indicator != "" {
		return false
	}
	return true
}

// SortedKeys is a small helper the consistency dimension uses to iterate
// attribute names deterministically.
func SortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
