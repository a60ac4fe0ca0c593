package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint computes the deterministic identity digest for a record.
//
// Every primary identifier the record carries (cve_id, indicator,
// pulse_id, sha256/md5) contributes a "kind:value" segment, joined with
// '|' in §3's priority order — a record is not limited to its single
// highest-priority identifier, since a record can legitimately carry
// more than one (e.g. a CVE entry that also lists an affected IoC) and
// all of them must agree for two records to collide on identity. If no
// primary identifier is present, two secondary fingerprints are tried —
// a hash of the lowercased first 200 characters of description, then the
// lowercased title/name — before falling back to a hash of the
// canonicalized full record.
//
// Every path ends in a SHA-256 digest: fingerprints are compared across
// processes and machines and must not collide adversarially. The
// description path first reduces the text to a 64-bit xxhash, and that
// value is what gets digested.
func Fingerprint(r *Record) string {
	if parts := primaryIdentifierParts(r); len(parts) > 0 {
		return digest(strings.Join(parts, "|"))
	}

	if r.Description != "" {
		trimmed := []rune(strings.ToLower(r.Description))
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		return digest(fmt.Sprintf("desc:%d", xxhash.Sum64String(string(trimmed))))
	}

	if name := strings.ToLower(firstNonEmpty(r.Title, r.Name)); name != "" {
		return digest("name:" + name)
	}

	return digest("full:" + canonicalize(r))
}

// primaryIdentifierParts returns every populated primary-identifier
// segment, in §3's priority order. sha256/md5 contribute a single "hash:"
// segment, preferring sha256 when both are present.
func primaryIdentifierParts(r *Record) []string {
	var parts []string
	if r.CVEID != "" {
		parts = append(parts, "cve:"+r.CVEID)
	}
	if r.Indicator != "" {
		parts = append(parts, "ioc:"+r.Indicator)
	}
	if r.PulseID != "" {
		parts = append(parts, "pulse:"+r.PulseID)
	}
	if hash := firstNonEmpty(r.SHA256, r.MD5); hash != "" {
		parts = append(parts, "hash:"+hash)
	}
	return parts
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// canonicalize produces a deterministic string form of every attribute the
// record carries, used only as the last-resort fingerprint input.
func canonicalize(r *Record) string {
	attrs := r.Attributes()
	keys := SortedKeys(attrs)
	var b strings.Builder
	b.WriteString(strings.ToLower(r.Source))
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, attrs[k])
	}
	return b.String()
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
