package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_SameSourceSamePrimaryID(t *testing.T) {
	a := New("nvd")
	a.CVEID = "CVE-2024-1"
	b := New("nvd")
	b.CVEID = "CVE-2024-1"

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_SamePrimaryIDDifferentSource(t *testing.T) {
	a := New("nvd")
	a.CVEID = "CVE-2024-1"
	b := New("cisa_kev")
	b.CVEID = "CVE-2024-1"

	assert.Equal(t, Fingerprint(a), Fingerprint(b), "fingerprint must merge across sources")
}

func TestFingerprint_ConcatenatesAllPresentIdentifiers(t *testing.T) {
	withCVE := New("nvd")
	withCVE.CVEID = "CVE-2024-1"
	withCVE.Indicator = "1.2.3.4"

	cveOnly := New("nvd")
	cveOnly.CVEID = "CVE-2024-1"

	assert.NotEqual(t, Fingerprint(cveOnly), Fingerprint(withCVE), "a record carrying both a cve_id and an indicator must not collide with a cve_id-only record")

	sameBoth := New("cisa_kev")
	sameBoth.CVEID = "CVE-2024-1"
	sameBoth.Indicator = "1.2.3.4"

	assert.Equal(t, Fingerprint(withCVE), Fingerprint(sameBoth), "records sharing every primary identifier fingerprint identically regardless of source")
}

func TestFingerprint_DescriptionFallback(t *testing.T) {
	a := New("community")
	a.Description = "A widely exploited remote code execution vulnerability in some library."
	b := New("community")
	b.Description = "A WIDELY EXPLOITED REMOTE CODE EXECUTION VULNERABILITY IN SOME LIBRARY."

	assert.Equal(t, Fingerprint(a), Fingerprint(b), "description fallback is case-insensitive")
}

func TestFingerprint_FullRecordFallback(t *testing.T) {
	a := New("community")
	a.SetAttr("id", "abc")
	b := New("community")
	b.SetAttr("id", "xyz")

	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_PureAcrossDeepCopy(t *testing.T) {
	r := New("nvd")
	r.CVEID = "CVE-2024-1"
	r.Tags = []string{"rce", "critical"}
	now := time.Now()
	r.Published = &now

	assert.Equal(t, Fingerprint(r), Fingerprint(r.DeepCopy()))
}

func TestAuthority_DefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, AuthorityOf("totally-unknown-source"))
	assert.Equal(t, 10, AuthorityOf("CISA_KEV"), "lookup is case-insensitive")
}
