package dedup

import (
	"io"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatfeed/pkg/record"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func float(v float64) *float64 { return &v }

func TestRun_ExactDedupWinsByAuthority(t *testing.T) {
	community := record.New("community")
	community.CVEID = "CVE-2024-1"
	cisaKev := record.New("cisa_kev")
	cisaKev.CVEID = "CVE-2024-1"
	nvd := record.New("nvd")
	nvd.CVEID = "CVE-2024-1"

	d := New(testLogger())
	result := d.Run([]*record.Record{community, cisaKev, nvd}, DefaultStrategy())

	require.Len(t, result.Unique, 1)
	assert.Equal(t, "cisa_kev", result.Unique[0].Source)
	assert.ElementsMatch(t, []string{"cisa_kev", "nvd", "community"}, result.Unique[0].Sources)
}

func TestRun_MergeFieldsFalse_DiscardsDuplicateUntouched(t *testing.T) {
	nvd := record.New("nvd")
	nvd.CVEID = "X"
	nvd.CVSSv3Score = float(7.5)

	community := record.New("community")
	community.CVEID = "X"
	community.Tags = []string{"extra-tag"}
	community.EPSSScore = float(0.9)

	strategy := Strategy{MergeFields: false, KeepHighestAuthority: true, PreserveAllSources: true}
	d := New(testLogger())
	result := d.Run([]*record.Record{nvd, community}, strategy)

	require.Len(t, result.Unique, 1)
	require.Len(t, result.Duplicates, 1)
	assert.Empty(t, result.Merged, "no merge happened, so nothing is reported as merged")

	winner := result.Unique[0]
	assert.Equal(t, "nvd", winner.Source)
	assert.Nil(t, winner.Dedup, "a discarded duplicate must not leave an audit block on the winner")
	assert.Nil(t, winner.EPSSScore, "the loser's fields must not be folded in")
	assert.Empty(t, winner.Tags, "the loser's tags must not be folded in")
	assert.Empty(t, winner.Sources, "preserve_all_sources has no effect when merge_fields is false")
}

func TestRun_FieldMerge(t *testing.T) {
	nvd := record.New("nvd")
	nvd.CVEID = "X"
	nvd.CVSSv3Score = float(7.5)

	epss := record.New("epss")
	epss.CVEID = "X"
	epss.EPSSScore = float(0.85)

	strategy := Strategy{MergeFields: true, PreserveAllSources: true}
	d := New(testLogger())
	result := d.Run([]*record.Record{nvd, epss}, strategy)

	require.Len(t, result.Unique, 1)
	merged := result.Unique[0]
	require.NotNil(t, merged.CVSSv3Score)
	require.NotNil(t, merged.EPSSScore)
	assert.Equal(t, 7.5, *merged.CVSSv3Score)
	assert.Equal(t, 0.85, *merged.EPSSScore)
	assert.ElementsMatch(t, []string{"nvd", "epss"}, merged.Sources)
}

func TestRun_ListUnion(t *testing.T) {
	primary := record.New("nvd")
	primary.CVEID = "X"
	primary.Tags = []string{"a", "b"}
	primary.References = []string{"r1", "r2"}

	secondary := record.New("community")
	secondary.CVEID = "X"
	secondary.Tags = []string{"b", "c"}
	secondary.References = []string{"r2", "r3"}

	strategy := Strategy{MergeFields: true}
	d := New(testLogger())
	result := d.Run([]*record.Record{primary, secondary}, strategy)

	require.Len(t, result.Unique, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, result.Unique[0].Tags)
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, result.Unique[0].References)
}

func TestRun_CrossCycleDedup(t *testing.T) {
	d := New(testLogger())

	cycleA := make([]*record.Record, 0, 10)
	for i := 1; i <= 10; i++ {
		r := record.New("otx")
		r.CVEID = cveID(i)
		cycleA = append(cycleA, r)
	}
	resultA := d.Run(cycleA, DefaultStrategy())
	require.Len(t, resultA.Unique, 10)

	cycleB := make([]*record.Record, 0, 11)
	for i := 5; i <= 15; i++ {
		r := record.New("otx")
		r.CVEID = cveID(i)
		cycleB = append(cycleB, r)
	}
	resultB := d.Run(cycleB, DefaultStrategy())

	assert.Equal(t, 6, resultB.Stats.DuplicatesRemoved, "CVEs 5-10 re-seen")
	assert.Equal(t, 5, len(resultB.Unique), "CVEs 11-15 are new")
}

func TestRun_EmptyInput(t *testing.T) {
	d := New(testLogger())
	result := d.Run(nil, DefaultStrategy())
	assert.Empty(t, result.Unique)
	assert.Empty(t, result.Duplicates)
	assert.Equal(t, 0.0, result.Stats.ReductionRatio)
}

func TestRun_UniqueOutputHasUniqueFingerprints(t *testing.T) {
	d := New(testLogger())
	input := []*record.Record{}
	for i := 0; i < 20; i++ {
		r := record.New("nvd")
		r.CVEID = cveID(i)
		input = append(input, r)
	}
	result := d.Run(input, DefaultStrategy())

	seen := make(map[string]struct{})
	for _, r := range result.Unique {
		fp := record.Fingerprint(r)
		_, dup := seen[fp]
		assert.False(t, dup, "fingerprint must be unique within unique set")
		seen[fp] = struct{}{}
	}
}

func TestRun_CountInvariant(t *testing.T) {
	d := New(testLogger())
	nvd1 := record.New("nvd")
	nvd1.CVEID = "X"
	nvd2 := record.New("community")
	nvd2.CVEID = "X"
	nvd3 := record.New("otx")
	nvd3.CVEID = "Y"

	input := []*record.Record{nvd1, nvd2, nvd3}
	result := d.Run(input, DefaultStrategy())

	assert.Equal(t, len(input), len(result.Unique)+len(result.Duplicates))
}

func TestTokenSortSimilarity_OrderInsensitive(t *testing.T) {
	a := "remote code execution in widget parser"
	b := "widget parser remote code execution in"
	assert.Equal(t, 1.0, tokenSortSimilarity(a, b))
}

func cveID(i int) string {
	return "CVE-2024-" + strconv.Itoa(i)
}
