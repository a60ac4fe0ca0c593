package dedup

import (
	"time"

	"threatfeed/pkg/record"
)

// mergeInto applies the merge rules (§4.2) with winner W absorbing loser L
// in place. W is mutated directly since it is the record retained in the
// exact index going forward. Only called when strategy.MergeFields is set
// (see recordMerge) — when it isn't, a duplicate is discarded untouched
// and never reaches here.
func mergeInto(winner, loser *record.Record, strategy Strategy) {
	mergeFields(winner, loser, strategy)

	if strategy.PreserveAllSources {
		sources := winner.Sources
		if len(sources) == 0 {
			sources = []string{winner.Source}
		}
		winner.Sources = record.UnionStrings(sources, []string{loser.Source})
	}

	winner.Dedup = &record.DeduplicationAudit{
		Merged:          true,
		MergeTime:       time.Now(),
		PrimarySource:   winner.Source,
		SecondarySource: loser.Source,
	}
}

// mergeFields folds complementary attributes from the loser into the
// winner: list attributes union, score attributes max-or-keep per
// strategy, and any attribute present in the loser but absent in the
// winner is copied over.
func mergeFields(winner, loser *record.Record, strategy Strategy) {
	winner.References = record.UnionStrings(winner.References, loser.References)
	winner.Tags = record.UnionStrings(winner.Tags, loser.Tags)
	winner.CWEIDs = record.UnionStrings(winner.CWEIDs, loser.CWEIDs)
	winner.AttackTechniques = record.UnionStrings(winner.AttackTechniques, loser.AttackTechniques)

	winner.CVSSv3Score = mergeScore(winner.CVSSv3Score, loser.CVSSv3Score, strategy.AggregateScores)
	winner.CVSSv2Score = mergeScore(winner.CVSSv2Score, loser.CVSSv2Score, strategy.AggregateScores)
	winner.EPSSScore = mergeScore(winner.EPSSScore, loser.EPSSScore, strategy.AggregateScores)

	if winner.CVEID == "" {
		winner.CVEID = loser.CVEID
	}
	if winner.Indicator == "" {
		winner.Indicator = loser.Indicator
	}
	if winner.PulseID == "" {
		winner.PulseID = loser.PulseID
	}
	if winner.SHA256 == "" {
		winner.SHA256 = loser.SHA256
	}
	if winner.MD5 == "" {
		winner.MD5 = loser.MD5
	}
	if winner.Description == "" {
		winner.Description = loser.Description
	}
	if winner.Title == "" {
		winner.Title = loser.Title
	}
	if winner.Name == "" {
		winner.Name = loser.Name
	}
	if winner.Published == nil {
		winner.Published = loser.Published
	}
	if winner.LastModified == nil {
		winner.LastModified = loser.LastModified
	}
	if winner.Modified == nil {
		winner.Modified = loser.Modified
	}
	if winner.Updated == nil {
		winner.Updated = loser.Updated
	}
	if winner.Created == nil {
		winner.Created = loser.Created
	}
	if winner.Timestamp == nil {
		winner.Timestamp = loser.Timestamp
	}

	for k, v := range loser.CopyAttrs() {
		if _, ok := winner.GetAttr(k); !ok {
			winner.SetAttr(k, v)
		}
	}
}

// mergeScore implements the §4.2 score-merge rule: max(W, L) when
// aggregate is set, otherwise W's own value is kept (L never overwrites a
// present W value when aggregation is off — only absence is filled, and
// score fields are handled here rather than the generic "copy if absent"
// path since they need the max option).
func mergeScore(winner, loser *float64, aggregate bool) *float64 {
	if loser == nil {
		return winner
	}
	if winner == nil {
		v := *loser
		return &v
	}
	if aggregate && *loser > *winner {
		v := *loser
		return &v
	}
	return winner
}
