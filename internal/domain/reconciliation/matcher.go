package reconciliation

import (
	"math"
	"time"
)

const (
	// amountTolerance is the maximum absolute amount difference for a match.
	amountTolerance = 0.01
	// dateWindow is the maximum distance between record dates for a match
	// on amount+date.
	dateWindow = 24 * time.Hour
	// crossReferenceKey is the metadata key carrying an explicit reference
	// to the counterpart record.
	crossReferenceKey = "cross_reference_id"

	SideSource = "source"
	SideTarget = "target"
)

type Match struct {
	SourceId      string
	TargetId      string
	Amount        float64
	Currency      string
	Confidence    float64
	MatchedFields []string
}

type Unmatched struct {
	RecordId string
	Side     string
	Amount   float64
	Currency string
	Reason   string
}

type MatchSummary struct {
	MatchedCount         int
	UnmatchedSourceCount int
	UnmatchedTargetCount int
	DurationMs           int64
	AccuracyPercentage   float64
}

// MatchRecords runs the greedy matching pass: for each source record, the
// first target within the amount tolerance that is also within the date
// window or explicitly cross-referenced wins. The result is order-dependent,
// not a global optimal assignment.
//
// onMatched/onUnmatched fire at the moment each outcome is determined; that
// callback stream is the audit trail, not the returned summary. Unmatched
// sources are reported during the source pass, remaining targets afterwards.
func MatchRecords(
	sources []Record,
	targets []Record,
	onMatched func(Match),
	onUnmatched func(Unmatched),
) MatchSummary {
	start := time.Now()

	matchedTargets := make(map[string]struct{}, len(targets))
	matchedCount := 0
	unmatchedSources := 0

	for _, source := range sources {
		matched := false
		for _, target := range targets {
			if _, taken := matchedTargets[target.ID]; taken {
				continue
			}
			if math.Abs(source.Amount-target.Amount) >= amountTolerance {
				continue
			}
			crossRef := crossReferenced(source, target)
			if !crossRef && !withinDateWindow(source.Date, target.Date) {
				continue
			}
			matchedTargets[target.ID] = struct{}{}
			matchedCount++
			matched = true
			onMatched(buildMatch(source, target, crossRef))
			break
		}
		if !matched {
			unmatchedSources++
			onUnmatched(Unmatched{
				RecordId: source.ID,
				Side:     SideSource,
				Amount:   source.Amount,
				Currency: source.Currency,
				Reason:   "no target record within amount tolerance and date window",
			})
		}
	}

	unmatchedTargets := 0
	for _, target := range targets {
		if _, taken := matchedTargets[target.ID]; taken {
			continue
		}
		unmatchedTargets++
		onUnmatched(Unmatched{
			RecordId: target.ID,
			Side:     SideTarget,
			Amount:   target.Amount,
			Currency: target.Currency,
			Reason:   "no source record matched",
		})
	}

	return MatchSummary{
		MatchedCount:         matchedCount,
		UnmatchedSourceCount: unmatchedSources,
		UnmatchedTargetCount: unmatchedTargets,
		DurationMs:           time.Since(start).Milliseconds(),
		AccuracyPercentage:   accuracyPercentage(matchedCount, len(sources), len(targets)),
	}
}

func buildMatch(source Record, target Record, crossRef bool) Match {
	match := Match{
		SourceId: source.ID,
		TargetId: target.ID,
		Amount:   source.Amount,
		Currency: source.Currency,
	}
	if crossRef {
		match.Confidence = 1.0
		match.MatchedFields = []string{"amount", crossReferenceKey}
	} else {
		match.Confidence = 0.9
		match.MatchedFields = []string{"amount", "date"}
	}
	return match
}

func withinDateWindow(a time.Time, b time.Time) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= dateWindow
}

func crossReferenced(source Record, target Record) bool {
	if ref, ok := source.Metadata[crossReferenceKey]; ok && ref != "" && ref == target.ID {
		return true
	}
	if ref, ok := target.Metadata[crossReferenceKey]; ok && ref != "" && ref == source.ID {
		return true
	}
	return false
}

// accuracyPercentage keeps the historical formula: the denominator counts
// every record on both sides, so matched pairs are counted twice.
func accuracyPercentage(matched int, sourceCount int, targetCount int) float64 {
	total := sourceCount + targetCount
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total) * 100
}
