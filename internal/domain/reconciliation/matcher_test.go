package reconciliation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var matchBaseDate = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func record(id string, amount float64, date time.Time) Record {
	return Record{ID: id, Amount: amount, Currency: "USD", Date: date}
}

func TestMatchRecords_AmountAndDateMatch(t *testing.T) {
	sources := []Record{record("o1", 100.00, matchBaseDate)}
	targets := []Record{record("p1", 100.005, matchBaseDate.Add(6*time.Hour))}

	var matches []Match
	var unmatched []Unmatched
	summary := MatchRecords(sources, targets,
		func(m Match) { matches = append(matches, m) },
		func(u Unmatched) { unmatched = append(unmatched, u) },
	)

	require.Len(t, matches, 1)
	assert.Equal(t, "o1", matches[0].SourceId)
	assert.Equal(t, "p1", matches[0].TargetId)
	assert.Equal(t, 0.9, matches[0].Confidence)
	assert.Equal(t, []string{"amount", "date"}, matches[0].MatchedFields)
	assert.Empty(t, unmatched)
	assert.Equal(t, 1, summary.MatchedCount)
}

func TestMatchRecords_AmountDifferenceBeyondToleranceDoesNotMatch(t *testing.T) {
	sources := []Record{record("o1", 100.00, matchBaseDate)}
	targets := []Record{record("p1", 100.02, matchBaseDate)}

	summary := MatchRecords(sources, targets, func(Match) {}, func(Unmatched) {})

	assert.Equal(t, 0, summary.MatchedCount)
	assert.Equal(t, 1, summary.UnmatchedSourceCount)
	assert.Equal(t, 1, summary.UnmatchedTargetCount)
}

func TestMatchRecords_DateOutsideWindowDoesNotMatch(t *testing.T) {
	sources := []Record{record("o1", 100.00, matchBaseDate)}
	targets := []Record{record("p1", 100.00, matchBaseDate.Add(25*time.Hour))}

	summary := MatchRecords(sources, targets, func(Match) {}, func(Unmatched) {})

	assert.Equal(t, 0, summary.MatchedCount)
}

func TestMatchRecords_CrossReferenceOverridesDateWindow(t *testing.T) {
	source := record("o1", 100.00, matchBaseDate)
	source.Metadata = map[string]string{"cross_reference_id": "p1"}
	targets := []Record{record("p1", 100.00, matchBaseDate.Add(72*time.Hour))}

	var matches []Match
	summary := MatchRecords([]Record{source}, targets,
		func(m Match) { matches = append(matches, m) },
		func(Unmatched) {},
	)

	require.Len(t, matches, 1)
	assert.Equal(t, 1.0, matches[0].Confidence)
	assert.Equal(t, []string{"amount", "cross_reference_id"}, matches[0].MatchedFields)
	assert.Equal(t, 1, summary.MatchedCount)
}

func TestMatchRecords_TargetSideCrossReference(t *testing.T) {
	sources := []Record{record("o1", 50.00, matchBaseDate)}
	target := record("p1", 50.00, matchBaseDate.Add(48*time.Hour))
	target.Metadata = map[string]string{"cross_reference_id": "o1"}

	summary := MatchRecords(sources, []Record{target}, func(Match) {}, func(Unmatched) {})

	assert.Equal(t, 1, summary.MatchedCount)
}

func TestMatchRecords_GreedyFirstMatchWins(t *testing.T) {
	sources := []Record{
		record("o1", 100.00, matchBaseDate),
		record("o2", 100.00, matchBaseDate),
	}
	// Both targets are eligible for o1; greedy matching assigns the first.
	targets := []Record{
		record("p1", 100.00, matchBaseDate),
		record("p2", 100.00, matchBaseDate),
		record("p3", 999.99, matchBaseDate),
	}

	var matches []Match
	var unmatched []Unmatched
	summary := MatchRecords(sources, targets,
		func(m Match) { matches = append(matches, m) },
		func(u Unmatched) { unmatched = append(unmatched, u) },
	)

	require.Len(t, matches, 2)
	assert.Equal(t, "p1", matches[0].TargetId)
	assert.Equal(t, "p2", matches[1].TargetId)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "p3", unmatched[0].RecordId)
	assert.Equal(t, SideTarget, unmatched[0].Side)
	assert.Equal(t, 2, summary.MatchedCount)
	assert.Equal(t, 0, summary.UnmatchedSourceCount)
	assert.Equal(t, 1, summary.UnmatchedTargetCount)
}

func TestMatchRecords_AccuracyCountsBothSidesInDenominator(t *testing.T) {
	sources := []Record{
		record("o1", 100.00, matchBaseDate),
		record("o2", 200.00, matchBaseDate),
	}
	targets := []Record{
		record("p1", 100.00, matchBaseDate),
		record("p2", 300.00, matchBaseDate),
		record("p3", 400.00, matchBaseDate),
	}

	summary := MatchRecords(sources, targets, func(Match) {}, func(Unmatched) {})

	assert.Equal(t, 1, summary.MatchedCount)
	// 1 match over 5 records total: 20, not 1/min(2,3).
	assert.InDelta(t, 20.0, summary.AccuracyPercentage, 0.0001)
}

func TestMatchRecords_EmptyInputs(t *testing.T) {
	summary := MatchRecords(nil, nil, func(Match) {}, func(Unmatched) {})

	assert.Equal(t, 0, summary.MatchedCount)
	assert.Equal(t, 0.0, summary.AccuracyPercentage)
}

func TestMatchRecords_UnmatchedCallbackOrder(t *testing.T) {
	sources := []Record{record("o1", 100.00, matchBaseDate)}
	targets := []Record{record("p1", 500.00, matchBaseDate)}

	var order []string
	MatchRecords(sources, targets,
		func(Match) {},
		func(u Unmatched) { order = append(order, u.Side) },
	)

	// Unmatched sources are reported during the pass, targets afterwards.
	assert.Equal(t, []string{SideSource, SideTarget}, order)
}
