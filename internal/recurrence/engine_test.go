package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func startsOf(occurrences []Occurrence) []string {
	out := make([]string, 0, len(occurrences))
	for _, occ := range occurrences {
		out = append(out, occ.Start.Format("2006-01-02 15:04 Mon"))
	}
	return out
}

func TestEngine_GenerateOccurrences(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)
	// Wednesday.
	baseStart := time.Date(2030, time.January, 2, 9, 30, 0, 0, time.UTC)
	baseEnd := baseStart.Add(2 * time.Hour)

	t.Run("daily covers every following day through the end date", func(t *testing.T) {
		t.Parallel()
		occ, err := engine.GenerateOccurrences(Rule{Pattern: PatternDaily, Until: day(2030, time.January, 5)}, baseStart, baseEnd)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"2030-01-03 09:30 Thu",
			"2030-01-04 09:30 Fri",
			"2030-01-05 09:30 Sat",
		}, startsOf(occ))
		for _, o := range occ {
			assert.Equal(t, 2*time.Hour, o.End.Sub(o.Start))
		}
	})

	t.Run("weekdays skip the weekend", func(t *testing.T) {
		t.Parallel()
		occ, err := engine.GenerateOccurrences(Rule{Pattern: PatternWeekdays, Until: day(2030, time.January, 8)}, baseStart, baseEnd)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"2030-01-03 09:30 Thu",
			"2030-01-04 09:30 Fri",
			"2030-01-07 09:30 Mon",
			"2030-01-08 09:30 Tue",
		}, startsOf(occ))
	})

	t.Run("weekdays starting on friday resume on monday", func(t *testing.T) {
		t.Parallel()
		friday := time.Date(2030, time.January, 4, 8, 0, 0, 0, time.UTC)
		occ, err := engine.GenerateOccurrences(Rule{Pattern: PatternWeekdays, Until: day(2030, time.January, 10)}, friday, friday.Add(time.Hour))
		require.NoError(t, err)
		require.NotEmpty(t, occ)
		assert.Equal(t, time.Monday, occ[0].Start.Weekday())
		assert.Equal(t, 7, occ[0].Start.Day())
	})

	t.Run("weekly and biweekly step by seven and fourteen days", func(t *testing.T) {
		t.Parallel()
		weekly, err := engine.GenerateOccurrences(Rule{Pattern: PatternWeekly, Until: day(2030, time.January, 23)}, baseStart, baseEnd)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"2030-01-09 09:30 Wed",
			"2030-01-16 09:30 Wed",
			"2030-01-23 09:30 Wed",
		}, startsOf(weekly))

		biweekly, err := engine.GenerateOccurrences(Rule{Pattern: PatternBiweekly, Until: day(2030, time.January, 31)}, baseStart, baseEnd)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"2030-01-16 09:30 Wed",
			"2030-01-30 09:30 Wed",
		}, startsOf(biweekly))
	})

	t.Run("monthly skips months without the start day", func(t *testing.T) {
		t.Parallel()
		jan31 := time.Date(2030, time.January, 31, 9, 0, 0, 0, time.UTC)
		occ, err := engine.GenerateOccurrences(Rule{Pattern: PatternMonthly, Until: day(2030, time.August, 31)}, jan31, jan31.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{
			"2030-03-31 09:00 Sun",
			"2030-05-31 09:00 Fri",
			"2030-07-31 09:00 Wed",
			"2030-08-31 09:00 Sat",
		}, startsOf(occ))
		for _, o := range occ {
			assert.NotEqual(t, time.February, o.Start.Month())
		}
	})

	t.Run("end date equal to the start date yields nothing", func(t *testing.T) {
		t.Parallel()
		occ, err := engine.GenerateOccurrences(Rule{Pattern: PatternDaily, Until: day(2030, time.January, 2)}, baseStart, baseEnd)
		require.NoError(t, err)
		assert.Empty(t, occ)
	})

	t.Run("end date before the start date is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := engine.GenerateOccurrences(Rule{Pattern: PatternDaily, Until: day(2030, time.January, 1)}, baseStart, baseEnd)
		require.ErrorIs(t, err, ErrInvalidUntil)
	})

	t.Run("unknown pattern is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := engine.GenerateOccurrences(Rule{Pattern: "hourly", Until: day(2030, time.January, 9)}, baseStart, baseEnd)
		require.ErrorIs(t, err, ErrInvalidPattern)
	})

	t.Run("non positive duration is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := engine.GenerateOccurrences(Rule{Pattern: PatternDaily, Until: day(2030, time.January, 9)}, baseStart, baseStart)
		require.ErrorIs(t, err, ErrInvalidDuration)
	})
}

func TestEngine_Iterator(t *testing.T) {
	t.Parallel()

	t.Run("is lazy and stops at the cap", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(time.UTC, WithMaxOccurrences(3))
		start := time.Date(2030, time.January, 1, 9, 0, 0, 0, time.UTC)

		it, err := engine.Iterator(Rule{Pattern: PatternDaily, Until: day(2030, time.December, 31)}, start, start.Add(time.Hour))
		require.NoError(t, err)

		var got int
		for {
			if _, ok := it.Next(); !ok {
				break
			}
			got++
		}
		assert.Equal(t, 3, got)
		assert.ErrorIs(t, it.Err(), ErrTooManyOccurrences)

		_, err = engine.GenerateOccurrences(Rule{Pattern: PatternDaily, Until: day(2030, time.December, 31)}, start, start.Add(time.Hour))
		assert.ErrorIs(t, err, ErrTooManyOccurrences)
	})

	t.Run("preserves wall clock time in the engine location", func(t *testing.T) {
		t.Parallel()
		loc, err := time.LoadLocation("Europe/Berlin")
		if err != nil {
			t.Skipf("time zone database unavailable: %v", err)
		}
		engine := NewEngine(loc)
		// The week spanning the end of daylight saving time.
		start := time.Date(2030, time.October, 24, 9, 0, 0, 0, loc)
		occ, err := engine.GenerateOccurrences(Rule{Pattern: PatternWeekly, Until: day(2030, time.October, 31)}, start.UTC(), start.Add(time.Hour).UTC())
		require.NoError(t, err)
		require.Len(t, occ, 1)
		assert.Equal(t, 9, occ[0].Start.In(loc).Hour())
		assert.Equal(t, time.Hour, occ[0].End.Sub(occ[0].Start))
	})
}

func TestParsePattern(t *testing.T) {
	t.Parallel()

	p, err := ParsePattern(" Weekdays ")
	require.NoError(t, err)
	assert.Equal(t, PatternWeekdays, p)

	_, err = ParsePattern("yearly")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}
