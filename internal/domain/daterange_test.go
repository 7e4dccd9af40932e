package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "satsync/pkg/domain-errors"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNewDateRange(t *testing.T) {
	t.Run("rejects inverted range", func(t *testing.T) {
		_, err := NewDateRange(day("2024-02-01"), day("2024-01-01"))
		require.Error(t, err)
		assert.True(t, derrors.HasCode(err, derrors.CodeBadRequest))
	})

	t.Run("normalizes to midnight UTC", func(t *testing.T) {
		loc := time.FixedZone("CST", -6*3600)
		r, err := NewDateRange(
			time.Date(2024, 1, 1, 23, 30, 0, 0, loc),
			time.Date(2024, 1, 31, 1, 0, 0, 0, loc),
		)
		require.NoError(t, err)
		assert.Equal(t, day("2024-01-02"), r.Start)
		assert.Equal(t, day("2024-01-31"), r.End)
	})

	t.Run("single day is valid", func(t *testing.T) {
		r, err := NewDateRange(day("2024-01-15"), day("2024-01-15"))
		require.NoError(t, err)
		assert.Equal(t, 1, r.Days())
	})
}

// TestBisect_UnionInvariant validates that for every splittable range the two
// halves reunite into the original with no gap or overlap at the midpoint.
func TestBisect_UnionInvariant(t *testing.T) {
	ranges := []DateRange{
		{Start: day("2024-01-01"), End: day("2024-06-30")},
		{Start: day("2024-01-01"), End: day("2024-01-02")},
		{Start: day("2024-01-01"), End: day("2024-01-31")},
		{Start: day("2023-12-25"), End: day("2024-01-05")}, // crosses year boundary
	}

	for _, r := range ranges {
		left, right, err := r.Bisect()
		require.NoError(t, err, r.String())

		assert.Equal(t, r.Start, left.Start)
		assert.Equal(t, r.End, right.End)
		// No gap, no overlap: right begins exactly one day after left ends.
		assert.Equal(t, left.End.AddDate(0, 0, 1), right.Start, r.String())
		assert.Equal(t, r.Days(), left.Days()+right.Days())
	}
}

func TestBisect_HalfYearExample(t *testing.T) {
	r := DateRange{Start: day("2024-01-01"), End: day("2024-06-30")}
	left, right, err := r.Bisect()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01..2024-03-31", left.String())
	assert.Equal(t, "2024-04-01..2024-06-30", right.String())
}

func TestBisect_SingleDayFails(t *testing.T) {
	r := DateRange{Start: day("2024-01-01"), End: day("2024-01-01")}
	_, _, err := r.Bisect()
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeRangeTooDense))
}

func TestContains(t *testing.T) {
	r := DateRange{Start: day("2024-01-01"), End: day("2024-01-31")}
	assert.True(t, r.Contains(day("2024-01-01")))
	assert.True(t, r.Contains(time.Date(2024, 1, 31, 18, 0, 0, 0, time.UTC)))
	assert.False(t, r.Contains(day("2024-02-01")))
}
