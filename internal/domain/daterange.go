package domain

import (
	"fmt"
	"time"

	derrors "satsync/pkg/domain-errors"
)

// DateRange is an inclusive day-granular range. The remote service accepts
// whole days only, so Start and End are always truncated to midnight UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange validates and normalizes a range.
func NewDateRange(start, end time.Time) (DateRange, error) {
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return DateRange{}, derrors.Newf(derrors.CodeBadRequest, "date range end %s before start %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return DateRange{Start: start, End: end}, nil
}

// Days returns the number of days covered, inclusive of both endpoints.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start)/(24*time.Hour)) + 1
}

// Bisect splits the range at its midpoint into two sub-ranges whose union is
// the original range with no gap or overlap. A single-day range cannot be
// split further.
func (r DateRange) Bisect() (DateRange, DateRange, error) {
	if r.Days() < 2 {
		return DateRange{}, DateRange{}, derrors.Newf(derrors.CodeRangeTooDense,
			"cannot bisect single-day range %s", r)
	}
	mid := r.Start.AddDate(0, 0, r.Days()/2-1)
	left := DateRange{Start: r.Start, End: mid}
	right := DateRange{Start: mid.AddDate(0, 0, 1), End: r.End}
	return left, right, nil
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
