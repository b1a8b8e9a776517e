package interval

import (
	"fmt"
	"sort"
	"time"
)

// Interval is a half-open [Start, End) range of UTC instants.
// An interval with End <= Start is empty.
type Interval struct {
	Start time.Time
	End   time.Time
}

// New returns the interval [start, end).
func New(start, end time.Time) Interval {
	return Interval{Start: start.UTC(), End: end.UTC()}
}

// Empty reports whether the interval contains no instants.
func (iv Interval) Empty() bool {
	return !iv.End.After(iv.Start)
}

// Duration returns End - Start, or zero for empty intervals.
func (iv Interval) Duration() time.Duration {
	if iv.Empty() {
		return 0
	}
	return iv.End.Sub(iv.Start)
}

// Contains reports whether t lies inside the interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Overlaps reports whether the two intervals share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Intersect returns the overlap of the two intervals, possibly empty.
func (iv Interval) Intersect(other Interval) Interval {
	start := iv.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := iv.End
	if other.End.Before(end) {
		end = other.End
	}
	return Interval{Start: start, End: end}
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

// Normalize sorts the intervals, drops empty ones, and merges every
// overlapping or adjacent pair. The result is the minimal sorted
// disjoint representation of the same point set.
func Normalize(ivs []Interval) []Interval {
	in := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		if !iv.Empty() {
			in = append(in, iv)
		}
	}
	if len(in) == 0 {
		return nil
	}

	sort.Slice(in, func(i, j int) bool { return in[i].Start.Before(in[j].Start) })

	out := []Interval{in[0]}
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Subtract returns the parts of want not covered by the normalized
// covered set. The result is sorted and disjoint; its union with
// (want ∩ covered) equals want exactly. Runs in time proportional to
// the number of covered ranges overlapping want.
func Subtract(want Interval, covered []Interval) []Interval {
	if want.Empty() {
		return nil
	}

	// Skip ranges entirely before the request.
	idx := sort.Search(len(covered), func(i int) bool {
		return covered[i].End.After(want.Start)
	})

	var gaps []Interval
	cursor := want.Start
	for _, c := range covered[idx:] {
		if !c.Start.Before(want.End) {
			break
		}
		if cursor.Before(c.Start) {
			gaps = append(gaps, Interval{Start: cursor, End: c.Start})
		}
		if c.End.After(cursor) {
			cursor = c.End
		}
	}
	if cursor.Before(want.End) {
		gaps = append(gaps, Interval{Start: cursor, End: want.End})
	}
	return gaps
}

// CoveredFraction returns the fraction of want overlapped by the
// normalized covered set, in [0, 1]. An empty want covers trivially.
func CoveredFraction(want Interval, covered []Interval) float64 {
	if want.Empty() {
		return 1
	}
	var sum time.Duration
	for _, c := range covered {
		sum += want.Intersect(c).Duration()
	}
	return float64(sum) / float64(want.Duration())
}

// Split breaks iv into chunks no longer than max, preserving order.
// A non-positive max returns iv unchanged.
func Split(iv Interval, max time.Duration) []Interval {
	if iv.Empty() {
		return nil
	}
	if max <= 0 || iv.Duration() <= max {
		return []Interval{iv}
	}
	var out []Interval
	for cur := iv.Start; cur.Before(iv.End); cur = cur.Add(max) {
		end := cur.Add(max)
		if end.After(iv.End) {
			end = iv.End
		}
		out = append(out, Interval{Start: cur, End: end})
	}
	return out
}
