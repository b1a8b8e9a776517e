package localtime

import (
	"errors"
	"fmt"
	"time"
)

// ErrNonexistentLocalTime marks a wall time inside a spring-forward gap.
// Rows carrying one are dropped and quality-flagged, never persisted.
var ErrNonexistentLocalTime = errors.New("nonexistent local time (skipped by DST transition)")

// WallClock is a naive local timestamp as reported by an upstream
// source, with no zone attached.
type WallClock struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// ParseWall parses "2006-01-02T15:04:05" or "2006-01-02 15:04:05"
// (seconds optional) into a WallClock.
func ParseWall(s string) (WallClock, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
	} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return WallClock{
				Year: t.Year(), Month: t.Month(), Day: t.Day(),
				Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(),
			}, nil
		}
	}
	return WallClock{}, fmt.Errorf("unparseable local timestamp %q", s)
}

// Hint carries an explicit disambiguator for wall times repeated by a
// fall-back transition.
type Hint struct {
	// UTCOffsetSec, when non-nil, is the source-reported UTC offset of
	// the row in seconds east of UTC. It resolves ambiguity exactly.
	UTCOffsetSec *int

	// Occurrence is a source-reported sequence index for repeated wall
	// times: 1 for the first (earlier UTC) occurrence, 2 for the
	// second. Zero means no hint.
	Occurrence int
}

// Resolve converts a wall-clock time in loc to a UTC instant.
//
// Nonexistent wall times return ErrNonexistentLocalTime. Ambiguous wall
// times resolve through the hint when one is present; otherwise the
// earlier UTC instant is chosen deterministically and ambiguous is
// true, so the caller can flag the row for dedup before append.
func Resolve(w WallClock, loc *time.Location, hint Hint) (utc time.Time, ambiguous bool, err error) {
	candidates := instantsFor(w, loc)

	switch len(candidates) {
	case 0:
		return time.Time{}, false, ErrNonexistentLocalTime

	case 1:
		return candidates[0], false, nil

	default:
		if hint.UTCOffsetSec != nil {
			want := wallAsUTC(w).Add(-time.Duration(*hint.UTCOffsetSec) * time.Second)
			for _, c := range candidates {
				if c.Equal(want) {
					return c, false, nil
				}
			}
			return time.Time{}, false, fmt.Errorf("utc offset %ds matches no occurrence of %v in %s", *hint.UTCOffsetSec, w, loc)
		}
		if hint.Occurrence >= 1 && hint.Occurrence <= len(candidates) {
			return candidates[hint.Occurrence-1], false, nil
		}
		// No usable hint: first occurrence, flagged.
		return candidates[0], true, nil
	}
}

// instantsFor returns every UTC instant whose wall clock in loc equals
// w, sorted ascending. The zone's UTC offsets within a day on either
// side bound the possibilities, so probing those offsets finds all
// occurrences.
func instantsFor(w WallClock, loc *time.Location) []time.Time {
	guess := wallAsUTC(w)

	seen := make(map[int]bool)
	var out []time.Time
	for _, probe := range []time.Time{guess.Add(-24 * time.Hour), guess, guess.Add(24 * time.Hour)} {
		_, offset := probe.In(loc).Zone()
		if seen[offset] {
			continue
		}
		seen[offset] = true

		inst := guess.Add(-time.Duration(offset) * time.Second)
		if sameWall(inst.In(loc), w) {
			out = append(out, inst)
		}
	}

	// At most two candidates exist; order them.
	if len(out) == 2 && out[1].Before(out[0]) {
		out[0], out[1] = out[1], out[0]
	}
	return out
}

func wallAsUTC(w WallClock) time.Time {
	return time.Date(w.Year, w.Month, w.Day, w.Hour, w.Minute, w.Second, 0, time.UTC)
}

func sameWall(t time.Time, w WallClock) bool {
	return t.Year() == w.Year &&
		t.Month() == w.Month &&
		t.Day() == w.Day &&
		t.Hour() == w.Hour &&
		t.Minute() == w.Minute &&
		t.Second() == w.Second
}
