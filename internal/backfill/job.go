package backfill

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/gridfeed/elecdata/internal/interval"
	"github.com/gridfeed/elecdata/internal/model"
)

// Job is one backfill request: make this window of one series whole.
type Job struct {
	ID       uuid.UUID
	Market   string
	DataType model.DataType
	Window   interval.Interval
}

// NewJob creates a job with a fresh ID.
func NewJob(market string, dt model.DataType, window interval.Interval) Job {
	return Job{
		ID:       uuid.New(),
		Market:   market,
		DataType: dt,
		Window:   window,
	}
}

func (j Job) String() string {
	return fmt.Sprintf("%s %s/%s %s", j.ID, j.Market, j.DataType, j.Window)
}

// Phase is where a gap attempt was when it finished or failed.
type Phase string

const (
	PhaseFetching     Phase = "fetching"
	PhaseHarmonizing  Phase = "harmonizing"
	PhaseAppending    Phase = "appending"
	PhaseLedgerUpdate Phase = "ledger_update"
	PhaseDone         Phase = "done"
)

// State is a job's terminal outcome.
type State string

const (
	StateDone               State = "done"                // every gap filled
	StatePartiallyCompleted State = "partially_completed" // some gaps filled
	StateFailed             State = "failed"              // nothing new landed
)

// GapResult reports one gap attempt.
type GapResult struct {
	Gap      interval.Interval
	Phase    Phase // PhaseDone on success, else the phase that failed
	Rows     int   // Rows appended (after dedup)
	Attempts int   // Fetch attempts, >1 when retried
	Err      error // nil on success
}

// Report summarizes a finished job. Failed gaps keep their windows, so
// a follow-up job over the same window retries exactly those.
type Report struct {
	Job   Job
	State State
	Gaps  []GapResult
	Rows  int // Total rows appended across gaps
}

// MissingWindows returns the windows of the gaps that did not complete.
func (r Report) MissingWindows() []interval.Interval {
	var out []interval.Interval
	for _, g := range r.Gaps {
		if g.Err != nil {
			out = append(out, g.Gap)
		}
	}
	return out
}
