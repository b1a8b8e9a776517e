package backfill

import (
	"context"
	"log/slog"
	"sync"
)

// Runner executes independent jobs with bounded concurrency. Jobs for
// different partitions proceed in parallel; the store serializes
// same-partition appends underneath.
type Runner struct {
	coord       *Coordinator
	concurrency int
	logger      *slog.Logger
}

// NewRunner wraps a coordinator. A non-positive concurrency falls
// back to the coordinator's gap concurrency.
func NewRunner(coord *Coordinator, concurrency int, logger *slog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = coord.cfg.Concurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{coord: coord, concurrency: concurrency, logger: logger}
}

// RunAll executes every job and returns a report per job, in input
// order. Job-level failures are carried in the reports; a job whose
// planning fails gets a failed report with the error attached to a
// single synthetic gap.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) []Report {
	reports := make([]Report, len(jobs))

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup

	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				reports[i] = Report{Job: job, State: StateFailed, Gaps: []GapResult{{Gap: job.Window, Phase: PhaseFetching, Err: ctx.Err()}}}
				return
			}

			report, err := r.coord.Run(ctx, job)
			if err != nil {
				r.logger.Warn("backfill job rejected", "job", job.String(), "err", err)
				report = Report{Job: job, State: StateFailed, Gaps: []GapResult{{Gap: job.Window, Phase: PhaseFetching, Err: err}}}
			}
			reports[i] = report
		}(i, job)
	}
	wg.Wait()

	return reports
}
