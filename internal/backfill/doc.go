// Package backfill coordinates gap-driven collection: it plans the
// uncovered sub-windows of a requested range from the ledger, fetches
// and harmonizes each gap independently with bounded concurrency, and
// records coverage only after the rows are durably appended. Transient
// upstream failures are retried with exponential backoff; a job whose
// gaps partially succeed reports exactly which windows remain missing,
// and re-running the same job resumes from the ledger instead of
// re-fetching what already landed.
package backfill
