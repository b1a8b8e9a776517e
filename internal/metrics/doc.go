// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Rows appended and duplicates dropped per partition family
//   - Quality events by kind
//   - Backfill job outcomes and gap retry counts
//   - Upstream fetch latencies
package metrics
