// Package interval provides arithmetic over half-open [start, end) UTC
// time intervals: normalization (sort + merge), set difference, and
// coverage accounting. The ledger and gap planner are built on it.
package interval
