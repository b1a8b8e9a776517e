// Package resample produces target-resolution views of canonical
// observations. It is a pure read-side projection: stored
// native-resolution rows are never mutated, and every value that was
// not directly observed carries the Interpolated flag.
//
// Aggregation and interpolation rules are a closed table keyed by data
// type and unit, never configured ad hoc:
//
//	prices                forward-fill up, (volume-weighted) mean down
//	power series (MW)     linear interpolation up, mean down
//	cumulative energy     linear interpolation up, sum down
package resample
