// Package model defines the canonical observation types shared across the
// electricity data archive.
//
// Conventions:
//   - Timestamps: time.Time in UTC, always an absolute instant. No local or
//     floating wall-clock time is ever persisted.
//   - ResolutionMinutes: the native reporting granularity of the row at write
//     time. Resampling never alters stored rows; it produces derived views.
//   - Values: float64 MW for power, float64 MWh for cumulative energy,
//     float64 in the market currency for prices.
package model
