// Package harmonize turns raw upstream rows into validated canonical
// observations: local wall-clock timestamps are resolved to UTC,
// source fuel labels and units are normalized, rows failing the schema
// gate are dropped, and in-batch duplicates are collapsed first-seen
// wins. Nothing is silently discarded; every drop or tag produces a
// quality event for the audit trail.
package harmonize
