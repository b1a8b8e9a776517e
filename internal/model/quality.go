package model

import "time"

// QualityEventKind classifies a recorded data-quality anomaly.
type QualityEventKind string

const (
	QualitySchemaViolation    QualityEventKind = "schema_violation"
	QualityNonexistentTime    QualityEventKind = "nonexistent_local_time"
	QualityAmbiguousTime      QualityEventKind = "ambiguous_local_time"
	QualityUnmappedFuel       QualityEventKind = "unmapped_fuel_type"
	QualityDuplicateDropped   QualityEventKind = "duplicate_dropped"
	QualityLedgerInconsistent QualityEventKind = "ledger_inconsistency"
)

// QualityEvent records an anomaly attached to (or alongside) a row
// without blocking ingestion. Events are persisted next to the data so
// consumers can audit what was dropped, tagged, or repaired.
type QualityEvent struct {
	OccurredAt time.Time        // When the event was recorded (UTC)
	Market     string           // Market of the affected row(s)
	DataType   DataType         // Data type of the affected row(s)
	Kind       QualityEventKind // Anomaly classification
	Source     string           // Upstream source identifier
	Detail     string           // Human-readable context (raw label, wall time, ...)
}
