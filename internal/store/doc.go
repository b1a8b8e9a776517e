// Package store owns durable persistence: year-partitioned parquet
// files per (market, data_type) under raw/, plus a DuckDB catalog
// database holding the collection ledger and quality-events tables.
//
// Append is the only external mutation verb. It deduplicates on the
// canonical uniqueness key (first-seen wins, which also resolves DST
// fall-back repeats) and rewrites the partition atomically, so retrying
// an append of already-covered data is a no-op. Ad hoc analytical SQL
// runs directly over the parquet tree through Query.
//
// Layout, stable for external readers:
//
//	<data_dir>/raw/<market>/<data_type>/<year>.parquet
//	<data_dir>/metadata/catalog.duckdb   (ledger + quality_events)
package store
