// Package ledger tracks which half-open UTC intervals have been
// collected per (market, data_type, resolution) series. The records
// live in the store's catalog database, one row per contiguous covered
// interval, and only grow: coverage is extended by Record and shrunk
// only through an explicit ReplaceRange ahead of a reingest.
//
// Plan is the inverse view: given a wanted window, it returns the
// gaps the backfill coordinator still has to fetch.
package ledger
