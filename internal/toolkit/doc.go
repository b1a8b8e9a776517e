// Package toolkit is the library facade: Get for windowed reads with
// optional on-the-fly resampling and gap filling, Collect for bulk
// backfill across markets and data types, Status for coverage
// summaries, and Reingest for re-collecting a window whose upstream
// data was revised.
package toolkit
