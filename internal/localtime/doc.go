// Package localtime converts source-local wall-clock timestamps to UTC
// instants, detecting the two DST failure modes: wall times skipped by a
// spring-forward transition (nonexistent) and wall times repeated by a
// fall-back transition (ambiguous).
package localtime
