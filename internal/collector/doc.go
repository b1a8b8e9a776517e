// Package collector defines the boundary to upstream data sources.
//
// Every upstream is an implementation of the Collector interface; the
// rest of the system depends only on that capability set and never on
// source-specific branching. Collectors return raw rows in source-local
// time; harmonization into canonical UTC observations happens
// downstream.
package collector
