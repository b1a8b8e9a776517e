// Package fuel maps source-specific fuel labels and units onto the
// canonical taxonomy. Mappings are explicit per-market tables; unknown
// labels resolve to other/unmapped rather than being guessed or
// dropped, so no generation volume is ever discarded.
package fuel
