// Package registry provides read-only access to market metadata:
// timezone, currency, native resolutions, and interconnections.
//
// The registry is consumed, not owned, by this system. Descriptor
// content lives in a JSON file (configs/market_registry.json) so adding
// a market is a data change, not a code change.
package registry
