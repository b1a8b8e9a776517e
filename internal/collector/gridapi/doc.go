// Package gridapi implements the Collector interface over a generic
// grid-data HTTP JSON API. One client instance serves every market the
// deployment points it at; market quirks stay on the server side of
// the API boundary.
package gridapi
