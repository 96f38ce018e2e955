// Package schema defines the table model used across schema-sync and the
// sources that fetch it.
//
// A Source produces the full set of table definitions visible to one sync
// run. The package ships a single concrete source, APISource, which lists
// tables from a REST endpoint. Everything downstream (generation, diffing,
// the review workflow) consumes the normalized TableInfo slice and never
// talks to the provider directly.
//
// Normalization guarantees:
//   - tables are sorted by table ID
//   - fields within a table are sorted by field ID
//   - inactive tables are excluded unless the source is configured to
//     include them
package schema
