// Package stores provides the SQLite-backed result sink for Rosie.
// Decision records are appended into partitions keyed by status date,
// resource kind, phase and run id; a partition is written once and never
// updated. Run summaries are kept in a separate runs table.
package stores
