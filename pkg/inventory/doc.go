// Package inventory provides resource collectors for Rosie.
//
// SnapshotCollector reads a per-kind inventory file (glue_job.yaml,
// s3_path.json, ...) exported from the account and paginates it with
// offset tokens. MemoryCollector holds resources in process. Both implement
// engine.Collector and engine.TagResolver.
package inventory
