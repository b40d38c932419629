// Package runner executes Rosie runs against collectors and the result sink.
//
// An evaluation run lists every enabled kind, classifies each resource and
// appends one evaluation partition per kind. A cleanup run reads the delete
// records of an evaluation run, retires them through the cleanup enactor and
// appends the outcomes as cleanup partitions. Every run stores its summary.
//
// Scheduler repeats evaluation and cleanup on a cron expression.
package runner
