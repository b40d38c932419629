// Package telemetry provides the observability instrumentation for Rosie.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and lifecycle event publishing.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	tel, err := telemetry.NewTelemetry(doc.Telemetry)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Library code that receives no telemetry uses telemetry.Nop().
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("cleanup")
//	logger.WithRun(runID, engine.PhaseCleanup).
//	    WithResource(engine.KindGlueJob, "etl_dev").
//	    Info().Msg("Resource retired")
//
// # Runs
//
// StartRun opens a span named after the phase and returns a run scoped
// logger. End records rosie_run_duration_seconds and publishes
// run_completed:
//
//	scope := tel.StartRun(ctx, runID, engine.PhaseEvaluation, statusDate)
//	...
//	scope.End(summary, err)
//
// # Metrics
//
// All metrics live on a private registry exposed by Metrics.Handler:
//
//	rosie_decisions_total{kind,status}
//	rosie_resources_discovered_total{kind}
//	rosie_cleanup_outcomes_total{kind,status}
//	rosie_run_duration_seconds{phase}
//	rosie_collector_errors_total{kind}
//	rosie_backups_pruned_total
//
// # Events
//
// The publisher emits deletion_coming and quarantine for evaluation records,
// resource_retired and retire_failed for cleanup outcomes, and run_completed
// at the end of every run. Delivery is synchronous unless EnableAsync is set.
package telemetry
