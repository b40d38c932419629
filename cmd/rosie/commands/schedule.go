package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rosiehq/rosie/pkg/config"
	"github.com/rosiehq/rosie/pkg/runner"
)

func newScheduleCommand() *cobra.Command {
	var (
		spec           string
		once           bool
		evaluationOnly bool
		watch          bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run evaluation and cleanup on a cron schedule",
		Long: `Schedule runs evaluate, then cleanup, then backup pruning on the cron
expression in runtime.schedule until interrupted.

Metrics are served on telemetry.metrics.listen_address. With --watch the
configuration file is reloaded on change; new policies and a new schedule
apply from the next cycle.`,
		Example: `  # Run on the configured schedule
  rosie schedule

  # Daily at 6 AM, evaluation only
  rosie schedule --cron "0 6 * * *" --evaluation-only

  # Run one cycle now and exit
  rosie schedule --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openSession(ctx, needs{sink: true, backups: true, inventory: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			r, policies, err := s.runner(s.doc)
			if err != nil {
				return err
			}
			opts := []runner.SchedulerOption{runner.WithPruner(s.pruner(policies))}
			if evaluationOnly {
				opts = append(opts, runner.WithoutCleanup())
			}
			scheduler := runner.NewScheduler(r, s.logger, opts...)

			if once {
				return scheduler.RunOnce(ctx)
			}

			if spec == "" {
				spec = s.doc.Runtime.Schedule
			}
			if spec == "" {
				return fmt.Errorf("no schedule: set runtime.schedule or --cron")
			}
			if err := scheduler.Start(ctx, spec); err != nil {
				return err
			}
			defer scheduler.Stop()

			go func() {
				if err := s.tel.Metrics.Serve(ctx, s.tel.Logger.NewComponentLogger("metrics")); err != nil {
					log.Error().Err(err).Msg("Metrics endpoint stopped")
				}
			}()

			if watch {
				watcher, err := config.NewWatcher(s.path, config.DefaultDebounceInterval, s.logger)
				if err != nil {
					return err
				}
				defer func() { _ = watcher.Stop() }()

				go func() {
					err := watcher.Watch(ctx, func(doc *config.Document) {
						next, policies, err := s.runner(doc)
						if err != nil {
							log.Error().Err(err).Msg("Ignoring reloaded configuration")
							return
						}
						scheduler.Replace(next, s.pruner(policies))
						if doc.Runtime.Schedule != "" && !cmd.Flags().Changed("cron") {
							if err := scheduler.Reschedule(ctx, doc.Runtime.Schedule); err != nil {
								log.Error().Err(err).Msg("Keeping previous schedule")
							}
						}
					})
					if err != nil {
						log.Error().Err(err).Msg("Configuration watcher stopped")
					}
				}()
			}

			if next := scheduler.NextRun(); next != nil {
				log.Info().Time("next_run", *next).Str("schedule", scheduler.Schedule()).Msg("Waiting for next run")
			}
			<-ctx.Done()
			log.Info().Msg("Shutting down scheduler")
			return nil
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "", "cron expression (default runtime.schedule)")
	cmd.Flags().BoolVar(&once, "once", false, "run one cycle immediately and exit")
	cmd.Flags().BoolVar(&evaluationOnly, "evaluation-only", false, "never run cleanup")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the configuration file on change")

	return cmd
}
