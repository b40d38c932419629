package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rosiehq/rosie/pkg/config"
	"github.com/rosiehq/rosie/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a Rosie configuration file",
		Long: `Validate a configuration document and print the decoded policies.

This command checks:
  - YAML, JSON or CUE syntax and unknown fields
  - Schema conformance
  - Retention, alert and class rules of every lifecycle policy
  - Legacy adequacy term and backup retention`,
		Example: `  # Validate the default configuration
  rosie validate

  # Validate a specific file
  rosie validate ./rosie.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolvePath(configPath)
			if len(args) > 0 {
				path = args[0]
			}
			log.Info().Str("path", path).Msg("Validating configuration")

			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			format, err := config.FormatOf(path)
			if err != nil {
				return err
			}

			var problems []config.ValidationError
			doc, err := config.Parse(content, format, path)
			if err != nil {
				var derr *config.DocumentError
				if !errors.As(err, &derr) {
					return err
				}
				problems = derr.Errors
			} else {
				doc.ApplyEnv()
				problems = doc.Validate()
			}

			if len(problems) > 0 {
				if jsonOutput {
					_ = printJSON(problems)
				} else {
					for _, p := range problems {
						fmt.Printf("✗ %s\n", p.String())
					}
				}
				return engine.NewFatalError("configuration is invalid", &config.DocumentError{File: path, Errors: problems}).
					WithCode(engine.ErrCodeValidation)
			}

			policies, err := doc.ToPolicies()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(policies.Kinds)
			}

			fmt.Printf("✓ %s is valid\n\n", path)
			for _, kind := range policies.Kinds {
				kp, _ := policies.Get(kind)
				if kp.Err != nil {
					fmt.Printf("  %-14s %s (unknown, resources will be recorded as unknown)\n", kind, kp.Strategy)
					continue
				}
				fmt.Printf("  %-14s %s\n", kind, kp.Strategy)
			}
			if doc.Legacy.Enabled {
				fmt.Printf("\n  legacy term: %d days from %s\n", doc.Legacy.AdequacyTermDays, doc.Legacy.ReferenceStartDate)
			}
			return nil
		},
	}

	return cmd
}
