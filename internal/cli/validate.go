package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cafesync/internal/config"
	"github.com/roach88/cafesync/internal/menu"
)

// ValidationIssue is one problem found in a config.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Backends []string          `json:"backends,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a config file without starting the server",
		Long: `Validate a cafesync config file without starting anything.

The file is decoded strictly (unknown keys are errors) over the defaults,
CAFESYNC_* environment overrides are applied, every section is checked
and the configured menu is compiled against the menu schema. No backend
is contacted.

Exit codes:
  0 - The config is valid
  1 - The config or its menu is invalid
  2 - Command error (file not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if err := requireFile(path); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("config file not found: %s", path), err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return outputValidationErrors(formatter, []ValidationIssue{{Field: "config", Message: err.Error()}})
	}
	formatter.VerboseLog("decoded %s", path)

	if cfg.Menu != "" {
		if _, err := menu.LoadFile(cfg.Menu); err != nil {
			return outputValidationErrors(formatter, []ValidationIssue{{Field: "menu", Message: err.Error()}})
		}
		formatter.VerboseLog("menu %s compiles", cfg.Menu)
	}

	result := ValidationResult{Valid: true, Backends: backends(cfg)}
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, "✓ Config valid")
	if opts.Verbose {
		for _, b := range result.Backends {
			fmt.Fprintf(formatter.Writer, "  %s\n", b)
		}
	}
	return nil
}

// backends lists what serve would connect to.
func backends(cfg config.Config) []string {
	out := []string{"http " + cfg.HTTP.Addr}
	if cfg.Store.Path != "" {
		out = append(out, "sqlite "+cfg.Store.Path)
	}
	if cfg.Postgres.DSN != "" {
		out = append(out, "postgres")
	}
	if cfg.AMQP.URL != "" {
		out = append(out, "amqp "+cfg.AMQP.Exchange)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		out = append(out, fmt.Sprintf("kafka %v", cfg.Kafka.Brokers))
	}
	if cfg.Redis.Addr != "" {
		out = append(out, "redis "+cfg.Redis.Addr)
	}
	if cfg.Autostaff.Baristas > 0 {
		out = append(out, fmt.Sprintf("autostaff x%d", cfg.Autostaff.Baristas))
	}
	return out
}

// outputValidationErrors outputs validation errors and returns the failure.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationIssue) error {
	if formatter.IsJSON() {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    ErrCodeConfig,
				Message: errs[0].Message,
			},
		}
		if err := formatter.encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", e.Field, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
