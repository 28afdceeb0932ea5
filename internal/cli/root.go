// Package cli wires the market configuration processor together: flag
// parsing, safety gate, fixture loading, and the database operation, in that
// order. Nothing user-facing happens before the safety gate passes.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gp-config-mcp/internal/config"
	"gp-config-mcp/internal/loader"
	"gp-config-mcp/internal/logging"
	"gp-config-mcp/internal/processor"
	"gp-config-mcp/internal/report"
	"gp-config-mcp/internal/safety"
	"gp-config-mcp/internal/store"
)

// Execute runs the root command and returns the process exit code. Failures
// are emitted as {"ok": false, "error": ...} on stderr.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		report.EmitError(os.Stderr, err)
		return 1
	}
	return 0
}

type options struct {
	instanceID string
	marketID   string
	operation  string
	configRoot string
	dbURL      string
	outputPath string
	confirm    bool
	force      bool
	dryRun     bool
	logLevel   string
}

// NewRootCommand builds the gp-config-mcp command.
func NewRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "gp-config-mcp",
		Short: "Reconcile per-market YAML configuration against the commerce database",
		Long: `gp-config-mcp ingests the YAML fixture tree of one market inside one
instance, validates it against the JSON Schema contracts, and reconciles the
declarative state against the database.

Operations:
  fill       add missing rows and fill gaps; never overwrites populated values
  overwrite  rebuild the market: delete stored and scoped rows, then insert
  export     write the full market state (DB included) as a YAML document
  delete     remove every stored and scoped row of the market

Examples:
  gp-config-mcp --instance-id gp-dev --market-id bonbeauty --operation fill
  gp-config-mcp --instance-id gp-dev --market-id bonbeauty --operation export
  gp-config-mcp --instance-id gp-dev --market-id bonbeauty --operation delete --confirm`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout(), cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&opts.instanceID, "instance-id", "", "Instance to operate on (required)")
	cmd.Flags().StringVar(&opts.marketID, "market-id", "", "Market to operate on (required)")
	cmd.Flags().StringVar(&opts.operation, "operation", "", "One of fill, overwrite, export, delete (required)")
	cmd.Flags().StringVar(&opts.configRoot, "config-root", "", "Directory holding per-instance configuration (default: auto-detected)")
	cmd.Flags().StringVar(&opts.dbURL, "db-url", "", "Database connection string (default: $DATABASE_URL)")
	cmd.Flags().StringVar(&opts.outputPath, "output-path", "", "Export file path (export only)")
	cmd.Flags().BoolVar(&opts.confirm, "confirm", false, "Confirm a destructive operation")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Skip interactive confirmation (non-interactive runs)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Compute the report without executing DML or writing files")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info or warn")

	_ = cmd.MarkFlagRequired("instance-id")
	_ = cmd.MarkFlagRequired("market-id")
	_ = cmd.MarkFlagRequired("operation")

	return cmd
}

func run(ctx context.Context, opts options, stdout io.Writer, stdin io.Reader) error {
	if !processor.KnownOperation(opts.operation) {
		return fmt.Errorf("unknown operation %q (expected fill, overwrite, export or delete)", opts.operation)
	}

	logger, err := logging.New(opts.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("operation", opts.operation),
		zap.String("instance_id", opts.instanceID),
		zap.String("market_id", opts.marketID),
	)

	if err := safety.Check(safety.Options{
		Operation:          opts.operation,
		InstanceID:         opts.instanceID,
		MarketID:           opts.marketID,
		Confirm:            opts.confirm,
		Force:              opts.force,
		AllowProdMutations: config.AllowProdMutations(),
		Stdin:              stdin,
		Prompt:             os.Stderr,
	}); err != nil {
		return err
	}
	logger.Debug("safety gate passed")

	dbURL, err := config.ResolveDatabaseURL(opts.dbURL)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}
	repoRoot := config.FindRepoRoot(cwd)

	rep := report.New(opts.operation, opts.instanceID, opts.marketID, opts.dryRun)

	// delete reads nothing from disk and export reads only from the database.
	var input *loader.Input
	if opts.operation == processor.OpFill || opts.operation == processor.OpOverwrite {
		configRoot, err := config.ResolveConfigRoot(opts.configRoot, repoRoot, cwd)
		if err != nil {
			return err
		}
		input, err = loader.New(configRoot, config.SchemaDir(repoRoot), logger).Load(opts.instanceID, opts.marketID)
		if err != nil {
			return err
		}
		rep.Warnings = append(rep.Warnings, input.Warnings...)
		for _, warning := range input.Warnings {
			logger.Warn(warning)
		}
	}

	st, err := store.Open(dbURL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := processor.New(st, logger).Run(ctx, processor.Params{
		Operation:  opts.operation,
		InstanceID: opts.instanceID,
		MarketID:   opts.marketID,
		DryRun:     opts.dryRun,
		Input:      input,
		OutputPath: opts.outputPath,
		RepoRoot:   repoRoot,
	}, rep); err != nil {
		return err
	}

	rep.OK = true
	return rep.Emit(stdout)
}
