// Package processor executes the four reconciliation operations. Every
// operation runs inside a single transaction; dry runs compute the same
// report without issuing DML or writing files.
package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gp-config-mcp/internal/loader"
	"gp-config-mcp/internal/merge"
	"gp-config-mcp/internal/report"
	"gp-config-mcp/internal/store"
)

// Operations accepted on the command line.
const (
	OpFill      = "fill"
	OpOverwrite = "overwrite"
	OpExport    = "export"
	OpDelete    = "delete"
)

// KnownOperation reports whether op is one of the four operations.
func KnownOperation(op string) bool {
	switch op {
	case OpFill, OpOverwrite, OpExport, OpDelete:
		return true
	}
	return false
}

// Params describes one invocation.
type Params struct {
	Operation  string
	InstanceID string
	MarketID   string
	DryRun     bool

	// Input carries the loaded fixtures; nil for delete and export.
	Input *loader.Input

	// OutputPath overrides the default export location.
	OutputPath string
	// RepoRoot anchors the default export path.
	RepoRoot string

	// Now is the clock used for export timestamps; defaults to time.Now.
	Now func() time.Time
}

// Processor runs operations against the storage gateway.
type Processor struct {
	store  *store.Store
	logger *zap.Logger
}

// New returns a processor bound to the given store.
func New(st *store.Store, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: st, logger: logger}
}

// Run executes the requested operation inside one transaction and fills in
// the report counters. Any error rolls the transaction back.
func (p *Processor) Run(ctx context.Context, params Params, rep *report.Report) error {
	if params.Now == nil {
		params.Now = time.Now
	}

	return p.store.WithinTx(ctx, func(tx *store.Tx) error {
		if err := tx.EnsureRuntimeConfigTable(ctx); err != nil {
			return err
		}

		switch params.Operation {
		case OpFill:
			return p.fill(ctx, tx, params, rep)
		case OpOverwrite:
			return p.overwrite(ctx, tx, params, rep)
		case OpDelete:
			return p.cleanup(ctx, tx, params, rep)
		case OpExport:
			return p.export(ctx, tx, params, rep)
		default:
			return fmt.Errorf("unknown operation %q", params.Operation)
		}
	})
}

// fill upserts missing rows and merges existing ones without ever
// overwriting populated values.
func (p *Processor) fill(ctx context.Context, tx *store.Tx, params Params, rep *report.Report) error {
	for _, row := range params.Input.Rows {
		existing, err := tx.GetRow(ctx, params.InstanceID, params.MarketID, row.Section, row.RecordKey)
		if err != nil {
			return err
		}

		if existing == nil {
			if !params.DryRun {
				if err := tx.UpsertRow(ctx, p.storeRow(params, row, row.Data)); err != nil {
					return err
				}
			}
			rep.Inserted++
			continue
		}

		merged, changed := merge.Fill(map[string]any(existing.Data), row.Data)
		if !changed {
			rep.Skipped++
			continue
		}
		data, ok := merged.(map[string]any)
		if !ok {
			return fmt.Errorf("merge of %s/%s did not produce an object", row.Section, row.RecordKey)
		}
		if !params.DryRun {
			if err := tx.UpsertRow(ctx, p.storeRow(params, row, data)); err != nil {
				return err
			}
		}
		rep.Updated++
	}

	p.logger.Info("fill complete",
		zap.Int("inserted", rep.Inserted),
		zap.Int("updated", rep.Updated),
		zap.Int("skipped", rep.Skipped))
	return nil
}

// overwrite rebuilds the market from scratch: stored rows and externally
// scoped rows are removed, then the incoming rows are inserted.
func (p *Processor) overwrite(ctx context.Context, tx *store.Tx, params Params, rep *report.Report) error {
	if err := p.cleanup(ctx, tx, params, rep); err != nil {
		return err
	}

	for _, row := range params.Input.Rows {
		if !params.DryRun {
			if err := tx.UpsertRow(ctx, p.storeRow(params, row, row.Data)); err != nil {
				return err
			}
		}
		rep.Inserted++
	}

	p.logger.Info("overwrite complete",
		zap.Int("inserted", rep.Inserted),
		zap.Int("deleted", rep.Deleted))
	return nil
}

// cleanup removes every stored and externally scoped row of the market. It
// backs both delete and the destructive phase of overwrite.
func (p *Processor) cleanup(ctx context.Context, tx *store.Tx, params Params, rep *report.Report) error {
	scope, err := tx.DiscoverScope(ctx, params.MarketID)
	if err != nil {
		return err
	}

	if params.DryRun {
		stored, err := tx.CountRows(ctx, params.InstanceID, params.MarketID)
		if err != nil {
			return err
		}
		rep.Deleted += int(stored + scope.TotalRows())
		return nil
	}

	stored, err := tx.DeleteRows(ctx, params.InstanceID, params.MarketID)
	if err != nil {
		return err
	}
	scoped, err := tx.DeleteScope(ctx, scope)
	if err != nil {
		return err
	}
	rep.Deleted += int(stored + scoped)

	p.logger.Info("cleanup complete",
		zap.Int64("stored_rows", stored),
		zap.Int64("scoped_rows", scoped))
	return nil
}

func (p *Processor) storeRow(params Params, row loader.Row, data map[string]any) store.Row {
	return store.Row{
		InstanceID: params.InstanceID,
		MarketID:   params.MarketID,
		Section:    row.Section,
		RecordKey:  row.RecordKey,
		Data:       store.JSONBDocument(data),
	}
}
