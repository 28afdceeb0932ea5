package processor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"gp-config-mcp/internal/config"
	"gp-config-mcp/internal/loader"
	"gp-config-mcp/internal/report"
	"gp-config-mcp/internal/store"
)

// ExportSchemaVersion identifies the layout of the export document.
const ExportSchemaVersion = "market-runtime-config.v1"

type exportMeta struct {
	GeneratedAt   string `yaml:"generated_at"`
	SchemaVersion string `yaml:"schema_version"`
	InstanceID    string `yaml:"instance_id"`
	MarketID      string `yaml:"market_id"`
}

type exportDocument struct {
	Meta       exportMeta                  `yaml:"meta"`
	Market     map[string]any              `yaml:"market"`
	Products   map[string]any              `yaml:"products"`
	Vendors    map[string]map[string]any   `yaml:"vendors"`
	DBSnapshot map[string][]map[string]any `yaml:"db_snapshot"`
}

// export composes the full market state (stored rows plus scoped external
// rows) and writes it as YAML. Dry runs report counts without touching the
// filesystem.
func (p *Processor) export(ctx context.Context, tx *store.Tx, params Params, rep *report.Report) error {
	rows, err := tx.ListRows(ctx, params.InstanceID, params.MarketID)
	if err != nil {
		return err
	}

	doc := exportDocument{
		Meta: exportMeta{
			GeneratedAt:   params.Now().UTC().Format(time.RFC3339),
			SchemaVersion: ExportSchemaVersion,
			InstanceID:    params.InstanceID,
			MarketID:      params.MarketID,
		},
		Vendors:    map[string]map[string]any{},
		DBSnapshot: map[string][]map[string]any{},
	}

	for _, row := range rows {
		switch row.Section {
		case loader.SectionMarket:
			doc.Market = row.Data
		case loader.SectionProducts:
			doc.Products = row.Data
		case loader.SectionVendorProducts:
			doc.Vendors[row.RecordKey] = row.Data
		default:
			rep.Warn("stored row has unknown section %q, skipping", row.Section)
		}
	}

	scope, err := tx.DiscoverScope(ctx, params.MarketID)
	if err != nil {
		return err
	}
	for _, st := range scope.Tagged {
		snapshot, err := tx.SnapshotTagged(ctx, scope, st)
		if err != nil {
			return err
		}
		doc.DBSnapshot[st.Table] = snapshot
	}
	for _, st := range scope.Assignments {
		snapshot, err := tx.SnapshotAssignment(ctx, scope, st.Table)
		if err != nil {
			return err
		}
		doc.DBSnapshot[st.Table] = snapshot
	}

	tables := make([]string, 0, len(doc.DBSnapshot))
	for table := range doc.DBSnapshot {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	rep.ExportedTables = tables

	if params.DryRun {
		p.logger.Info("export dry run",
			zap.Int("stored_rows", len(rows)),
			zap.Int("snapshot_tables", len(tables)))
		return nil
	}

	path := params.OutputPath
	if path == "" {
		path = config.DefaultExportPath(params.RepoRoot, params.InstanceID, params.MarketID, params.Now())
	}
	if err := writeYAML(path, doc); err != nil {
		return err
	}
	rep.OutputPath = path

	p.logger.Info("export written",
		zap.String("path", path),
		zap.Int("snapshot_tables", len(tables)))
	return nil
}

func writeYAML(path string, doc exportDocument) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode export document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize export document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}
