package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// MarketMetadataKey is the JSON attribute that tags a row as owned by a market.
const MarketMetadataKey = "gp_market_id"

const salesChannelTable = "sales_channel"

// assignmentTables join to markets via sales_channel_id rather than carrying
// market metadata themselves. The slice order is the deletion order.
var assignmentTables = []string{
	"product_sales_channel",
	"publishable_api_key_sales_channel",
	"sales_channel_stock_location",
}

// identPattern gates every discovered identifier before it is interpolated
// into SQL. A violation aborts the run before any DML is built.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ScopedTable is one table holding rows owned by the target market, tagged
// with the column the scope predicate matched on.
type ScopedTable struct {
	Table  string
	Column string
	Rows   int64
}

// Scope is the full set of market-owned rows outside the processor's own
// table: metadata-tagged tables plus sales-channel assignment tables.
type Scope struct {
	MarketID        string
	SalesChannelIDs []string
	Assignments     []ScopedTable
	Tagged          []ScopedTable

	// jsonColumns maps each public table to its JSON-typed columns so export
	// snapshots can decode them.
	jsonColumns map[string][]string
}

// TotalRows is the number of externally scoped rows across both sets.
func (s *Scope) TotalRows() int64 {
	var total int64
	for _, t := range s.Assignments {
		total += t.Rows
	}
	for _, t := range s.Tagged {
		total += t.Rows
	}
	return total
}

// DeletionOrder lists scoped tables in a referential-integrity friendly
// order: assignment tables first, then metadata-tagged tables sorted
// lexicographically with sales_channel forced last.
func (s *Scope) DeletionOrder() []ScopedTable {
	out := make([]ScopedTable, 0, len(s.Assignments)+len(s.Tagged))
	out = append(out, s.Assignments...)

	tagged := make([]ScopedTable, len(s.Tagged))
	copy(tagged, s.Tagged)
	sort.Slice(tagged, func(i, j int) bool {
		if tagged[i].Table == salesChannelTable {
			return false
		}
		if tagged[j].Table == salesChannelTable {
			return true
		}
		return tagged[i].Table < tagged[j].Table
	})
	return append(out, tagged...)
}

// DiscoverScope enumerates every public table holding rows owned by the
// market. Tables whose JSON columns never match the predicate are not read
// beyond the count probe.
func (t *Tx) DiscoverScope(ctx context.Context, marketID string) (*Scope, error) {
	scope := &Scope{MarketID: marketID, jsonColumns: map[string][]string{}}

	columns, err := t.listJSONColumns(ctx)
	if err != nil {
		return nil, err
	}

	for _, col := range columns {
		scope.jsonColumns[col.table] = append(scope.jsonColumns[col.table], col.column)
	}

	claimed := map[string]bool{}
	for _, col := range columns {
		if col.table == RuntimeConfigTable || claimed[col.table] {
			continue
		}
		count, err := t.countTagged(ctx, col.table, col.column, marketID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			claimed[col.table] = true
			scope.Tagged = append(scope.Tagged, ScopedTable{Table: col.table, Column: col.column, Rows: count})
		}
	}

	if err := t.discoverAssignments(ctx, scope); err != nil {
		return nil, err
	}

	t.logger.Debug("scope discovered",
		zap.String("market_id", marketID),
		zap.Int("tagged_tables", len(scope.Tagged)),
		zap.Int("assignment_tables", len(scope.Assignments)),
		zap.Int("sales_channels", len(scope.SalesChannelIDs)))
	return scope, nil
}

// DeleteScope removes every externally scoped row in deletion order and
// returns the total number of rows removed.
func (t *Tx) DeleteScope(ctx context.Context, scope *Scope) (int64, error) {
	var total int64
	for _, st := range scope.DeletionOrder() {
		var (
			res int64
			err error
		)
		if st.Column == "sales_channel_id" {
			res, err = t.deleteAssignment(ctx, st.Table, scope.SalesChannelIDs)
		} else {
			res, err = t.deleteTagged(ctx, st.Table, st.Column, scope.MarketID)
		}
		if err != nil {
			return total, err
		}
		t.logger.Debug("scoped rows deleted", zap.String("table", st.Table), zap.Int64("rows", res))
		total += res
	}
	return total, nil
}

type jsonColumn struct {
	table  string
	column string
}

func (t *Tx) listJSONColumns(ctx context.Context) ([]jsonColumn, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("table_name", "column_name")
	sb.From("information_schema.columns")
	sb.Where(
		sb.Equal("table_schema", "public"),
		sb.In("data_type", "json", "jsonb"),
	)
	sb.OrderBy("table_name", "column_name")

	query, args := sb.Build()
	rows, err := t.tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list JSON columns: %w", err)
	}
	defer rows.Close()

	var out []jsonColumn
	for rows.Next() {
		var col jsonColumn
		if err := rows.Scan(&col.table, &col.column); err != nil {
			return nil, fmt.Errorf("failed to scan JSON column row: %w", err)
		}
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSON column rows: %w", err)
	}
	return out, nil
}

func (t *Tx) discoverAssignments(ctx context.Context, scope *Scope) error {
	existing, err := t.existingTables(ctx, append([]string{salesChannelTable}, assignmentTables...))
	if err != nil {
		return err
	}
	if !existing[salesChannelTable] {
		return nil
	}

	query := fmt.Sprintf(`SELECT id FROM %s WHERE metadata ->> '%s' = $1`,
		pq.QuoteIdentifier(salesChannelTable), MarketMetadataKey)
	if err := t.tx.SelectContext(ctx, &scope.SalesChannelIDs, query, scope.MarketID); err != nil {
		return fmt.Errorf("failed to resolve sales channels: %w", err)
	}
	if len(scope.SalesChannelIDs) == 0 {
		return nil
	}

	for _, table := range assignmentTables {
		if !existing[table] {
			continue
		}
		query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE sales_channel_id = ANY($1)`,
			pq.QuoteIdentifier(table))
		var count int64
		if err := t.tx.GetContext(ctx, &count, query, pq.Array(scope.SalesChannelIDs)); err != nil {
			return fmt.Errorf("failed to count rows in %s: %w", table, err)
		}
		if count > 0 {
			scope.Assignments = append(scope.Assignments, ScopedTable{
				Table:  table,
				Column: "sales_channel_id",
				Rows:   count,
			})
		}
	}
	return nil
}

func (t *Tx) existingTables(ctx context.Context, names []string) (map[string]bool, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("table_name")
	sb.From("information_schema.tables")
	values := make([]any, len(names))
	for i, name := range names {
		values[i] = name
	}
	sb.Where(
		sb.Equal("table_schema", "public"),
		sb.In("table_name", values...),
	)

	query, args := sb.Build()
	var found []string
	if err := t.tx.SelectContext(ctx, &found, query, args...); err != nil {
		return nil, fmt.Errorf("failed to check table existence: %w", err)
	}

	existing := make(map[string]bool, len(found))
	for _, name := range found {
		existing[name] = true
	}
	return existing, nil
}

func (t *Tx) countTagged(ctx context.Context, table, column, marketID string) (int64, error) {
	if err := checkIdentifiers(table, column); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s ->> '%s' = $1`,
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(column), MarketMetadataKey)
	var count int64
	if err := t.tx.GetContext(ctx, &count, query, marketID); err != nil {
		return 0, fmt.Errorf("failed to count tagged rows in %s: %w", table, err)
	}
	return count, nil
}

func (t *Tx) deleteTagged(ctx context.Context, table, column, marketID string) (int64, error) {
	if err := checkIdentifiers(table, column); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s ->> '%s' = $1`,
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(column), MarketMetadataKey)
	res, err := t.tx.ExecContext(ctx, query, marketID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tagged rows from %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (t *Tx) deleteAssignment(ctx context.Context, table string, salesChannelIDs []string) (int64, error) {
	if err := checkIdentifiers(table); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE sales_channel_id = ANY($1)`,
		pq.QuoteIdentifier(table))
	res, err := t.tx.ExecContext(ctx, query, pq.Array(salesChannelIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to delete assignment rows from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// SnapshotTagged reads the market-owned rows of a metadata-tagged table.
func (t *Tx) SnapshotTagged(ctx context.Context, scope *Scope, st ScopedTable) ([]map[string]any, error) {
	if err := checkIdentifiers(st.Table, st.Column); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s ->> '%s' = $1`,
		pq.QuoteIdentifier(st.Table), pq.QuoteIdentifier(st.Column), MarketMetadataKey)
	return t.snapshot(ctx, scope, st.Table, query, scope.MarketID)
}

// SnapshotAssignment reads the rows of an assignment table belonging to the
// market's sales channels.
func (t *Tx) SnapshotAssignment(ctx context.Context, scope *Scope, table string) ([]map[string]any, error) {
	if err := checkIdentifiers(table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT * FROM %s WHERE sales_channel_id = ANY($1)`,
		pq.QuoteIdentifier(table))
	return t.snapshot(ctx, scope, table, query, pq.Array(scope.SalesChannelIDs))
}

func (t *Tx) snapshot(ctx context.Context, scope *Scope, table, query string, arg any) ([]map[string]any, error) {
	rows, err := t.tx.QueryxContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", table, err)
	}
	defer rows.Close()

	jsonCols := map[string]bool{}
	for _, col := range scope.jsonColumns[table] {
		jsonCols[col] = true
	}

	out := []map[string]any{}
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row of %s: %w", table, err)
		}
		out = append(out, normalizeRow(row, jsonCols))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot rows of %s: %w", table, err)
	}
	return out, nil
}

// normalizeRow turns driver byte slices into strings and decodes JSON columns
// so the export document carries structured values.
func normalizeRow(row map[string]any, jsonCols map[string]bool) map[string]any {
	for key, value := range row {
		raw, ok := value.([]byte)
		if !ok {
			continue
		}
		if jsonCols[key] {
			var decoded any
			if err := json.Unmarshal(raw, &decoded); err == nil {
				row[key] = decoded
				continue
			}
		}
		row[key] = string(raw)
	}
	return row
}

func checkIdentifiers(names ...string) error {
	for _, name := range names {
		if !identPattern.MatchString(name) {
			return fmt.Errorf("unsafe SQL identifier %q", name)
		}
	}
	return nil
}
