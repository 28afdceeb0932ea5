package report

import (
	"encoding/json"
	"fmt"
	"io"
)

// Report is the single JSON document emitted on stdout at the end of a run.
type Report struct {
	OK             bool     `json:"ok"`
	Operation      string   `json:"operation"`
	InstanceID     string   `json:"instance_id"`
	MarketID       string   `json:"market_id"`
	DryRun         bool     `json:"dry_run"`
	Inserted       int      `json:"inserted"`
	Updated        int      `json:"updated"`
	Skipped        int      `json:"skipped"`
	Deleted        int      `json:"deleted"`
	Warnings       []string `json:"warnings"`
	OutputPath     string   `json:"output_path,omitempty"`
	ExportedTables []string `json:"exported_tables,omitempty"`
}

// New returns a report for the given run with zeroed counters.
func New(operation, instanceID, marketID string, dryRun bool) *Report {
	return &Report{
		Operation:  operation,
		InstanceID: instanceID,
		MarketID:   marketID,
		DryRun:     dryRun,
		Warnings:   []string{},
	}
}

// Warn records a non-fatal finding. Warnings never fail the run.
func (r *Report) Warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Emit writes the report as indented JSON followed by a newline.
func (r *Report) Emit(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// EmitError writes the failure document emitted on stderr when a run aborts.
func EmitError(w io.Writer, runErr error) {
	doc := struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}{OK: false, Error: runErr.Error()}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(w, `{"ok":false,"error":%q}`+"\n", runErr.Error())
		return
	}
	fmt.Fprintln(w, string(data))
}
