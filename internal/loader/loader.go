// Package loader reads the per-market YAML fixture tree and validates every
// file against its JSON Schema contract before anything touches the database.
package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Sections of the runtime-config table. For market and products the record
// key is the section name itself; for vendor_products it is the vendor id.
const (
	SectionMarket         = "market"
	SectionProducts       = "products"
	SectionVendorProducts = "vendor_products"
)

// Row is one incoming record derived from a fixture file.
type Row struct {
	Section   string
	RecordKey string
	Data      map[string]any
}

// Input is the validated result of loading a market's fixture tree. Rows are
// ordered market, products, then vendors in directory-listing order.
type Input struct {
	Rows     []Row
	Warnings []string
}

func (in *Input) warnf(format string, args ...any) {
	in.Warnings = append(in.Warnings, fmt.Sprintf(format, args...))
}

// Loader reads and validates fixture trees under a config root.
type Loader struct {
	configRoot string
	schemas    *SchemaSet
	logger     *zap.Logger
}

// New returns a loader for the given config root and schema directory.
func New(configRoot, schemaDir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		configRoot: configRoot,
		schemas:    NewSchemaSet(schemaDir),
		logger:     logger,
	}
}

// Load ingests the fixture tree for one market. Missing optional files become
// warnings; everything else that deviates from the contract is fatal.
func (l *Loader) Load(instanceID, marketID string) (*Input, error) {
	input := &Input{Warnings: []string{}}

	if err := l.checkInstance(instanceID, marketID); err != nil {
		return nil, err
	}

	marketDir := filepath.Join(l.configRoot, instanceID, "markets", marketID)

	if err := l.loadSingleton(input, marketDir, "market.yaml", SectionMarket, SchemaMarket, marketID); err != nil {
		return nil, err
	}
	if err := l.loadSingleton(input, marketDir, "products.yaml", SectionProducts, SchemaProducts, marketID); err != nil {
		return nil, err
	}
	if err := l.loadVendors(input, marketDir); err != nil {
		return nil, err
	}

	l.logger.Debug("fixtures loaded",
		zap.Int("rows", len(input.Rows)),
		zap.Int("warnings", len(input.Warnings)))
	return input, nil
}

// checkInstance validates instance.yaml and cross-checks the identifiers
// passed on the command line.
func (l *Loader) checkInstance(instanceID, marketID string) error {
	path := filepath.Join(l.configRoot, instanceID, "instance.yaml")
	doc, err := readYAMLObject(path)
	if err != nil {
		return err
	}

	if id, ok := doc["instance_id"].(string); !ok || id != instanceID {
		return fmt.Errorf("instance.yaml declares instance_id %v, expected %q", doc["instance_id"], instanceID)
	}

	markets, _ := doc["markets"].([]any)
	for _, entry := range markets {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := m["market_id"].(string); ok && id == marketID {
			return nil
		}
	}
	return fmt.Errorf("market %q is not listed in %s", marketID, path)
}

// loadSingleton loads an optional per-market file whose record key equals its
// section name.
func (l *Loader) loadSingleton(input *Input, marketDir, filename, section, schemaName, marketID string) error {
	path := filepath.Join(marketDir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		input.warnf("%s not found, skipping section %s", path, section)
		return nil
	}

	doc, err := readYAMLObject(path)
	if err != nil {
		return err
	}
	if err := l.schemas.Validate(schemaName, doc); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if section == SectionMarket {
		if id, ok := doc["market_id"].(string); ok && id != marketID {
			return fmt.Errorf("%s declares market_id %q, expected %q", path, id, marketID)
		}
	}

	input.Rows = append(input.Rows, Row{Section: section, RecordKey: section, Data: doc})
	return nil
}

// loadVendors discovers vendors/<vendor_id>/products.yaml files. The vendor id
// inside the file wins over the directory name; a disagreement is a warning.
func (l *Loader) loadVendors(input *Input, marketDir string) error {
	vendorsDir := filepath.Join(marketDir, "vendors")
	entries, err := os.ReadDir(vendorsDir)
	if os.IsNotExist(err) {
		input.warnf("%s not found, no vendor products loaded", vendorsDir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read vendors directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			input.warnf("%s is not a vendor directory, skipping", filepath.Join(vendorsDir, entry.Name()))
			continue
		}
		path := filepath.Join(vendorsDir, entry.Name(), "products.yaml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			input.warnf("vendor directory %s has no products.yaml, skipping", entry.Name())
			continue
		}

		doc, err := readYAMLObject(path)
		if err != nil {
			return err
		}
		if err := l.schemas.Validate(SchemaVendorProducts, doc); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		vendorID := entry.Name()
		if fileID, ok := doc["vendor_id"].(string); ok && fileID != "" {
			if fileID != vendorID {
				input.warnf("vendor directory %s declares vendor_id %q; using the file value", vendorID, fileID)
			}
			vendorID = fileID
		}

		input.Rows = append(input.Rows, Row{Section: SectionVendorProducts, RecordKey: vendorID, Data: doc})
	}
	return nil
}

// readYAMLObject parses a UTF-8 YAML file whose root must be a mapping.
func readYAMLObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("required file %s does not exist", path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: root must be a YAML object", path)
	}
	return obj, nil
}
