package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names; each maps to <schemaDir>/<name>.schema.json.
const (
	SchemaMarket         = "market-runtime-config.v1"
	SchemaProducts       = "products-catalog.v1"
	SchemaVendorProducts = "vendor-products-catalog.v1"
)

// SchemaSet compiles the fixture schemas on first use and caches them for the
// rest of the run. Schemas default to Draft 2020-12 when they carry no
// $schema of their own.
type SchemaSet struct {
	dir      string
	compiler *jsonschema.Compiler
	compiled map[string]*jsonschema.Schema
}

// NewSchemaSet builds a schema set rooted at dir.
func NewSchemaSet(dir string) *SchemaSet {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	return &SchemaSet{
		dir:      dir,
		compiler: compiler,
		compiled: map[string]*jsonschema.Schema{},
	}
}

// Validate checks doc against the named schema and returns a single error
// concatenating every leaf violation as "<instance path> <message>".
func (s *SchemaSet) Validate(name string, doc map[string]any) error {
	sch, err := s.schema(name)
	if err != nil {
		return err
	}

	// Round-trip through encoding/json so the validator sees canonical JSON
	// types rather than the YAML decoder's ints.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document for validation: %w", err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("failed to decode document for validation: %w", err)
	}

	if err := sch.Validate(value); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("schema %s: %s", name, strings.Join(flattenCauses(verr), "; "))
		}
		return fmt.Errorf("schema %s: %w", name, err)
	}
	return nil
}

func (s *SchemaSet) schema(name string) (*jsonschema.Schema, error) {
	if sch, ok := s.compiled[name]; ok {
		return sch, nil
	}
	path := filepath.Join(s.dir, name+".schema.json")
	sch, err := s.compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", path, err)
	}
	s.compiled[name] = sch
	return sch, nil
}

// flattenCauses collects the leaves of the validation error tree in order.
func flattenCauses(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := verr.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s %s", loc, verr.Message)}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, flattenCauses(cause)...)
	}
	return out
}
