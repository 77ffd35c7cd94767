package directory

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"realmforge/internal/domain"
)

// Integrity statuses.
const (
	StatusNominal        = "NOMINAL"
	StatusCriticalErrors = "CRITICAL_ERRORS_FOUND"
)

//go:embed manifest.schema.json
var manifestSchemaJSON []byte

var (
	manifestSchemaOnce sync.Once
	manifestSchema     *jsonschema.Schema
	manifestSchemaErr  error
)

func compiledManifestSchema() (*jsonschema.Schema, error) {
	manifestSchemaOnce.Do(func() {
		manifestSchema, manifestSchemaErr = jsonschema.NewCompiler().Compile(manifestSchemaJSON)
	})
	return manifestSchema, manifestSchemaErr
}

// IntegrityReport is the result of a workforce audit.
type IntegrityReport struct {
	TotalAgents     int      `json:"total_agents"`
	BrokenManifests []string `json:"broken_manifests"`
	MissingTools    []string `json:"missing_tools"`
	// UnknownDepartments lists agents whose department fell back to the
	// default. They do not affect Status.
	UnknownDepartments []string `json:"unknown_departments"`
	Status             string   `json:"status"`
}

// ValidateWorkforce reloads every manifest, checks it against the manifest
// schema and reports assigned tools the catalog does not provide.
func (d *Directory) ValidateWorkforce(ctx context.Context) (IntegrityReport, error) {
	schema, err := compiledManifestSchema()
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("compile manifest schema: %w", err)
	}

	s, err := d.current(ctx, true)
	if err != nil {
		return IntegrityReport{}, err
	}

	known := make(map[string]struct{})
	for _, n := range d.catalog.Names() {
		known[n] = struct{}{}
	}

	report := IntegrityReport{
		TotalAgents:        len(s.defs),
		BrokenManifests:    []string{},
		MissingTools:       []string{},
		UnknownDepartments: []string{},
		Status:             StatusNominal,
	}
	for _, b := range s.broken {
		report.BrokenManifests = append(report.BrokenManifests, fmt.Sprintf("%s: Unreadable - %v", b.origin, b.err))
	}

	for _, def := range s.defs {
		doc, err := toJSONValue(s.raw[def.Origin])
		if err != nil {
			report.BrokenManifests = append(report.BrokenManifests, fmt.Sprintf("%s: Schema Mismatch - %v", def.Name, err))
		} else if result := schema.Validate(doc); !result.IsValid() {
			report.BrokenManifests = append(report.BrokenManifests, fmt.Sprintf("%s: Schema Mismatch - %s", def.Name, result.Error()))
		}

		if raw := def.Manifest.Professional.Department; !KnownDepartment(raw) {
			report.UnknownDepartments = append(report.UnknownDepartments,
				fmt.Sprintf("%s: department %q reassigned to %s", def.Name, raw, domain.DefaultDepartment))
		}

		for _, t := range def.Manifest.Professional.ToolsAssigned {
			if _, ok := known[t]; !ok {
				report.MissingTools = append(report.MissingTools, fmt.Sprintf("%s requires unknown tool: %s", def.Name, t))
			}
		}
	}

	if len(report.BrokenManifests) > 0 || len(report.MissingTools) > 0 {
		report.Status = StatusCriticalErrors
	}
	return report, nil
}

// toJSONValue re-encodes a YAML or JSON document into the value shapes
// encoding/json produces, which is what the schema validator expects.
func toJSONValue(data []byte) (any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}
