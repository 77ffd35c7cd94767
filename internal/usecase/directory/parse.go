package directory

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"realmforge/internal/domain"
)

// DefaultAgentID is assigned to manifests without an employee id.
const DefaultAgentID = "GEN-0000"

// parseManifest decodes one manifest. YAML is a superset of JSON, so a single
// decoder handles both formats.
func parseManifest(raw RawManifest) (domain.AgentDefinition, error) {
	if len(bytes.TrimSpace(raw.Data)) == 0 {
		return domain.AgentDefinition{}, domain.NewSubSystemError("directory", "Directory.parse", domain.ErrManifestMalformed, raw.Origin+": empty document")
	}

	var m domain.Manifest
	if err := yaml.Unmarshal(raw.Data, &m); err != nil {
		return domain.AgentDefinition{}, domain.NewSubSystemError("directory", "Directory.parse", domain.ErrManifestMalformed,
			fmt.Sprintf("%s: %v", raw.Origin, err))
	}

	name := strings.TrimSpace(m.Identity.FullName)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(raw.Origin), filepath.Ext(raw.Origin))
	}
	id := strings.TrimSpace(m.Identity.EmployeeID)
	if id == "" {
		id = DefaultAgentID
	}

	return domain.AgentDefinition{
		ID:         id,
		Name:       name,
		Department: NormalizeDepartment(m.Professional.Department),
		Origin:     raw.Origin,
		Manifest:   m,
	}, nil
}
