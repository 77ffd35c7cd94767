package domain

import "sort"

// DefaultDepartment is the silo used when a label is missing or unknown.
const DefaultDepartment = "Architect"

// Departments is the closed set of known silos.
var Departments = []string{
	"Architect",
	"Data_Intelligence",
	"Software_Engineering",
	"DevOps_Infrastructure",
	"Cybersecurity",
	"Financial_Ops",
	"Legal_Compliance",
	"Research_Development",
	"Executive_Board",
	"Marketing_PR",
	"Human_Capital",
	"Quality_Assurance",
	"Facility_Management",
}

// Manifest is the parsed shape of an agent manifest file.
type Manifest struct {
	Identity       ManifestIdentity     `json:"identity"        yaml:"identity"`
	Professional   ManifestProfessional `json:"professional"    yaml:"professional"`
	Attributes     ManifestAttributes   `json:"attributes"      yaml:"attributes"`
	Compliance     ManifestCompliance   `json:"compliance"      yaml:"compliance"`
	SystemMetadata ManifestSystem       `json:"system_metadata" yaml:"system_metadata"`
}

type ManifestIdentity struct {
	FullName          string `json:"full_name"          yaml:"full_name"`
	EmployeeID        string `json:"employee_id"        yaml:"employee_id"`
	CreatedAt         string `json:"created_at"         yaml:"created_at"`
	SecurityClearance string `json:"security_clearance" yaml:"security_clearance"`
}

type ManifestProfessional struct {
	Department     string   `json:"department"      yaml:"department"`
	FunctionalRole string   `json:"functional_role" yaml:"functional_role"`
	RoleTitle      string   `json:"role_title"      yaml:"role_title"`
	Skills         []string `json:"skills"          yaml:"skills"`
	ToolsAssigned  []string `json:"tools_assigned"  yaml:"tools_assigned"`
}

type ManifestAttributes struct {
	Backstory          string   `json:"backstory"           yaml:"backstory"`
	CommunicationStyle string   `json:"communication_style" yaml:"communication_style"`
	Personality        []string `json:"personality"         yaml:"personality"`
	DeploymentStatus   string   `json:"deployment_status"   yaml:"deployment_status"`
}

type ManifestCompliance struct {
	EmployeeID        string `json:"employee_id"        yaml:"employee_id"`
	ContractVersion   string `json:"contract_version"   yaml:"contract_version"`
	EmploymentType    string `json:"employment_type"    yaml:"employment_type"`
	LegalJurisdiction string `json:"legal_jurisdiction" yaml:"legal_jurisdiction"`
	WorkAuthorization string `json:"work_authorization" yaml:"work_authorization"`
}

type ManifestSystem struct {
	GodModeEnabled bool   `json:"god_mode_enabled" yaml:"god_mode_enabled"`
	SchemaVersion  string `json:"schema_version"   yaml:"schema_version"`
	ProjectRoot    string `json:"project_root"     yaml:"project_root"`
}

// AgentDefinition is a cached, parsed specialist manifest.
type AgentDefinition struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Department string   `json:"department"` // normalized silo
	Origin     string   `json:"origin"`     // manifest path or source label
	Manifest   Manifest `json:"manifest"`
}

// Role returns the role title, defaulting to "Specialist".
func (d AgentDefinition) Role() string {
	if d.Manifest.Professional.RoleTitle != "" {
		return d.Manifest.Professional.RoleTitle
	}
	return "Specialist"
}

// Privileged reports whether the manifest carries the elevated-privilege flag.
func (d AgentDefinition) Privileged() bool {
	return d.Manifest.SystemMetadata.GodModeEnabled
}

// AgentInstance is a live, tool-bound specialist. It is owned by the step
// that created it and never shared.
type AgentInstance struct {
	AgentDefinition
	Tools      []string `json:"tools"`
	authorized map[string]struct{}
}

// NewAgentInstance binds def to the given authorized tool names.
func NewAgentInstance(def AgentDefinition, tools []string) *AgentInstance {
	set := make(map[string]struct{}, len(tools))
	ordered := make([]string, 0, len(tools))
	for _, t := range tools {
		if _, dup := set[t]; dup {
			continue
		}
		set[t] = struct{}{}
		ordered = append(ordered, t)
	}
	sort.Strings(ordered)
	return &AgentInstance{AgentDefinition: def, Tools: ordered, authorized: set}
}

// Authorized reports whether the instance may invoke the named tool.
func (a *AgentInstance) Authorized(tool string) bool {
	_, ok := a.authorized[tool]
	return ok
}
