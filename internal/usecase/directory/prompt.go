package directory

import (
	"fmt"
	"strings"

	"realmforge/internal/domain"
)

// BuildSystemPrompt renders the persona prompt for an instance. Output is a
// pure function of the instance.
func BuildSystemPrompt(inst *domain.AgentInstance) string {
	attrs := inst.Manifest.Attributes

	style := attrs.CommunicationStyle
	if style == "" {
		style = "Professional"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the %s in the %s department.\n", inst.Name, inst.Role(), inst.Department)
	fmt.Fprintf(&b, "Your Backstory: %s\n", attrs.Backstory)
	fmt.Fprintf(&b, "Communication Style: %s\n", style)
	fmt.Fprintf(&b, "Personality Traits: %s\n", strings.Join(attrs.Personality, ", "))
	b.WriteString("STRICT PROTOCOL: You prefer action over words. Adhere to 'Commit Code' protocol.\n")
	fmt.Fprintf(&b, "You have access to the following tools in your arsenal: %s", strings.Join(inst.Tools, ", "))
	if inst.Privileged() {
		b.WriteString("\nGOD_MODE is ENABLED. You have full system override permissions.")
	}
	return b.String()
}
