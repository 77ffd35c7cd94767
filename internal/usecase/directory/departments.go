package directory

import (
	"strings"

	"realmforge/internal/domain"
)

var departmentIndex = func() map[string]string {
	m := make(map[string]string, len(domain.Departments))
	for _, d := range domain.Departments {
		m[strings.ToLower(d)] = d
	}
	return m
}()

// NormalizeDepartment maps a free-form label onto a known silo. Unknown and
// empty labels map to the default department.
func NormalizeDepartment(raw string) string {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", "_"))
	if d, ok := departmentIndex[key]; ok {
		return d
	}
	return domain.DefaultDepartment
}

// KnownDepartment reports whether raw names a silo exactly after
// normalization, without falling back.
func KnownDepartment(raw string) bool {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", "_"))
	_, ok := departmentIndex[key]
	return ok
}
