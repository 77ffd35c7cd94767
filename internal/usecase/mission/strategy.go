package mission

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"realmforge/internal/domain"
)

// LoadStrategy reads a strategy document. Files ending in .json are decoded
// as JSON, everything else as YAML. The name defaults to the file stem.
func LoadStrategy(path string) (domain.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("read strategy %s: %w", path, err)
	}
	s, err := ParseStrategy(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// ParseStrategy decodes a strategy document. A bare list of steps is
// accepted as well as an object with a steps field.
func ParseStrategy(data []byte, isJSON bool) (domain.Strategy, error) {
	var s domain.Strategy
	if isJSON {
		if err := json.Unmarshal(data, &s); err != nil {
			var steps []domain.Step
			if json.Unmarshal(data, &steps) != nil {
				return domain.Strategy{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
			}
			s.Steps = steps
		}
		return s, nil
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		var steps []domain.Step
		if yaml.Unmarshal(data, &steps) != nil {
			return domain.Strategy{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		s.Steps = steps
	}
	return s, nil
}

// SingleStep wraps one task as a strategy for ad hoc missions.
func SingleStep(dept, action string) domain.Strategy {
	return domain.Strategy{Name: "adhoc", Steps: []domain.Step{{Department: dept, Action: action}}}
}
