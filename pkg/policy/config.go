package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Set is a collection of table policies, usually loaded from the policy
// file at bootstrap.
type Set struct {
	Policies []TablePolicy `yaml:"policies" json:"policies"`
}

// LoadFile reads and validates a policy set from a YAML file.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML policy set.
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if len(set.Policies) == 0 {
		return nil, fmt.Errorf("policy file declares no policies")
	}

	seen := make(map[string]bool, len(set.Policies))
	for idx := range set.Policies {
		p := &set.Policies[idx]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %d: %w", idx, err)
		}
		if seen[p.Table] {
			return nil, fmt.Errorf("duplicate policy for table %s", p.Table)
		}
		seen[p.Table] = true
	}
	return &set, nil
}
