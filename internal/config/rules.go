package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/qbtrules/qbtrules/internal/rules"
)

// LoadRules reads and strictly decodes a rules document. Unknown top-level
// or rule keys fail the load; schema validation (resolve + compile) is the
// caller's responsibility via rules.ValidateDocument.
func LoadRules(path string) (*rules.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc rules.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}
	names := make(map[string]bool, len(doc.Rules))
	for i, rule := range doc.Rules {
		if rule.Name == "" {
			return nil, fmt.Errorf("rules file %s: rule %d has no name", path, i)
		}
		if names[rule.Name] {
			return nil, fmt.Errorf("rules file %s: duplicate rule name %q", path, rule.Name)
		}
		names[rule.Name] = true
	}

	return &doc, nil
}
