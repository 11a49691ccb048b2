package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Declaration describes one function the engine may call mid-conversation.
// Declarations arrive as free-form JSON from the configuration store and
// are validated once at load so a malformed entry fails fast instead of
// breaking dispatch mid-call.
type Declaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func (d Declaration) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("tool declaration missing name")
	}
	if len(d.Parameters) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(d.Parameters, &schema); err != nil {
			return fmt.Errorf("tool %q parameters are not a JSON object: %w", d.Name, err)
		}
	}
	return nil
}

// ParseDeclarations parses a stored tools blob. Accepts either a JSON
// array of declarations or a single declaration object; an empty blob
// yields no tools.
func ParseDeclarations(raw string) ([]Declaration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var decls []Declaration
	if err := json.Unmarshal([]byte(raw), &decls); err != nil {
		var single Declaration
		if err2 := json.Unmarshal([]byte(raw), &single); err2 != nil {
			return nil, fmt.Errorf("parse tool declarations: %w", err)
		}
		decls = []Declaration{single}
	}

	seen := make(map[string]bool, len(decls))
	for _, d := range decls {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate tool declaration %q", d.Name)
		}
		seen[d.Name] = true
	}
	return decls, nil
}
