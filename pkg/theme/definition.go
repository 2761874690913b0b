package theme

import (
	"encoding/json"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// Definition is a theme file as shipped, in VS Code's JSON layout. Legacy
// tmTheme-style themes use Settings instead of TokenColors.
type Definition struct {
	Name        string            `json:"name"`
	Type        string            `json:"type,omitempty"`
	Colors      map[string]string `json:"colors,omitempty"`
	TokenColors []TokenColor      `json:"tokenColors,omitempty"`
	Settings    []TokenColor      `json:"settings,omitempty"`
}

func UnmarshalDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Errorf("unmarshaling theme: %w", err)
	}
	return &d, nil
}

type TokenColor struct {
	Name     string    `json:"name,omitempty"`
	Scope    ScopeList `json:"scope,omitempty"`
	Settings Settings  `json:"settings"`
}

type Settings struct {
	Foreground string `json:"foreground,omitempty"`
	Background string `json:"background,omitempty"`
	// nil means unset; an empty string explicitly clears inherited styles.
	FontStyle *string `json:"fontStyle,omitempty"`
}

// ScopeList accepts either a single comma separated string or an array.
type ScopeList []string

func (s *ScopeList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = splitSelectors(one)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.Errorf("scope must be a string or a list of strings: %w", err)
	}
	out := make([]string, 0, len(many))
	for _, m := range many {
		out = append(out, splitSelectors(m)...)
	}
	*s = out
	return nil
}

func splitSelectors(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
