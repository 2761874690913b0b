// Package tmlanguage models raw TextMate grammars as they are shipped in
// *.tmLanguage.json and *.tmLanguage.yaml files.
//
// The types here are descriptors only: they are decoded once, never mutated,
// and compiled into an executable rule table by the grammar package.
package tmlanguage

import (
	"encoding/json"
	"strconv"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

func UnmarshalGrammar(data []byte) (*Grammar, error) {
	var r Grammar
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Errorf("unmarshaling grammar: %w", err)
	}
	return &r, nil
}

func UnmarshalGrammarYAML(data []byte) (*Grammar, error) {
	var r Grammar
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errors.Errorf("unmarshaling yaml grammar: %w", err)
	}
	return &r, nil
}

func (r *Grammar) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

type Grammar struct {
	Patterns []Pattern `json:"patterns" yaml:"patterns"`
	// a dictionary of rules which can be included from other places in the
	// grammar with "#name".
	Repository map[string]Pattern `json:"repository,omitempty" yaml:"repository,omitempty"`
	// file type extensions the grammar should be used with by default.
	FileTypes      []string `json:"fileTypes,omitempty" yaml:"fileTypes,omitempty"`
	FirstLineMatch string   `json:"firstLineMatch,omitempty" yaml:"firstLineMatch,omitempty"`
	Name           string   `json:"name,omitempty" yaml:"name,omitempty"`
	// dot-separated unique name for the grammar, e.g. source.css or text.html.markdown.
	ScopeName string `json:"scopeName" yaml:"scopeName"`
	// other scopes this grammar pulls in through includes. Informational.
	EmbeddedLangs []string `json:"embeddedLangs,omitempty" yaml:"embeddedLangs,omitempty"`
	UUID          string   `json:"uuid,omitempty" yaml:"uuid,omitempty"`
}

type Pattern struct {
	// when set, the end pattern is tried after the nested patterns instead of before.
	ApplyEndPatternLast Flag `json:"applyEndPatternLast,omitempty" yaml:"applyEndPatternLast,omitempty"`
	// begin/end and begin/while open a block that may span several lines. Captures
	// from begin can be referenced in end/while with back-references.
	Begin         string   `json:"begin,omitempty" yaml:"begin,omitempty"`
	BeginCaptures Captures `json:"beginCaptures,omitempty" yaml:"beginCaptures,omitempty"`
	// short-hand for beginCaptures and endCaptures (or the match captures).
	Captures    Captures `json:"captures,omitempty" yaml:"captures,omitempty"`
	Comment     string   `json:"comment,omitempty" yaml:"comment,omitempty"`
	ContentName string   `json:"contentName,omitempty" yaml:"contentName,omitempty"`
	Disabled    Flag     `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	End         string   `json:"end,omitempty" yaml:"end,omitempty"`
	EndCaptures Captures `json:"endCaptures,omitempty" yaml:"endCaptures,omitempty"`
	// reference to $self, $base, #repository-item, another.scope or another.scope#item.
	Include  string    `json:"include,omitempty" yaml:"include,omitempty"`
	Match    string    `json:"match,omitempty" yaml:"match,omitempty"`
	Name     string    `json:"name,omitempty" yaml:"name,omitempty"`
	Patterns []Pattern `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	// nested repository, visible to includes from inside this pattern.
	Repository    map[string]Pattern `json:"repository,omitempty" yaml:"repository,omitempty"`
	While         string             `json:"while,omitempty" yaml:"while,omitempty"`
	WhileCaptures Captures           `json:"whileCaptures,omitempty" yaml:"whileCaptures,omitempty"`
}

// Captures maps a capture group index ("0", "1", ...) to the pattern that
// names it.
type Captures map[string]Pattern

// Indexed returns the captures as a slice addressed by group number. Missing
// groups are nil. Non-numeric keys are ignored.
func (c Captures) Indexed() []*Pattern {
	if len(c) == 0 {
		return nil
	}

	max := -1
	for k := range c {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			continue
		}
		if i > max {
			max = i
		}
	}
	if max < 0 {
		return nil
	}

	out := make([]*Pattern, max+1)
	for k, p := range c {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			continue
		}
		p := p
		out[i] = &p
	}
	return out
}

// Flag is a TextMate boolean, which grammars write as either 1/0 or true/false.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag(b)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Errorf("flag must be a boolean or a number: %w", err)
	}
	*f = n != 0
	return nil
}

func (f *Flag) UnmarshalYAML(value *yaml.Node) error {
	var b bool
	if err := value.Decode(&b); err == nil {
		*f = Flag(b)
		return nil
	}
	var n float64
	if err := value.Decode(&n); err != nil {
		return errors.Errorf("flag must be a boolean or a number: %w", err)
	}
	*f = n != 0
	return nil
}
