// Package diagnostic holds the facts a static analysis pass reports about a
// source text: symbols with quick info, and diagnostics.
package diagnostic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/walteh/tmtokens/pkg/position"
	"gitlab.com/tozd/go/errors"
)

// Severity represents the severity level of a diagnostic
type Severity int

const (
	SeverityError       Severity = 1
	SeverityWarning     Severity = 2
	SeverityInformation Severity = 3
	SeverityHint        Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	case SeverityHint:
		return "hint"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "error":
		*s = SeverityError
	case "warning", "warn":
		*s = SeverityWarning
	case "info", "information":
		*s = SeverityInformation
	case "hint":
		*s = SeverityHint
	default:
		return errors.Errorf("unknown severity %q", string(b))
	}
	return nil
}

// Diagnostic represents a single diagnostic message
type Diagnostic struct {
	Message  string        `json:"message"`
	Code     string        `json:"code,omitempty"`
	Severity Severity      `json:"severity"`
	Span     position.Span `json:"span"`
}

func (d Diagnostic) String() string {
	if d.Code != "" {
		return fmt.Sprintf("%s %s %s: %s", d.Span, d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s %s: %s", d.Span, d.Severity, d.Message)
}

// Format is String with the span written as a one-based line:column of its
// start within text.
func (d Diagnostic) Format(text string) string {
	start := d.Span.Range(text).Start
	loc := fmt.Sprintf("%d:%d", start.Line+1, start.Character+1)
	if d.Code != "" {
		return fmt.Sprintf("%s %s %s: %s", loc, d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s %s: %s", loc, d.Severity, d.Message)
}

// QuickInfo is what an editor shows when hovering a symbol.
type QuickInfo struct {
	DisplayText   string `json:"displayText"`
	Documentation string `json:"documentation,omitempty"`
}

type Symbol struct {
	Span      position.Span `json:"span"`
	QuickInfo *QuickInfo    `json:"quickInfo,omitempty"`
}

// Metadata is everything an analysis pass reports for one source text. All
// spans are absolute byte offsets into that text.
type Metadata struct {
	Symbols     []Symbol     `json:"symbols,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Errors returns the error-severity diagnostics, in source order.
func (m *Metadata) Errors() []Diagnostic {
	if m == nil {
		return nil
	}
	var out []Diagnostic
	for _, d := range m.Diagnostics {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Span.Start < out[j].Span.Start
	})
	return out
}

func (m *Metadata) IsEmpty() bool {
	return m == nil || (len(m.Symbols) == 0 && len(m.Diagnostics) == 0)
}
