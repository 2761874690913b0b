// Package position models absolute byte spans in a source text and converts
// them to line and column places.
package position

import (
	"fmt"
	"strings"
)

type Place struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Place `json:"start"`
	End   Place `json:"end"`
}

// Span is a half-open [Start, End) byte range in a source text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func NewSpan(start, end int) Span {
	if end < start {
		end = start
	}
	return Span{Start: start, End: end}
}

func (s Span) Len() int {
	return s.End - s.Start
}

func (s Span) IsEmpty() bool {
	return s.End <= s.Start
}

// Contains reports whether offset lies inside the span. A span never
// contains its own End.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start && offset < s.End
}

// Overlaps reports whether two spans share at least one byte. Spans that
// merely touch (one ends where the other starts) do not overlap. An empty
// span overlaps the span containing its offset, so a zero-width annotation
// attaches to exactly one token.
func (s Span) Overlaps(o Span) bool {
	if o.IsEmpty() {
		return s.Contains(o.Start)
	}
	if s.IsEmpty() {
		return o.Contains(s.Start)
	}
	return s.Start < o.End && o.Start < s.End
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// PlaceOf returns the zero-based line and column of offset. Columns count
// bytes. Offsets past the end of text are clamped.
func PlaceOf(text string, offset int) Place {
	if offset > len(text) {
		offset = len(text)
	}
	if offset <= 0 {
		return Place{}
	}

	before := text[:offset]
	line := strings.Count(before, "\n")
	lastNewline := strings.LastIndexByte(before, '\n')

	return Place{Line: line, Character: offset - lastNewline - 1}
}

// Range converts the span to line and column places within text.
func (s Span) Range(text string) Range {
	return Range{
		Start: PlaceOf(text, s.Start),
		End:   PlaceOf(text, s.End),
	}
}
