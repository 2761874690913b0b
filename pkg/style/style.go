// Package style holds the resolved look of a token.
//
// A Record is either Literal (one theme was requested, plain CSS properties)
// or Indexed (several themes, one slot of custom properties per theme so the
// renderer can switch themes without re-tokenizing). The two never mix.
package style

import (
	"fmt"
	"strings"
)

type FontStyle uint8

const (
	Italic FontStyle = 1 << iota
	Bold
	Underline
	Strikethrough
)

const FontStyleNone FontStyle = 0

// ParseFontStyle reads a TextMate fontStyle string such as "italic bold".
// Unknown words are ignored.
func ParseFontStyle(s string) FontStyle {
	var fs FontStyle
	for _, word := range strings.Fields(s) {
		switch strings.ToLower(word) {
		case "italic":
			fs |= Italic
		case "bold":
			fs |= Bold
		case "underline":
			fs |= Underline
		case "strikethrough":
			fs |= Strikethrough
		}
	}
	return fs
}

func (f FontStyle) String() string {
	var words []string
	if f&Italic != 0 {
		words = append(words, "italic")
	}
	if f&Bold != 0 {
		words = append(words, "bold")
	}
	if f&Underline != 0 {
		words = append(words, "underline")
	}
	if f&Strikethrough != 0 {
		words = append(words, "strikethrough")
	}
	return strings.Join(words, " ")
}

// Style is how one theme paints one token.
type Style struct {
	Color           string
	BackgroundColor string
	FontStyle       FontStyle
}

func (s Style) HasTextStyles() bool {
	return s.FontStyle != FontStyleNone
}

func (s Style) fontStyle() string {
	if s.FontStyle&Italic != 0 {
		return "italic"
	}
	return ""
}

func (s Style) fontWeight() string {
	if s.FontStyle&Bold != 0 {
		return "bold"
	}
	return ""
}

func (s Style) textDecoration() string {
	var parts []string
	if s.FontStyle&Underline != 0 {
		parts = append(parts, "underline")
	}
	if s.FontStyle&Strikethrough != 0 {
		parts = append(parts, "line-through")
	}
	return strings.Join(parts, " ")
}

// Record is the style attached to a StyledToken.
type Record interface {
	// Properties returns the inline style key/value pairs for the renderer.
	Properties() map[string]string
	// Slot returns the style for the k-th requested theme.
	Slot(k int) (Style, bool)
	// Len is the number of themes the record covers.
	Len() int

	record()
}

type Literal struct {
	Style
}

func (Literal) record() {}

func (l Literal) Len() int {
	return 1
}

func (l Literal) Slot(k int) (Style, bool) {
	if k != 0 {
		return Style{}, false
	}
	return l.Style, true
}

func (l Literal) Properties() map[string]string {
	props := map[string]string{}
	set(props, "color", l.Color)
	set(props, "background-color", l.BackgroundColor)
	set(props, "font-style", l.fontStyle())
	set(props, "font-weight", l.fontWeight())
	set(props, "text-decoration", l.textDecoration())
	return props
}

type Indexed struct {
	Slots []Style
}

func (Indexed) record() {}

func (x Indexed) Len() int {
	return len(x.Slots)
}

func (x Indexed) Slot(k int) (Style, bool) {
	if k < 0 || k >= len(x.Slots) {
		return Style{}, false
	}
	return x.Slots[k], true
}

func (x Indexed) Properties() map[string]string {
	props := map[string]string{}
	for k, s := range x.Slots {
		set(props, Key(k, "fg"), s.Color)
		set(props, Key(k, "bg"), s.BackgroundColor)
		set(props, Key(k, "fs"), s.fontStyle())
		set(props, Key(k, "fw"), s.fontWeight())
		set(props, Key(k, "td"), s.textDecoration())
	}
	return props
}

// Key returns the custom property name for slot k, e.g. Key(1, "fg") is "--1fg".
func Key(k int, suffix string) string {
	return fmt.Sprintf("--%d%s", k, suffix)
}

func set(props map[string]string, key, value string) {
	if value != "" {
		props[key] = value
	}
}

// Merge composes one style per requested theme into a record: Literal for a
// single theme, Indexed otherwise.
func Merge(styles ...Style) Record {
	if len(styles) == 1 {
		return Literal{Style: styles[0]}
	}
	slots := make([]Style, len(styles))
	copy(slots, styles)
	return Indexed{Slots: slots}
}
