package highlight

import (
	"strings"

	"github.com/walteh/tmtokens/pkg/lexer"
	"github.com/walteh/tmtokens/pkg/style"
	"github.com/walteh/tmtokens/pkg/theme"
)

// StyledToken is one themed span of the source. Start and End are absolute
// byte offsets into the source passed to the call.
type StyledToken struct {
	Value  string
	Start  int
	End    int
	Scopes []string
	Style  style.Record

	// IsBaseColor is set when every requested theme paints the token with
	// its default foreground and nothing else.
	IsBaseColor bool
	// IsWhitespace is set for tokens made only of spaces and tabs.
	IsWhitespace bool
	// HasTextStyles is set when any theme applies italic, bold, underline
	// or strikethrough.
	HasTextStyles bool
}

func styleToken(tok lexer.Token, offset int, themes []*theme.Theme) StyledToken {
	styles := make([]style.Style, len(themes))
	base, textStyles := true, false
	for k, t := range themes {
		styles[k] = t.Match(tok.Scopes)
		base = base && t.IsBase(styles[k])
		textStyles = textStyles || styles[k].HasTextStyles()
	}

	return StyledToken{
		Value:         tok.Value,
		Start:         offset + tok.Start,
		End:           offset + tok.End,
		Scopes:        tok.Scopes,
		Style:         style.Merge(styles...),
		IsBaseColor:   base,
		IsWhitespace:  isWhitespace(tok.Value),
		HasTextStyles: textStyles,
	}
}

// plainToken is the single token of a non-empty line in a plain text
// language.
func plainToken(line string, offset int, themes []*theme.Theme) StyledToken {
	styles := make([]style.Style, len(themes))
	for k, t := range themes {
		styles[k] = style.Style{Color: t.Foreground}
	}
	return StyledToken{
		Value:        line,
		Start:        offset,
		End:          offset + len(line),
		Scopes:       []string{plainScope},
		Style:        style.Merge(styles...),
		IsBaseColor:  true,
		IsWhitespace: isWhitespace(line),
	}
}

func isWhitespace(s string) bool {
	return s != "" && strings.Trim(s, " \t") == ""
}

// lines yields each line of source with its byte offset. Lines end at "\n"
// or "\r\n"; the terminator belongs to no line. A trailing newline produces a
// final empty line.
func lines(source string, yield func(offset int, line string) bool) {
	offset := 0
	for {
		i := strings.IndexByte(source[offset:], '\n')
		if i < 0 {
			yield(offset, source[offset:])
			return
		}
		line := source[offset : offset+i]
		line = strings.TrimSuffix(line, "\r")
		if !yield(offset, line) {
			return
		}
		offset += i + 1
	}
}
