package theme

import (
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// normalizeColor lower-cases hex colors and expands the short #rgb and #rgba
// forms. An opaque alpha channel is dropped. Anything that is not a hex color
// (named colors, CSS variables) is returned trimmed.
func normalizeColor(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		return s
	}

	hex, alpha := strings.ToLower(s), ""
	switch len(hex) {
	case 5:
		alpha = strings.Repeat(hex[4:5], 2)
		hex = hex[:4]
	case 9:
		alpha = hex[7:]
		hex = hex[:7]
	}

	c, err := colorful.Hex(hex)
	if err != nil {
		return strings.ToLower(s)
	}

	out := c.Hex()
	if alpha != "" && alpha != "ff" {
		out += alpha
	}
	return out
}
