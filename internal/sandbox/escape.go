package sandbox

import (
	"fmt"
	"strings"
)

// escapeString escapes a host string for embedding inside a double-quoted
// guest string literal. Generated source text is built by interpolation, so
// every embedded string must pass through here; U+2028/U+2029 are line
// terminators in the guest language even though JSON allows them raw.
func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\u2028':
			b.WriteString(`\u2028`)
		case '\u2029':
			b.WriteString(`\u2029`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// quote wraps s in double quotes after escaping.
func quote(s string) string {
	return `"` + escapeString(s) + `"`
}
