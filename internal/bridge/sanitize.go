package bridge

import (
	"bytes"
	"io"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

const bom = "\ufeff"

// Sanitize strips a leading byte-order mark and any control bytes other than
// tab, newline, and carriage return. Real-world servers emit both, and the
// guest's strict JSON parser rejects them. Idempotent; clean ASCII input is
// returned unchanged without allocation.
func Sanitize(s string) string {
	if clean(s) {
		return s
	}

	for strings.HasPrefix(s, bom) {
		s = s[len(bom):]
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func clean(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 {
			return false
		}
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			return false
		}
		if c == 0x7f {
			return false
		}
	}
	return true
}

// DetectCharset detects the charset of raw bytes, defaulting to utf-8.
func DetectCharset(data []byte) string {
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// DecodeBody converts a response body to UTF-8. The Content-Type charset
// parameter wins when present; otherwise the charset is detected from the
// bytes. Undecodable input falls back to the raw string.
func DecodeBody(data []byte, contentType string) string {
	ct := contentType
	if !strings.Contains(strings.ToLower(ct), "charset=") {
		ct = "text/plain; charset=" + DetectCharset(data)
	}

	reader, err := charset.NewReader(bytes.NewReader(data), ct)
	if err != nil {
		return string(data)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}
