package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    Category
	}{
		{"Get \"https://example.com\": dial tcp: lookup example.com: no such host", CategoryNetwork},
		{"connection refused", CategoryNetwork},
		{"context deadline exceeded", CategoryTimeout},
		{"request timed out after 30s", CategoryTimeout},
		{"HTTP 404 Not Found", CategoryNotFound},
		{"status 403 Forbidden", CategoryAccessDenied},
		{"blocked by Cloudflare", CategoryAccessDenied},
		{"502 Bad Gateway", CategoryServer},
		{"TypeError: Cannot read property 'title' of undefined", CategoryInternal},
		{"searchAnime is not a function", CategoryInternal},
		{"something completely unexpected", CategoryUnknown},
		{"", CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.message))
		})
	}
}

func TestFailureError(t *testing.T) {
	f := NewFailure("dial tcp: connection refused")

	assert.Equal(t, CategoryNetwork, f.Category)
	assert.Contains(t, f.Error(), "network_unreachable")
	assert.Contains(t, f.Error(), "connection refused")
}

func TestTimeoutFailure(t *testing.T) {
	f := TimeoutFailure()
	assert.Equal(t, CategoryTimeout, f.Category)
	assert.Equal(t, "timeout", f.Message)
}

func TestManifestValidate(t *testing.T) {
	m := &Manifest{ID: "en.example", Name: "Example", Version: "1.0.0"}
	require.NoError(t, m.Validate())

	assert.Error(t, (&Manifest{Name: "x", Version: "1"}).Validate())
	assert.Error(t, (&Manifest{ID: "x", Version: "1"}).Validate())
	assert.Error(t, (&Manifest{ID: "x", Name: "y"}).Validate())
}

func TestDecodeSearchPage(t *testing.T) {
	page, err := DecodeSearchPage([]byte(`{"hasNextPage":true,"results":[{"id":"1","title":"One","url":"/1"}]}`))
	require.NoError(t, err)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "One", page.Results[0].Title)

	// missing results normalizes to empty slice
	page, err = DecodeSearchPage([]byte(`{"hasNextPage":false}`))
	require.NoError(t, err)
	assert.NotNil(t, page.Results)
	assert.Empty(t, page.Results)

	_, err = DecodeSearchPage([]byte(`"not an object`))
	assert.Error(t, err)
}

func TestDecodeDetail(t *testing.T) {
	d, err := DecodeDetail([]byte(`{"title":"Show","episodes":[{"number":1,"url":"/ep1"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "Show", d.Title)
	assert.NotNil(t, d.Genres)
	require.Len(t, d.Episodes, 1)
	assert.Equal(t, float64(1), d.Episodes[0].Number)
}

func TestDecodeSourceBundle(t *testing.T) {
	b, err := DecodeSourceBundle([]byte(`{"sources":[{"url":"https://cdn/x.m3u8","quality":"1080p","type":"hls"}]}`))
	require.NoError(t, err)
	require.Len(t, b.Sources, 1)
	assert.Equal(t, "hls", b.Sources[0].Type)
	assert.NotNil(t, b.Subtitles)
}
