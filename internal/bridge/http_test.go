package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "token-123", r.Header.Get("X-Auth"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	b := testBridge(t)
	res := b.Fetch(context.Background(), srv.URL, map[string]string{"X-Auth": "token-123"})

	require.True(t, res.OK, "error: %s", res.Error)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, `{"ok":true}`, res.Body)
	assert.False(t, res.Binary)
	assert.Equal(t, "application/json", res.Headers["Content-Type"])
}

func TestFetchSanitizesBody(t *testing.T) {
	// BOM prefix plus an embedded NUL: both common in the wild, both fatal
	// to the guest's JSON parser.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte("\xef\xbb\xbf{\"title\":\"a\x00b\"}"))
	}))
	defer srv.Close()

	b := testBridge(t)
	res := b.Fetch(context.Background(), srv.URL, nil)

	require.True(t, res.OK)
	assert.Equal(t, `{"title":"ab"}`, res.Body)
}

func TestFetchBinaryBody(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer srv.Close()

	b := testBridge(t)
	res := b.Fetch(context.Background(), srv.URL, nil)

	require.True(t, res.OK)
	assert.True(t, res.Binary)
	assert.Equal(t, Base64Encode(string(payload)), res.Body)
}

func TestFetchNetworkFailureIsData(t *testing.T) {
	b := testBridge(t)

	// Closed port; must come back as an error-shaped result, not a fault.
	res := b.Fetch(context.Background(), "http://127.0.0.1:1/nothing", nil)

	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
}

func TestFetchCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	b := testBridge(t)

	done := make(chan HTTPResult, 1)
	ctx, cancel := context.WithCancel(b.Context())
	defer cancel()
	go func() {
		done <- b.Fetch(ctx, srv.URL, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	b.Cancel()

	select {
	case res := <-done:
		assert.False(t, res.OK)
		assert.Equal(t, "cancelled", res.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not abort after Cancel")
	}
}

func TestCancelRearms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	b := testBridge(t)
	b.Cancel()

	// The bridge stays usable after Cancel; only Close is terminal.
	res := b.Fetch(context.Background(), srv.URL, nil)
	assert.True(t, res.OK)
	assert.False(t, b.Closed())

	b.Close()
	assert.True(t, b.Closed())
}

func TestPostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "naruto", r.PostFormValue("q"))
		assert.Equal(t, "2", r.PostFormValue("page"))
		w.Write([]byte("accepted"))
	}))
	defer srv.Close()

	b := testBridge(t)
	res := b.PostForm(context.Background(), srv.URL, map[string]string{"q": "naruto", "page": "2"}, nil)

	require.True(t, res.OK)
	assert.Equal(t, "accepted", res.Body)
}

func TestParseForm(t *testing.T) {
	form := ParseForm("q=one+piece&page=3")
	assert.Equal(t, "one piece", form["q"])
	assert.Equal(t, "3", form["page"])

	assert.Empty(t, ParseForm("%zz=broken"))
}
