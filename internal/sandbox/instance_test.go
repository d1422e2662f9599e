package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yomuko/yomuko/internal/extension"
	"github.com/yomuko/yomuko/internal/logging"
)

const simpleScript = `
var manifest = {
	id: "en.simple",
	name: "Simple",
	version: "1.0.0",
	lang: "en",
	author: "tester"
};

function createSource() {
	return {
		search: function(query, page) {
			return {
				hasNextPage: page < 2,
				results: [{ id: "1", title: "Result for " + query, url: "/a/1" }]
			};
		},
		getDetail: function(id) {
			return {
				title: "Title " + id,
				genres: ["action"],
				episodes: [{ number: 1, title: "First", url: "/ep/1" }]
			};
		},
		getPlayableSources: function(id) {
			return {
				sources: [{ url: "https://cdn/" + id + ".m3u8", quality: "1080p", type: "hls" }],
				subtitles: [{ url: "https://cdn/" + id + ".vtt", lang: "en", type: "vtt" }]
			};
		}
	};
}
`

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CallTimeout = 5 * time.Second
	cfg.PumpInterval = 2 * time.Millisecond
	return cfg
}

func loadInstance(t *testing.T, identifier, script string) *Instance {
	t.Helper()
	inst := New(identifier, testConfig(), logging.NewNop())
	t.Cleanup(inst.Dispose)
	require.NoError(t, inst.Load(context.Background(), script))
	return inst
}

func TestLoadExtractsManifest(t *testing.T) {
	inst := loadInstance(t, "en.simple", simpleScript)

	assert.Equal(t, StateLoaded, inst.State())

	m := inst.Manifest()
	require.NotNil(t, m)
	assert.Equal(t, "en.simple", m.ID)
	assert.Equal(t, "Simple", m.Name)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, "en", m.Lang)
}

func TestLoadFailures(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"syntax error", `var manifest = {`},
		{"no createSource", `var manifest = {id:"x",name:"X",version:"1"};`},
		{"incomplete contract", `
			var manifest = {id:"x",name:"X",version:"1"};
			function createSource() { return { search: function() {} }; }`},
		{"no manifest", `
			function createSource() {
				return { search: function(){}, getDetail: function(){}, getPlayableSources: function(){} };
			}`},
		{"manifest missing id", `
			var manifest = {name:"X",version:"1"};
			function createSource() {
				return { search: function(){}, getDetail: function(){}, getPlayableSources: function(){} };
			}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := New("bad", testConfig(), logging.NewNop())
			defer inst.Dispose()

			err := inst.Load(context.Background(), tt.script)
			require.Error(t, err)
			assert.Equal(t, StateLoadFailed, inst.State())
		})
	}
}

func TestLoadTwiceRejected(t *testing.T) {
	inst := loadInstance(t, "en.simple", simpleScript)

	err := inst.Load(context.Background(), simpleScript)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot load")
}

func TestSearch(t *testing.T) {
	inst := loadInstance(t, "en.simple", simpleScript)

	page, err := inst.Search(context.Background(), "naruto", 1)
	require.NoError(t, err)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Result for naruto", page.Results[0].Title)

	page, err = inst.Search(context.Background(), "naruto", 5)
	require.NoError(t, err)
	assert.False(t, page.HasNextPage)
}

func TestGetDetail(t *testing.T) {
	inst := loadInstance(t, "en.simple", simpleScript)

	detail, err := inst.GetDetail(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Title 42", detail.Title)
	assert.Equal(t, []string{"action"}, detail.Genres)
	require.Len(t, detail.Episodes, 1)
	assert.Equal(t, "First", detail.Episodes[0].Title)
}

func TestGetPlayableSources(t *testing.T) {
	inst := loadInstance(t, "en.simple", simpleScript)

	bundle, err := inst.GetPlayableSources(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, bundle.Sources, 1)
	assert.Equal(t, "https://cdn/42.m3u8", bundle.Sources[0].URL)
	require.Len(t, bundle.Subtitles, 1)
	assert.Equal(t, "en", bundle.Subtitles[0].Lang)
}

func TestOptionalMethodShortCircuit(t *testing.T) {
	inst := loadInstance(t, "en.simple", simpleScript)

	assert.False(t, inst.Has("getLatest"))
	assert.False(t, inst.Has("getPopular"))

	page, err := inst.GetLatest(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, page.HasNextPage)
	assert.Empty(t, page.Results)

	page, err = inst.GetPopular(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, page.Results)
}

func TestOptionalMethodPresent(t *testing.T) {
	script := simpleScript + `
var base = createSource;
createSource = function() {
	var src = base();
	src.getLatest = function(page) {
		return { hasNextPage: false, results: [{ id: "l1", title: "Latest", url: "/l/1" }] };
	};
	return src;
};
`
	inst := loadInstance(t, "en.simple", script)

	assert.True(t, inst.Has("getLatest"))

	page, err := inst.GetLatest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Latest", page.Results[0].Title)
}

func TestGuestThrowBecomesTypedFailure(t *testing.T) {
	script := `
var manifest = {id:"en.thrower",name:"Thrower",version:"1.0.0"};
function createSource() {
	return {
		search: function() { throw new Error("catalog responded 404 not found"); },
		getDetail: function() {},
		getPlayableSources: function() {}
	};
}
`
	inst := loadInstance(t, "en.thrower", script)

	_, err := inst.Search(context.Background(), "x", 1)
	require.Error(t, err)

	var failure *extension.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, extension.CategoryNotFound, failure.Category)
	assert.Contains(t, failure.Message, "404")
}

func TestRejectedPromiseBecomesTypedFailure(t *testing.T) {
	script := `
var manifest = {id:"en.reject",name:"Reject",version:"1.0.0"};
function createSource() {
	return {
		search: function() { return Promise.reject(new Error("upstream 502 bad gateway")); },
		getDetail: function() {},
		getPlayableSources: function() {}
	};
}
`
	inst := loadInstance(t, "en.reject", script)

	_, err := inst.Search(context.Background(), "x", 1)
	var failure *extension.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, extension.CategoryServer, failure.Category)
}

func TestNeverResolvingTimesOut(t *testing.T) {
	script := `
var manifest = {id:"en.stuck",name:"Stuck",version:"1.0.0"};
function createSource() {
	return {
		search: function() { return new Promise(function() {}); },
		getDetail: function() {},
		getPlayableSources: function() {}
	};
}
`
	cfg := testConfig()
	cfg.CallTimeout = 300 * time.Millisecond

	inst := New("en.stuck", cfg, logging.NewNop())
	defer inst.Dispose()
	require.NoError(t, inst.Load(context.Background(), script))

	start := time.Now()
	_, err := inst.Search(context.Background(), "x", 1)
	elapsed := time.Since(start)

	var failure *extension.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, extension.CategoryTimeout, failure.Category)
	assert.Less(t, elapsed, 5*time.Second, "timeout must be bounded")
}

func TestBusyLoopSearchTimesOut(t *testing.T) {
	script := `
var manifest = {id:"en.spin",name:"Spin",version:"1.0.0"};
function createSource() {
	return {
		search: function() { for (;;) {} },
		getDetail: function(id) { return { title: "Title " + id }; },
		getPlayableSources: function() { return {}; }
	};
}
`
	cfg := testConfig()
	cfg.CallTimeout = 300 * time.Millisecond

	inst := New("en.spin", cfg, logging.NewNop())
	defer inst.Dispose()
	require.NoError(t, inst.Load(context.Background(), script))

	// The guest never yields, so only the watchdog interrupt can end this.
	start := time.Now()
	_, err := inst.Search(context.Background(), "x", 1)
	elapsed := time.Since(start)

	var failure *extension.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, extension.CategoryTimeout, failure.Category)
	assert.Less(t, elapsed, 3*time.Second, "timeout must be bounded")

	// The interrupt is cleared afterwards; the instance stays usable.
	detail, err := inst.GetDetail(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Title 7", detail.Title)
}

func TestBusyLoopLoadTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.CallTimeout = 300 * time.Millisecond

	inst := New("en.spin", cfg, logging.NewNop())
	defer inst.Dispose()

	start := time.Now()
	err := inst.Load(context.Background(), `for (;;) {}`)
	elapsed := time.Since(start)

	var failure *extension.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, extension.CategoryTimeout, failure.Category)
	assert.Less(t, elapsed, 3*time.Second, "timeout must be bounded")
	assert.Equal(t, StateLoadFailed, inst.State())
}

func TestBusyLoopLoadHonorsContextDeadline(t *testing.T) {
	inst := New("en.spin", testConfig(), logging.NewNop())
	defer inst.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := inst.Load(ctx, `for (;;) {}`)
	elapsed := time.Since(start)

	var failure *extension.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, extension.CategoryTimeout, failure.Category)
	assert.Less(t, elapsed, 3*time.Second, "deadline must be honored")
}

func TestSearchThroughFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bleach", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		// BOM and NUL: the guest's JSON.parse must still succeed (sanitized)
		w.Write([]byte("\xef\xbb\xbf{\"results\":[{\"id\":\"9\",\"title\":\"Ble\x00ach\",\"url\":\"/a/9\"}]}"))
	}))
	defer srv.Close()

	script := fmt.Sprintf(`
var manifest = {id:"en.fetcher",name:"Fetcher",version:"1.0.0"};
function createSource() {
	return {
		search: function(query, page) {
			return fetch(%q + "/search?q=" + query).then(function(res) {
				if (!res.ok) { throw new Error(res.error); }
				var data = JSON.parse(res.body);
				return { hasNextPage: false, results: data.results };
			});
		},
		getDetail: function() {},
		getPlayableSources: function() {}
	};
}
`, srv.URL)

	inst := loadInstance(t, "en.fetcher", script)

	page, err := inst.Search(context.Background(), "bleach", 1)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Bleach", page.Results[0].Title)
	assert.Equal(t, 0, inst.PendingCalls())
}

func TestSyncCapabilitiesFromGuest(t *testing.T) {
	script := `
var manifest = {id:"en.scraper",name:"Scraper",version:"1.0.0"};
var page = '<ul><li class="item"><a href="/a/1">Alpha</a></li>' +
	'<li class="item"><a href="/a/2">Beta</a></li></ul>';
function createSource() {
	return {
		search: function(query) {
			var items = queryAll(page, "li.item");
			var results = [];
			for (var i = 0; i < items.length; i++) {
				var link = queryFirst(items[i].html, "a");
				results.push({
					id: digest(link.attrs["href"], "md5"),
					title: link.text,
					url: link.attrs["href"]
				});
			}
			return { hasNextPage: false, results: results };
		},
		getDetail: function() {},
		getPlayableSources: function(id) {
			return { sources: [], subtitles: [] };
		}
	};
}
`
	inst := loadInstance(t, "en.scraper", script)

	page, err := inst.Search(context.Background(), "any", 1)
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "Alpha", page.Results[0].Title)
	assert.Equal(t, "/a/1", page.Results[0].URL)
	assert.Len(t, page.Results[0].ID, 32) // md5 hex
}

func TestDisposeCancelsInFlightCalls(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	script := fmt.Sprintf(`
var manifest = {id:"en.hang",name:"Hang",version:"1.0.0"};
function createSource() {
	return {
		search: function() {
			return fetch(%q).then(function(res) { return { hasNextPage: false, results: [] }; });
		},
		getDetail: function() {},
		getPlayableSources: function() {}
	};
}
`, srv.URL)

	inst := New("en.hang", testConfig(), logging.NewNop())
	require.NoError(t, inst.Load(context.Background(), script))

	errs := make(chan error, 1)
	go func() {
		_, err := inst.Search(context.Background(), "x", 1)
		errs <- err
	}()

	// Wait for the guest's fetch to become a pending host call.
	require.Eventually(t, func() bool {
		return inst.PendingCalls() == 1
	}, 2*time.Second, 5*time.Millisecond)

	inst.Dispose()

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("search did not return after dispose")
	}

	assert.Equal(t, StateDisposed, inst.State())
	assert.Equal(t, 0, inst.PendingCalls())

	// A late completion for a discarded call is dropped without effect.
	delivered := false
	inst.complete("ghost", func() { delivered = true })
	inst.drainJobs()
	assert.False(t, delivered)
}

func TestDisposeIdempotent(t *testing.T) {
	inst := loadInstance(t, "en.simple", simpleScript)

	inst.Dispose()
	inst.Dispose()
	assert.Equal(t, StateDisposed, inst.State())

	_, err := inst.Search(context.Background(), "x", 1)
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestCallBeforeLoad(t *testing.T) {
	inst := New("en.simple", testConfig(), logging.NewNop())
	defer inst.Dispose()

	_, err := inst.Search(context.Background(), "x", 1)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestConcurrentCallsSerialized(t *testing.T) {
	inst := loadInstance(t, "en.simple", simpleScript)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			page, err := inst.Search(context.Background(), fmt.Sprintf("q%d", n), 1)
			if err == nil && len(page.Results) != 1 {
				err = fmt.Errorf("unexpected result count %d", len(page.Results))
			}
			errs <- err
		}(n)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestContextCancellation(t *testing.T) {
	script := `
var manifest = {id:"en.stuck",name:"Stuck",version:"1.0.0"};
function createSource() {
	return {
		search: function() { return new Promise(function() {}); },
		getDetail: function() {},
		getPlayableSources: function() {}
	};
}
`
	inst := loadInstance(t, "en.stuck", script)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := inst.Search(ctx, "x", 1)

	var failure *extension.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, extension.CategoryTimeout, failure.Category)
	assert.Less(t, time.Since(start), 3*time.Second)
}
