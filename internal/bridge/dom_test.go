package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yomuko/yomuko/internal/logging"
)

const listingHTML = `
<!DOCTYPE html>
<html>
<body>
	<div class="list">
		<article class="entry" data-id="101">
			<a href="/anime/101"><span class="title">First Show</span></a>
			<img src="/covers/101.jpg">
		</article>
		<article class="entry" data-id="102">
			<a href="/anime/102"><span class="title">Second Show</span></a>
		</article>
	</div>
	<nav class="pager"><a class="next" href="/page/2">next</a></nav>
</body>
</html>`

func testBridge(t *testing.T) *Bridge {
	t.Helper()
	b := New(DefaultConfig(), logging.NewNop())
	t.Cleanup(b.Close)
	return b
}

func TestQueryAll(t *testing.T) {
	b := testBridge(t)

	nodes := b.QueryAll(listingHTML, "article.entry")
	require.Len(t, nodes, 2)

	first := nodes[0]
	assert.Equal(t, "article", first.Tag)
	assert.Equal(t, "101", first.Attrs["data-id"])
	assert.Contains(t, first.Text, "First Show")
	assert.Contains(t, first.HTML, `href="/anime/101"`)
	require.NotEmpty(t, first.Children)
	assert.Equal(t, "a", first.Children[0].Tag)
}

func TestQueryAllNoMatch(t *testing.T) {
	b := testBridge(t)

	nodes := b.QueryAll(listingHTML, ".does-not-exist")
	assert.NotNil(t, nodes)
	assert.Empty(t, nodes)
}

func TestQueryAllInvalidInput(t *testing.T) {
	b := testBridge(t)

	assert.Empty(t, b.QueryAll("", "div"))
}

func TestQueryFirst(t *testing.T) {
	b := testBridge(t)

	node := b.QueryFirst(listingHTML, "nav.pager a.next")
	require.NotNil(t, node)
	assert.Equal(t, "a", node.Tag)
	assert.Equal(t, "/page/2", node.Attrs["href"])

	assert.Nil(t, b.QueryFirst(listingHTML, ".absent"))
}

func TestQueryFirstOnSubtreeMarkup(t *testing.T) {
	b := testBridge(t)

	// A guest re-queries the inner markup of a node it already holds.
	entry := b.QueryFirst(listingHTML, "article.entry")
	require.NotNil(t, entry)

	title := b.QueryFirst(entry.HTML, "span.title")
	require.NotNil(t, title)
	assert.Equal(t, "First Show", title.Text)
}

func TestParseDocument(t *testing.T) {
	b := testBridge(t)

	root, err := b.ParseDocument(listingHTML)
	require.NoError(t, err)
	assert.Equal(t, "html", root.Tag)
	assert.NotEmpty(t, root.Children)
}

func TestParseDocumentEmpty(t *testing.T) {
	b := testBridge(t)

	_, err := b.ParseDocument("")
	assert.Error(t, err)
}

func TestQueryXPath(t *testing.T) {
	b := testBridge(t)

	nodes := b.QueryXPath(listingHTML, `//article[@data-id="102"]//span`)
	require.Len(t, nodes, 1)
	assert.Equal(t, "span", nodes[0].Tag)
	assert.Equal(t, "Second Show", nodes[0].Text)
}

func TestQueryXPathInvalidExpression(t *testing.T) {
	b := testBridge(t)

	assert.Empty(t, b.QueryXPath(listingHTML, "///["))
}

func TestCleanHTML(t *testing.T) {
	b := testBridge(t)

	cleaned := b.CleanHTML(`<p>ok</p><script>alert(1)</script>`)
	assert.Contains(t, cleaned, "<p>ok</p>")
	assert.NotContains(t, cleaned, "script")
}
