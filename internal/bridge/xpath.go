package bridge

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// QueryXPath parses markup and returns every node matching the XPath
// expression. Some upstream sites bury data where CSS selectors cannot
// reach (text() predicates, axis steps), hence the second query language.
// Parse and expression failures degrade to an empty list.
func (b *Bridge) QueryXPath(markup, expr string) []*Node {
	if err := ValidateHTML(markup); err != nil {
		return []*Node{}
	}

	decoded := DecodeBody([]byte(markup), "")
	doc, err := htmlquery.Parse(strings.NewReader(decoded))
	if err != nil {
		return []*Node{}
	}

	matches, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return []*Node{}
	}

	nodes := make([]*Node, 0, len(matches))
	for _, m := range matches {
		nodes = append(nodes, serializeHTMLNode(m, 0))
	}
	return nodes
}

// serializeHTMLNode converts a raw x/net/html node into the transferable
// form, mirroring serialize for goquery selections.
func serializeHTMLNode(n *html.Node, depth int) *Node {
	node := &Node{
		Tag:      n.Data,
		Attrs:    map[string]string{},
		Text:     collectText(n),
		HTML:     renderChildren(n),
		Children: []*Node{},
	}
	if n.Type != html.ElementNode {
		node.Tag = ""
	}

	for _, attr := range n.Attr {
		node.Attrs[attr.Key] = attr.Val
	}

	if depth >= maxNodeDepth {
		return node
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			node.Children = append(node.Children, serializeHTMLNode(c, depth+1))
		}
	}
	return node
}
