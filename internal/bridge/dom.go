package bridge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	// MaxHTMLSize limits HTML input to 10MB to prevent memory exhaustion.
	MaxHTMLSize = 10 * 1024 * 1024

	// maxNodeDepth bounds subtree serialization against pathological nesting.
	maxNodeDepth = 128
)

// Node is the serialized form of one HTML element. Guests receive trees of
// these instead of live DOM handles; the inner markup lets them re-query a
// subtree without another host round trip.
type Node struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs"`
	Text     string            `json:"text"`
	HTML     string            `json:"html"`
	Children []*Node           `json:"children"`
}

// ValidateHTML checks HTML presence and size.
func ValidateHTML(markup string) error {
	if len(markup) == 0 {
		return fmt.Errorf("html content required")
	}
	if len(markup) > MaxHTMLSize {
		return fmt.Errorf("html exceeds maximum size of %d bytes", MaxHTMLSize)
	}
	return nil
}

// LoadHTML parses markup with automatic charset conversion. Parsing happens
// once per call; no document is cached across calls.
func LoadHTML(markup string) (*goquery.Document, error) {
	if err := ValidateHTML(markup); err != nil {
		return nil, err
	}

	decoded := DecodeBody([]byte(markup), "")
	return goquery.NewDocumentFromReader(strings.NewReader(decoded))
}

// ParseDocument parses markup and returns the serialized document tree.
func (b *Bridge) ParseDocument(markup string) (*Node, error) {
	doc, err := LoadHTML(markup)
	if err != nil {
		return nil, err
	}

	root := doc.Find("html").First()
	if root.Length() == 0 {
		return nil, fmt.Errorf("document has no root element")
	}
	return serialize(root, 0), nil
}

// QueryAll parses markup and returns every node matching the CSS selector.
// Parse and selector failures degrade to an empty list.
func (b *Bridge) QueryAll(markup, selector string) []*Node {
	doc, err := LoadHTML(markup)
	if err != nil {
		return []*Node{}
	}

	var nodes []*Node
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		nodes = append(nodes, serialize(sel, 0))
	})
	if nodes == nil {
		nodes = []*Node{}
	}
	return nodes
}

// QueryFirst parses markup and returns the first node matching the CSS
// selector, or nil when nothing matches.
func (b *Bridge) QueryFirst(markup, selector string) *Node {
	doc, err := LoadHTML(markup)
	if err != nil {
		return nil
	}

	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	return serialize(sel, 0)
}

// serialize converts the first node of a selection into its transferable
// form: tag name, attributes, trimmed text, inner markup, children.
func serialize(sel *goquery.Selection, depth int) *Node {
	node := &Node{
		Tag:      goquery.NodeName(sel),
		Attrs:    map[string]string{},
		Text:     strings.TrimSpace(sel.Text()),
		Children: []*Node{},
	}

	if len(sel.Nodes) > 0 {
		for _, attr := range sel.Nodes[0].Attr {
			node.Attrs[attr.Key] = attr.Val
		}
	}

	if markup, err := sel.Html(); err == nil {
		node.HTML = markup
	}

	if depth >= maxNodeDepth {
		return node
	}
	sel.Children().Each(func(_ int, child *goquery.Selection) {
		node.Children = append(node.Children, serialize(child, depth+1))
	})
	return node
}

// renderChildren renders the inner markup of a raw html node.
func renderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}

// collectText walks a raw html node and concatenates its text content.
func collectText(n *html.Node) string {
	var buf bytes.Buffer
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(buf.String())
}
