package sources

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
)

// PlainText strips markup from an HTML fragment and compacts its whitespace.
// Input that is not HTML comes back with whitespace compacted.
func PlainText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := htmlquery.Parse(strings.NewReader(fragment))
	if err != nil {
		return compactWhitespace(fragment)
	}
	body := htmlquery.FindOne(doc, "//body")
	if body == nil {
		body = doc
	}
	return digForText(body)
}

// Excerpt returns at most limit runes of s, marking truncation with an ellipsis.
func Excerpt(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return strings.TrimRight(string(rs[:limit-1]), " ") + "…"
}

func digForText(n *html.Node) string {
	if n == nil {
		return ""
	}
	buf := new(bytes.Buffer)
	dig(n, buf)
	return compactWhitespace(buf.String())
}

func dig(n *html.Node, buf *bytes.Buffer) {
	if n == nil {
		return
	}
	switch n.Type {
	case html.TextNode:
		buf.WriteString(n.Data)
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
		if n.Data == "br" || n.Data == "p" || n.Data == "li" {
			buf.WriteString(" ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		dig(c, buf)
	}
}

func compactWhitespace(s string) string {
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.Trim(s, " ")
	return s
}
