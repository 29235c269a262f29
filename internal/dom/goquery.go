package dom

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Static is a Node over a parsed HTML document. It never goes stale.
type Static struct {
	sel *goquery.Selection
}

// Parse reads an HTML document and returns its root element.
func Parse(r io.Reader) (*Static, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Static{sel: doc.Selection}, nil
}

// ParseString is Parse over a string.
func ParseString(html string) (*Static, error) {
	return Parse(strings.NewReader(html))
}

// Fragment parses a single container's outer HTML and returns the container
// element itself rather than the synthetic <html><body> wrapper.
func Fragment(html string) (*Static, error) {
	root, err := ParseString(html)
	if err != nil {
		return nil, err
	}
	body := root.sel.Find("body").First()
	if first := body.Children().First(); first.Length() > 0 {
		return &Static{sel: first}, nil
	}
	return &Static{sel: body}, nil
}

// Wrap adapts an existing goquery selection. Only its first element is used.
func Wrap(sel *goquery.Selection) *Static {
	return &Static{sel: sel.First()}
}

// Find implements Node.
func (s *Static) Find(selector string) ([]Node, error) {
	var out []Node
	s.sel.Find(selector).Each(func(_ int, child *goquery.Selection) {
		out = append(out, &Static{sel: child})
	})
	return out, nil
}

// Attr implements Node.
func (s *Static) Attr(name string) (string, bool, error) {
	v, ok := s.sel.Attr(name)
	return v, ok, nil
}

// Text implements Node. Whitespace runs are collapsed the way a browser's
// innerText would render inline content.
func (s *Static) Text() (string, error) {
	return strings.Join(strings.Fields(s.sel.Text()), " "), nil
}

// Parent implements Node.
func (s *Static) Parent() (Node, error) {
	p := s.sel.Parent()
	if p.Length() == 0 {
		return nil, nil
	}
	return &Static{sel: p}, nil
}

// OuterHTML implements Node.
func (s *Static) OuterHTML() (string, error) {
	return goquery.OuterHtml(s.sel)
}

// TagName implements Node.
func (s *Static) TagName() (string, error) {
	return goquery.NodeName(s.sel), nil
}

// Selection exposes the wrapped goquery selection.
func (s *Static) Selection() *goquery.Selection {
	return s.sel
}
