// Package dom abstracts the small part of a rendered document the extractor
// needs, so the same strategies run against a live browser or a saved HTML
// snapshot.
package dom

import (
	"errors"
)

// ErrStale is returned when a node no longer corresponds to an attached
// element in the document (it was detached or re-rendered).
var ErrStale = errors.New("stale element reference")

// Node is one element of a document.
//
// Implementations return ErrStale (possibly wrapped) when the underlying
// element has gone away. A selector that matches nothing is not an error.
type Node interface {
	// Find returns the descendants matching a CSS selector, in document order.
	Find(selector string) ([]Node, error)
	// Attr returns an attribute value and whether it was present.
	Attr(name string) (string, bool, error)
	// Text returns the rendered text of the element.
	Text() (string, error)
	// Parent returns the parent element, or nil at the root.
	Parent() (Node, error)
	// OuterHTML returns the element's serialized markup.
	OuterHTML() (string, error)
	// TagName returns the lower-case element name.
	TagName() (string, error)
}

// First returns the first node matching selector, or nil when none does.
func First(n Node, selector string) (Node, error) {
	nodes, err := n.Find(selector)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

// IsStale reports whether err signals a detached node.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}
