package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/ibeckermayer/postpulse/internal/dom"
)

// Node is a dom.Node backed by an element of the live page. Errors caused by
// the element leaving the document are reported as dom.ErrStale.
//
// Reads run on the tab and stop when the run context that collected the node
// is cancelled.
type Node struct {
	ctx     context.Context
	tab     context.Context
	timeout time.Duration
	node    *cdp.Node
}

var _ dom.Node = (*Node)(nil)

// staleMarkers are CDP error fragments meaning the node is gone.
var staleMarkers = []string{
	"No node with given id",
	"Could not find node",
	"Node is detached",
	"Cannot find context with specified id",
	"Cannot find object with id",
	"Node with given id does not belong to the document",
}

func isStaleMessage(msg string) bool {
	for _, m := range staleMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if isStaleMessage(err.Error()) {
		return fmt.Errorf("%w: %v", dom.ErrStale, err)
	}
	return err
}

func (n *Node) run(actions ...chromedp.Action) error {
	return n.runCtx(n.ctx, actions...)
}

func (n *Node) runCtx(ctx context.Context, actions ...chromedp.Action) error {
	return classify(runOn(ctx, n.tab, n.timeout, actions...))
}

func (n *Node) child(c *cdp.Node) *Node {
	return &Node{ctx: n.ctx, tab: n.tab, timeout: n.timeout, node: c}
}

func (n *Node) Find(selector string) ([]dom.Node, error) {
	var nodes []*cdp.Node
	err := n.run(chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.FromNode(n.node), chromedp.AtLeast(0)))
	if err != nil {
		return nil, err
	}
	out := make([]dom.Node, len(nodes))
	for i, c := range nodes {
		out[i] = n.child(c)
	}
	return out, nil
}

func (n *Node) Attr(name string) (string, bool, error) {
	v, ok := n.node.Attribute(name)
	return v, ok, nil
}

// Text returns the rendered text with whitespace collapsed.
func (n *Node) Text() (string, error) {
	var text string
	err := n.withObject(func(ctx context.Context, id runtime.RemoteObjectID) error {
		return chromedp.CallFunctionOn(
			`function() { return this.innerText || this.textContent || ""; }`,
			&text,
			func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
				return p.WithObjectID(id)
			},
		).Do(ctx)
	})
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(text), " "), nil
}

// withObject resolves the node to a JS object for the duration of fn.
func (n *Node) withObject(fn func(ctx context.Context, id runtime.RemoteObjectID) error) error {
	return n.run(chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := cdpdom.ResolveNode().WithBackendNodeID(n.node.BackendNodeID).Do(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()
		return fn(ctx, obj.ObjectID)
	}))
}

func (n *Node) Parent() (dom.Node, error) {
	if n.node.Parent == nil || n.node.Parent.NodeType != cdp.NodeTypeElement {
		return nil, nil
	}
	return n.child(n.node.Parent), nil
}

func (n *Node) OuterHTML() (string, error) {
	var html string
	err := n.run(chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		html, err = cdpdom.GetOuterHTML().WithBackendNodeID(n.node.BackendNodeID).Do(ctx)
		return err
	}))
	return html, err
}

func (n *Node) TagName() (string, error) {
	if n.node.LocalName != "" {
		return strings.ToLower(n.node.LocalName), nil
	}
	return strings.ToLower(n.node.NodeName), nil
}

// Reveal scrolls the element into the viewport; lazily rendered counters
// only appear once their post is visible.
func (n *Node) Reveal(ctx context.Context) error {
	return n.runCtx(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		return cdpdom.ScrollIntoViewIfNeeded().WithBackendNodeID(n.node.BackendNodeID).Do(cctx)
	}))
}
