package dom

import (
	"context"

	"golang.org/x/net/html"
)

// Event names dispatched by the actuator.
const (
	EventInput  = "input"
	EventChange = "change"
	EventClick  = "click"
)

// ScrollEdge identifies an absolute scroll destination.
type ScrollEdge int

const (
	EdgeTop ScrollEdge = iota
	EdgeBottom
)

// Host is the live page the actuator mutates. Nodes passed to Host methods
// come from the most recent [Host.Document] snapshot.
//
// Implementations must be safe for sequential use from a single goroutine;
// the actuator never calls a Host concurrently.
type Host interface {
	// Document returns a snapshot of the current page.
	Document(ctx context.Context) (*Document, error)

	// Click activates n as a user click would.
	Click(ctx context.Context, n *html.Node) error

	// Focus moves keyboard focus to n.
	Focus(ctx context.Context, n *html.Node) error

	// SetValue writes the value of a text control or select without firing
	// events.
	SetValue(ctx context.Context, n *html.Node, value string) error

	// SetChecked sets the checked state of a checkbox or radio without
	// firing events.
	SetChecked(ctx context.Context, n *html.Node, checked bool) error

	// SetAttr sets or, with remove=true, deletes an attribute.
	SetAttr(ctx context.Context, n *html.Node, name, value string, remove bool) error

	// Dispatch fires a bubbling DOM event of the given type at n.
	Dispatch(ctx context.Context, n *html.Node, event string) error

	// ScrollBy scrolls the viewport by the given pixel offsets.
	ScrollBy(ctx context.Context, dx, dy int) error

	// ScrollToEdge scrolls the viewport to the top or bottom of the page.
	ScrollToEdge(ctx context.Context, edge ScrollEdge) error

	// ScrollIntoView smooth-scrolls n into the viewport.
	ScrollIntoView(ctx context.Context, n *html.Node) error

	// InViewport reports whether n is currently visible in the viewport.
	InViewport(ctx context.Context, n *html.Node) (bool, error)

	// SetZoom applies a page-wide zoom factor.
	SetZoom(ctx context.Context, factor float64) error

	// Back navigates one step back in the browser history.
	Back(ctx context.Context) error
}

// VisibilityReporter is implemented by hosts that know whether the page is
// currently shown to the user, such as a browser tab in the foreground.
type VisibilityReporter interface {
	Visible(ctx context.Context) (bool, error)
}
