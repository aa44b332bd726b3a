// Package rodhost drives a real Chromium page through the DevTools protocol
// and exposes it as a [dom.Host].
//
// Snapshots are taken from a clone of the live document whose form state
// (values, checkedness, selected options) has been copied into attributes,
// so the parsed tree reflects what the user sees. Nodes from a snapshot are
// mapped back to live elements with the structural selector produced by
// [dom.Path].
package rodhost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/MrWong99/voxact/internal/dom"
)

// DefaultTimeout bounds a single protocol round trip when the caller's
// context carries no deadline.
const DefaultTimeout = 5 * time.Second

// snapshotScript serialises a clone of the document with live form state
// written back into attributes. The page itself is not mutated.
const snapshotScript = `() => {
	const live = document.documentElement;
	const copy = live.cloneNode(true);
	const sel = 'input, textarea, select';
	const a = live.querySelectorAll(sel);
	const b = copy.querySelectorAll(sel);
	for (let i = 0; i < a.length && i < b.length; i++) {
		const src = a[i], dst = b[i];
		if (src.tagName === 'SELECT') {
			for (let j = 0; j < src.options.length; j++) {
				dst.options[j].toggleAttribute('selected', src.options[j].selected);
			}
		} else if (src.type === 'checkbox' || src.type === 'radio') {
			dst.toggleAttribute('checked', src.checked);
		} else if (src.tagName === 'TEXTAREA') {
			dst.textContent = src.value;
		} else {
			dst.setAttribute('value', src.value);
		}
	}
	return '<!DOCTYPE html>' + copy.outerHTML;
}`

// setValueScript goes through the prototype setter so frameworks that
// shadow the value property still observe the write.
const setValueScript = `function (v) {
	const proto = Object.getPrototypeOf(this);
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) {
		desc.set.call(this, v);
	} else {
		this.value = v;
	}
}`

const inViewportScript = `function () {
	const r = this.getBoundingClientRect();
	return r.bottom > 0 && r.right > 0 &&
		r.top < (window.innerHeight || document.documentElement.clientHeight) &&
		r.left < (window.innerWidth || document.documentElement.clientWidth);
}`

// Host is a [dom.Host] backed by a single rod page.
type Host struct {
	page    *rod.Page
	markup  dom.Markup
	timeout time.Duration
	log     *slog.Logger
}

var (
	_ dom.Host               = (*Host)(nil)
	_ dom.VisibilityReporter = (*Host)(nil)
)

// Option configures a Host.
type Option func(*Host)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.log = l }
}

// New wraps an existing page. markup is forwarded to every snapshot.
func New(page *rod.Page, markup dom.Markup, opts ...Option) *Host {
	h := &Host{page: page, markup: markup, timeout: DefaultTimeout, log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Page returns the underlying rod page.
func (h *Host) Page() *rod.Page { return h.page }

// ctx applies the default timeout when ctx has no deadline of its own.
func (h *Host) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.timeout)
}

// element resolves n to a live element without waiting for it to appear.
func (h *Host) element(ctx context.Context, n *html.Node) (*rod.Element, error) {
	if n == nil {
		return nil, dom.ErrDetached
	}
	sel := dom.Path(n)
	found, el, err := h.page.Context(ctx).Has(sel)
	if err != nil {
		return nil, fmt.Errorf("rodhost: query %q: %w", sel, err)
	}
	if !found {
		return nil, fmt.Errorf("rodhost: %q: %w", sel, dom.ErrDetached)
	}
	return el, nil
}

// call evaluates fn with this bound to the live element for n.
func (h *Host) call(ctx context.Context, op string, n *html.Node, fn string, args ...any) (*proto.RuntimeRemoteObject, error) {
	ctx, cancel := h.ctx(ctx)
	defer cancel()
	el, err := h.element(ctx, n)
	if err != nil {
		return nil, err
	}
	res, err := el.Context(ctx).Eval(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("rodhost: %s: %w", op, err)
	}
	return res, nil
}

func (h *Host) eval(ctx context.Context, op, fn string, args ...any) (*proto.RuntimeRemoteObject, error) {
	ctx, cancel := h.ctx(ctx)
	defer cancel()
	res, err := h.page.Context(ctx).Eval(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("rodhost: %s: %w", op, err)
	}
	return res, nil
}

func (h *Host) Document(ctx context.Context) (*dom.Document, error) {
	res, err := h.eval(ctx, "snapshot", snapshotScript)
	if err != nil {
		return nil, err
	}
	doc, err := dom.ParseString(res.Value.Str(), h.markup)
	if err != nil {
		return nil, fmt.Errorf("rodhost: snapshot: %w", err)
	}
	return doc, nil
}

// Click performs a trusted mouse click and falls back to a scripted click
// when the element is covered or not yet interactable.
func (h *Host) Click(ctx context.Context, n *html.Node) error {
	ctx, cancel := h.ctx(ctx)
	defer cancel()
	el, err := h.element(ctx, n)
	if err != nil {
		return err
	}
	err = el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("rodhost: click: %w", err)
	}
	h.log.Debug("rodhost: mouse click failed, using script", "selector", dom.Path(n), "err", err)
	if _, err := el.Context(ctx).Eval(`function () { this.click() }`); err != nil {
		return fmt.Errorf("rodhost: click: %w", err)
	}
	return nil
}

func (h *Host) Focus(ctx context.Context, n *html.Node) error {
	_, err := h.call(ctx, "focus", n, `function () { this.focus() }`)
	return err
}

func (h *Host) SetValue(ctx context.Context, n *html.Node, value string) error {
	_, err := h.call(ctx, "set value", n, setValueScript, value)
	return err
}

func (h *Host) SetChecked(ctx context.Context, n *html.Node, checked bool) error {
	_, err := h.call(ctx, "set checked", n, `function (c) { this.checked = c }`, checked)
	return err
}

func (h *Host) SetAttr(ctx context.Context, n *html.Node, name, value string, remove bool) error {
	if remove {
		_, err := h.call(ctx, "remove attribute", n, `function (k) { this.removeAttribute(k) }`, name)
		return err
	}
	_, err := h.call(ctx, "set attribute", n, `function (k, v) { this.setAttribute(k, v) }`, name, value)
	return err
}

func (h *Host) Dispatch(ctx context.Context, n *html.Node, event string) error {
	_, err := h.call(ctx, "dispatch "+event, n,
		`function (t) { this.dispatchEvent(new Event(t, { bubbles: true })) }`, event)
	return err
}

func (h *Host) ScrollBy(ctx context.Context, dx, dy int) error {
	_, err := h.eval(ctx, "scroll", `(x, y) => window.scrollBy({ left: x, top: y, behavior: 'smooth' })`, dx, dy)
	return err
}

func (h *Host) ScrollToEdge(ctx context.Context, edge dom.ScrollEdge) error {
	_, err := h.eval(ctx, "scroll to edge", `(bottom) => window.scrollTo({
		top: bottom ? document.documentElement.scrollHeight : 0,
		behavior: 'smooth',
	})`, edge == dom.EdgeBottom)
	return err
}

func (h *Host) ScrollIntoView(ctx context.Context, n *html.Node) error {
	_, err := h.call(ctx, "scroll into view", n,
		`function () { this.scrollIntoView({ behavior: 'smooth', block: 'center' }) }`)
	return err
}

func (h *Host) InViewport(ctx context.Context, n *html.Node) (bool, error) {
	res, err := h.call(ctx, "viewport check", n, inViewportScript)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// Visible reports whether the tab is in the foreground.
func (h *Host) Visible(ctx context.Context) (bool, error) {
	res, err := h.eval(ctx, "visibility", `() => document.visibilityState === 'visible'`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (h *Host) SetZoom(ctx context.Context, factor float64) error {
	_, err := h.eval(ctx, "zoom", `(f) => { document.body.style.zoom = String(f) }`, factor)
	return err
}

func (h *Host) Back(ctx context.Context) error {
	ctx, cancel := h.ctx(ctx)
	defer cancel()
	if err := h.page.Context(ctx).NavigateBack(); err != nil {
		return fmt.Errorf("rodhost: back: %w", err)
	}
	return nil
}

// LaunchOptions controls how [Launch] obtains a browser.
type LaunchOptions struct {
	// ControlURL connects to an already running browser when set. Otherwise
	// a local Chromium is started.
	ControlURL string

	// Headless runs a locally launched browser without a window.
	Headless bool

	// URL is opened in a new page. Empty leaves about:blank.
	URL string

	// Width and Height set the viewport. Zero keeps the browser default.
	Width, Height int
}

// Browser owns a browser connection and the page the Host drives.
type Browser struct {
	*Host
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// Launch starts (or connects to) a browser, opens a page and wraps it.
func Launch(ctx context.Context, lo LaunchOptions, markup dom.Markup, opts ...Option) (*Browser, error) {
	b := &Browser{}
	controlURL := lo.ControlURL
	if controlURL == "" {
		b.launcher = launcher.New().Leakless(true).Headless(lo.Headless)
		u, err := b.launcher.Launch()
		if err != nil {
			return nil, fmt.Errorf("rodhost: launch browser: %w", err)
		}
		controlURL = u
	}

	b.browser = rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.browser.Connect(); err != nil {
		b.kill()
		return nil, fmt.Errorf("rodhost: connect %s: %w", controlURL, err)
	}

	page, err := b.browser.Page(proto.TargetCreateTarget{URL: lo.URL})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("rodhost: open page: %w", err)
	}
	if lo.Width > 0 && lo.Height > 0 {
		scale := 1.0
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  lo.Width,
			Height: lo.Height,
			Scale:  &scale,
		}); err != nil {
			slog.Warn("rodhost: failed to set viewport", "err", err)
		}
	}
	if lo.URL != "" {
		if err := page.Context(ctx).WaitLoad(); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("rodhost: load %s: %w", lo.URL, err)
		}
	}

	b.Host = New(page, markup, opts...)
	slog.Info("rodhost: page ready", "url", strings.TrimSpace(lo.URL), "remote", lo.ControlURL != "")
	return b, nil
}

// Close disconnects from the browser and stops it if Launch started it.
func (b *Browser) Close() error {
	var err error
	switch {
	case b.browser == nil:
	case b.launcher != nil:
		err = b.browser.Close()
	case b.Host != nil:
		// Leave a remote browser running; only the page is ours.
		err = b.page.Close()
	}
	b.kill()
	if err != nil {
		return fmt.Errorf("rodhost: close: %w", err)
	}
	return nil
}

func (b *Browser) kill() {
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
		b.launcher = nil
	}
}
