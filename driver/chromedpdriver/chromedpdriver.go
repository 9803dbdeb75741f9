// Package chromedpdriver implements driver.Driver on top of chromedp.
package chromedpdriver

import (
	"context"
	"errors"
	"fmt"

	chromedpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/sirupsen/logrus"

	"github.com/naylin209/instalogin/browser"
	"github.com/naylin209/instalogin/driver"
)

var keys = map[string]string{
	"Enter":     kb.Enter,
	"Tab":       kb.Tab,
	"Escape":    kb.Escape,
	"Backspace": kb.Backspace,
}

type Driver struct {
	cfg    driver.Config
	logger logrus.FieldLogger
}

func New(cfg driver.Config, logger logrus.FieldLogger) *Driver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Driver{cfg: cfg, logger: logger.WithField("component", "chromedp")}
}

func (d *Driver) allocator() (context.Context, context.CancelFunc) {
	if d.cfg.CDPURL != "" {
		return chromedp.NewRemoteAllocator(context.Background(), d.cfg.CDPURL)
	}
	options := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.Headless),
	)
	if d.cfg.WindowWidth > 0 && d.cfg.WindowHeight > 0 {
		options = append(options, chromedp.WindowSize(d.cfg.WindowWidth, d.cfg.WindowHeight))
	}
	if d.cfg.BrowserBin != "" {
		options = append(options, chromedp.ExecPath(d.cfg.BrowserBin))
	}
	if d.cfg.NoSandbox {
		options = append(options, chromedp.NoSandbox)
	}
	return chromedp.NewExecAllocator(context.Background(), options...)
}

// Open starts the browser. The browser's lifetime is bound to the returned
// session, not to ctx; ctx only bounds the start-up.
func (d *Driver) Open(ctx context.Context) (driver.Session, error) {
	allocCtx, allocCancel := d.allocator()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(d.logger.Debugf),
		chromedp.WithErrorf(d.logger.Warnf),
		chromedp.WithDebugf(d.logger.Debugf),
	)
	s := &session{
		cfg: d.cfg,
		ctx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}
	// The first Run allocates the browser and ties it to the context it is
	// given, so it must be the browser context itself rather than a child.
	stop := context.AfterFunc(ctx, s.cancel)
	err := chromedp.Run(browserCtx)
	if !stop() {
		err = ctx.Err()
	}
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("%w: %w", driver.ErrLaunch, err)
	}
	return s, nil
}

type session struct {
	cfg    driver.Config
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the browser context while honouring the caller's
// cancellation and deadline.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("%w: navigate to %s: %w", driver.ErrNetwork, url, err)
	}
	return nil
}

func (s *session) Maximize(ctx context.Context) error {
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		windowID, _, err := chromedpbrowser.GetWindowForTarget().Do(ctx)
		if err != nil {
			return err
		}
		return chromedpbrowser.SetWindowBounds(windowID, &chromedpbrowser.Bounds{
			WindowState: chromedpbrowser.WindowStateMaximized,
		}).Do(ctx)
	}))
	if err == nil || s.cfg.WindowWidth <= 0 || s.cfg.WindowHeight <= 0 {
		return err
	}
	return s.run(ctx, chromedp.EmulateViewport(int64(s.cfg.WindowWidth), int64(s.cfg.WindowHeight)))
}

func (s *session) Query(ctx context.Context, selector string) (driver.Element, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &element{session: s, ids: []cdp.NodeID{nodes[0].NodeID}}, nil
}

func (s *session) Inspect(ctx context.Context) (*driver.Snapshot, error) {
	var (
		raw  string
		dpr  float64
		snap driver.Snapshot
	)
	err := s.run(ctx,
		chromedp.Location(&snap.URL),
		chromedp.Title(&snap.Title),
		chromedp.Evaluate(browser.InteractiveElementsJS, &raw),
		chromedp.Evaluate("window.devicePixelRatio", &dpr),
	)
	if err != nil {
		return nil, err
	}
	snap.DevicePixelRatio = dpr
	if state, err := browser.ParsePageState(raw); err == nil {
		snap.Elements = state.ElementInfos()
	}
	var errs []error
	if err := s.run(ctx, chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery)); err != nil {
		errs = append(errs, fmt.Errorf("outer html: %w", err))
	}
	if err := s.run(ctx, chromedp.CaptureScreenshot(&snap.Screenshot)); err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	}
	return &snap, errors.Join(errs...)
}

func (s *session) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type element struct {
	session *session
	ids     []cdp.NodeID
}

func (e *element) Clear(ctx context.Context) error {
	return e.session.run(ctx, chromedp.SetValue(e.ids, "", chromedp.ByNodeID))
}

func (e *element) Type(ctx context.Context, text string) error {
	return e.session.run(ctx, chromedp.SendKeys(e.ids, text, chromedp.ByNodeID))
}

func (e *element) Press(ctx context.Context, key string) error {
	seq, ok := keys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return e.session.run(ctx, chromedp.SendKeys(e.ids, seq, chromedp.ByNodeID))
}

func (e *element) Click(ctx context.Context) error {
	return e.session.run(ctx, chromedp.Click(e.ids, chromedp.ByNodeID))
}
