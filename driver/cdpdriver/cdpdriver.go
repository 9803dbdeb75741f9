// Package cdpdriver implements driver.Driver on the raw DevTools client in
// package browser.
package cdpdriver

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/naylin209/instalogin/browser"
	"github.com/naylin209/instalogin/driver"
)

type Driver struct {
	cfg    driver.Config
	logger logrus.FieldLogger
}

func New(cfg driver.Config, logger logrus.FieldLogger) *Driver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Driver{cfg: cfg, logger: logger}
}

func (d *Driver) Open(ctx context.Context) (driver.Session, error) {
	cdpURL := d.cfg.CDPURL
	var proc *browser.Process
	if cdpURL == "" {
		p, err := browser.Launch(browser.LaunchOptions{
			Bin:          d.cfg.BrowserBin,
			Headless:     d.cfg.Headless,
			NoSandbox:    d.cfg.NoSandbox,
			WindowWidth:  d.cfg.WindowWidth,
			WindowHeight: d.cfg.WindowHeight,
		}, d.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", driver.ErrLaunch, err)
		}
		proc = p
		cdpURL = p.ControlURL
	}

	bs := browser.NewBrowserSession(cdpURL, nil, d.logger)
	if err := bs.Connect(ctx); err != nil {
		_ = bs.Close()
		_ = proc.Close()
		return nil, fmt.Errorf("%w: connect %s: %w", driver.ErrLaunch, cdpURL, err)
	}
	page := bs.CurrentPage()
	if page == nil {
		_ = bs.Close()
		_ = proc.Close()
		return nil, fmt.Errorf("%w: no page target", driver.ErrLaunch)
	}
	return &session{cfg: d.cfg, browser: bs, page: page, proc: proc}, nil
}

type session struct {
	cfg     driver.Config
	browser *browser.BrowserSession
	page    *browser.Page
	proc    *browser.Process
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := s.page.Goto(ctx, url); err != nil {
		return fmt.Errorf("%w: %w", driver.ErrNetwork, err)
	}
	return nil
}

func (s *session) Maximize(ctx context.Context) error {
	return s.page.Maximize(ctx, s.cfg.WindowWidth, s.cfg.WindowHeight)
}

func (s *session) Query(ctx context.Context, selector string) (driver.Element, error) {
	el, err := s.page.QuerySelector(ctx, selector)
	if err != nil || el == nil {
		return nil, err
	}
	return el, nil
}

func (s *session) Inspect(ctx context.Context) (*driver.Snapshot, error) {
	state, err := s.page.State(ctx)
	if err != nil {
		return nil, err
	}
	snap := &driver.Snapshot{
		URL:              state.URL,
		Title:            state.Title,
		DevicePixelRatio: s.page.DevicePixelRatio(ctx),
		Elements:         state.ElementInfos(),
	}
	var errs []error
	if snap.HTML, err = s.page.OuterHTML(ctx); err != nil {
		errs = append(errs, fmt.Errorf("outer html: %w", err))
	}
	if snap.Screenshot, err = s.page.Screenshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	}
	return snap, errors.Join(errs...)
}

func (s *session) Close() error {
	return errors.Join(s.browser.Close(), s.proc.Close())
}
