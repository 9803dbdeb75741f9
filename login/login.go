// Package login runs the scripted login: open a browser, load the landing
// page, fill the username and password fields, submit, and click the marker
// element that only exists once logged in.
package login

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/naylin209/instalogin/credentials"
	"github.com/naylin209/instalogin/driver"
)

type Selectors struct {
	Username string
	Password string
	Marker   string
}

func DefaultSelectors() Selectors {
	return Selectors{
		Username: "input[name='username']",
		Password: "input[name='password']",
		Marker:   "svg[aria-label='Messenger']",
	}
}

type Options struct {
	URL       string
	Selectors Selectors
	// Timeout bounds each locate step; PollInterval is the pause between
	// lookups within it.
	Timeout      time.Duration
	PollInterval time.Duration
}

// FailureHook is called with the still open session when a step fails after
// the session was acquired.
type FailureHook func(ctx context.Context, session driver.Session, failure *Error)

// StepResult records one completed step.
type StepResult struct {
	Step     Step
	Selector string
	Elapsed  time.Duration
}

// Report lists the steps that completed, in order.
type Report struct {
	Steps   []StepResult
	Elapsed time.Duration
}

func (r *Report) Completed(step Step) bool {
	for _, s := range r.Steps {
		if s.Step == step {
			return true
		}
	}
	return false
}

type Runner struct {
	driver    driver.Driver
	opts      Options
	logger    logrus.FieldLogger
	onFailure FailureHook
}

func NewRunner(d driver.Driver, opts Options, logger logrus.FieldLogger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	defaults := DefaultSelectors()
	if opts.Selectors.Username == "" {
		opts.Selectors.Username = defaults.Username
	}
	if opts.Selectors.Password == "" {
		opts.Selectors.Password = defaults.Password
	}
	if opts.Selectors.Marker == "" {
		opts.Selectors.Marker = defaults.Marker
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Runner{driver: d, opts: opts, logger: logger}
}

func (r *Runner) OnFailure(hook FailureHook) {
	r.onFailure = hook
}

// Run acquires a browser session, prepares the landing page and performs the
// login sequence. The session is closed on every path. The returned report
// is never nil and lists the steps completed before any failure.
func (r *Runner) Run(ctx context.Context, creds credentials.Credentials) (*Report, error) {
	started := time.Now()
	report := &Report{}
	defer func() { report.Elapsed = time.Since(started) }()

	session, err := r.driver.Open(ctx)
	if err != nil {
		return report, &Error{Step: StepSession, Kind: classify(err, SessionLaunchFailure), Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.WithError(err).Warn("closing browser session")
		}
	}()

	if err := r.prepare(ctx, session); err != nil {
		return report, r.fail(ctx, session, err)
	}
	report.Steps = append(report.Steps, StepResult{Step: StepSession, Elapsed: time.Since(started)})

	if err := r.Sequence(ctx, session, creds, report); err != nil {
		return report, r.fail(ctx, session, err)
	}
	return report, nil
}

func (r *Runner) prepare(ctx context.Context, session driver.Session) error {
	r.logger.WithField("url", r.opts.URL).Debug("loading landing page")
	if err := session.Navigate(ctx, r.opts.URL); err != nil {
		return &Error{Step: StepSession, Kind: classify(err, NetworkFailure), Err: err}
	}
	if err := session.Maximize(ctx); err != nil {
		return &Error{Step: StepSession, Kind: classify(err, SessionLaunchFailure), Err: err}
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, session driver.Session, err error) error {
	var failure *Error
	if r.onFailure != nil && errors.As(err, &failure) {
		r.onFailure(ctx, session, failure)
	}
	return err
}

type action func(ctx context.Context, el driver.Element) error

// Sequence performs the three locate-and-act steps against a live session.
// The first failing step aborts the rest.
func (r *Runner) Sequence(ctx context.Context, session driver.Session, creds credentials.Credentials, report *Report) error {
	steps := []struct {
		step     Step
		selector string
		act      action
	}{
		{StepUsername, r.opts.Selectors.Username, func(ctx context.Context, el driver.Element) error {
			if err := el.Clear(ctx); err != nil {
				return err
			}
			return el.Type(ctx, creds.Username)
		}},
		{StepPassword, r.opts.Selectors.Password, func(ctx context.Context, el driver.Element) error {
			if err := el.Clear(ctx); err != nil {
				return err
			}
			if err := el.Type(ctx, creds.Password); err != nil {
				return err
			}
			return el.Press(ctx, driver.KeyEnter)
		}},
		{StepMarker, r.opts.Selectors.Marker, func(ctx context.Context, el driver.Element) error {
			return el.Click(ctx)
		}},
	}

	for _, s := range steps {
		started := time.Now()
		logger := r.logger.WithFields(logrus.Fields{"step": s.step, "selector": s.selector})
		logger.Debug("waiting for element")

		el, err := r.locate(ctx, session, s.selector)
		if err != nil {
			return &Error{Step: s.step, Kind: classify(err, ElementNotFound), Selector: s.selector, Err: err}
		}
		if err := s.act(ctx, el); err != nil {
			return &Error{Step: s.step, Kind: classify(err, ActionFailure), Selector: s.selector, Err: err}
		}

		elapsed := time.Since(started)
		report.Steps = append(report.Steps, StepResult{Step: s.step, Selector: s.selector, Elapsed: elapsed})
		logger.WithField("elapsed", elapsed).Info("step completed")
	}
	return nil
}

func (r *Runner) locate(ctx context.Context, session driver.Session, selector string) (driver.Element, error) {
	var found driver.Element
	err := Poll(ctx, r.opts.Timeout, r.opts.PollInterval, func(ctx context.Context) (bool, error) {
		el, err := session.Query(ctx, selector)
		if err != nil {
			return false, err
		}
		found = el
		return el != nil, nil
	})
	return found, err
}
