package login

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naylin209/instalogin/credentials"
	"github.com/naylin209/instalogin/driver"
	"github.com/naylin209/instalogin/driver/drivertest"
)

const (
	usernameSel = "input[name='username']"
	passwordSel = "input[name='password']"
	markerSel   = "svg[aria-label='Messenger']"
	landingURL  = "https://www.instagram.com"
)

var creds = credentials.Credentials{Username: "alice", Password: "s3cret"}

func testOptions(timeout time.Duration) Options {
	return Options{URL: landingURL, Timeout: timeout, PollInterval: 10 * time.Millisecond}
}

func newTestRunner(t *testing.T, f *drivertest.Fixture, timeout time.Duration) (*Runner, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewRunner(f, testOptions(timeout), logger), hook
}

func loginPage() *drivertest.Fixture {
	return drivertest.New().
		Add(usernameSel, "").
		Add(passwordSel, "").
		AddOnSubmit(markerSel, 0)
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	f := loginPage()
	r, _ := newTestRunner(t, f, time.Second)

	report, err := r.Run(context.Background(), creds)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"open",
		"navigate " + landingURL,
		"maximize",
		"clear " + usernameSel,
		"type " + usernameSel,
		"clear " + passwordSel,
		"type " + passwordSel,
		"press Enter " + passwordSel,
		"click " + markerSel,
		"close",
	}, f.Actions())
	assert.Equal(t, "alice", f.Value(usernameSel))
	assert.Equal(t, "s3cret", f.Value(passwordSel))
	assert.Equal(t, 1, f.Clicks(markerSel))

	var steps []Step
	for _, s := range report.Steps {
		steps = append(steps, s.Step)
	}
	assert.Equal(t, []Step{StepSession, StepUsername, StepPassword, StepMarker}, steps)
	assert.True(t, report.Completed(StepMarker))
}

func TestRunUsernameMissing(t *testing.T) {
	t.Parallel()

	f := drivertest.New().Add(passwordSel, "").AddOnSubmit(markerSel, 0)
	r, _ := newTestRunner(t, f, 100*time.Millisecond)

	report, err := r.Run(context.Background(), creds)
	require.Error(t, err)

	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, StepUsername, le.Step)
	assert.Equal(t, ElementNotFound, le.Kind)
	assert.Equal(t, usernameSel, le.Selector)
	assert.ErrorIs(t, err, ErrTimeout)

	for _, a := range f.Actions() {
		assert.NotContains(t, a, passwordSel)
		assert.NotContains(t, a, markerSel)
	}
	assert.False(t, report.Completed(StepUsername))
	assert.Equal(t, 1, f.Closes())
}

func TestRunPasswordMissing(t *testing.T) {
	t.Parallel()

	f := drivertest.New().Add(usernameSel, "").Add(markerSel, "")
	r, _ := newTestRunner(t, f, 100*time.Millisecond)

	report, err := r.Run(context.Background(), creds)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ElementNotFound, kind)

	assert.Equal(t, "alice", f.Value(usernameSel))
	assert.Zero(t, f.Clicks(markerSel))
	for _, a := range f.Actions() {
		assert.NotContains(t, a, markerSel)
	}
	assert.True(t, report.Completed(StepUsername))
	assert.False(t, report.Completed(StepPassword))
	assert.Equal(t, 1, f.Closes())
}

func TestRunMarkerAppearsLate(t *testing.T) {
	t.Parallel()

	f := drivertest.New().
		Add(usernameSel, "").
		Add(passwordSel, "").
		AddOnSubmit(markerSel, 150*time.Millisecond)
	r, _ := newTestRunner(t, f, time.Second)

	report, err := r.Run(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Clicks(markerSel))

	last := report.Steps[len(report.Steps)-1]
	assert.Equal(t, StepMarker, last.Step)
	assert.GreaterOrEqual(t, last.Elapsed, 150*time.Millisecond)
}

func TestRunMarkerNeverAppears(t *testing.T) {
	t.Parallel()

	const timeout = 200 * time.Millisecond
	f := drivertest.New().Add(usernameSel, "").Add(passwordSel, "")
	r, _ := newTestRunner(t, f, timeout)

	started := time.Now()
	_, err := r.Run(context.Background(), creds)
	elapsed := time.Since(started)

	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, StepMarker, le.Step)
	assert.Equal(t, ElementNotFound, le.Kind)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+time.Second)

	// The password was submitted before the marker wait started.
	assert.Contains(t, f.Actions(), "press Enter "+passwordSel)
	assert.Equal(t, 1, f.Closes())
}

func TestRunClearsPrefilledFields(t *testing.T) {
	t.Parallel()

	f := drivertest.New().
		Add(usernameSel, "stray text").
		Add(passwordSel, "old").
		AddOnSubmit(markerSel, 0)
	r, _ := newTestRunner(t, f, time.Second)

	_, err := r.Run(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "alice", f.Value(usernameSel))
	assert.Equal(t, "s3cret", f.Value(passwordSel))
}

func TestRunOpenFailure(t *testing.T) {
	t.Parallel()

	f := loginPage()
	f.OpenErr = fmt.Errorf("%w: chrome not found", driver.ErrLaunch)
	r, _ := newTestRunner(t, f, time.Second)

	var hooked bool
	r.OnFailure(func(context.Context, driver.Session, *Error) { hooked = true })

	report, err := r.Run(context.Background(), creds)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, SessionLaunchFailure, kind)
	assert.Empty(t, report.Steps)
	assert.Zero(t, f.Closes())
	assert.False(t, hooked, "no session to inspect")
}

func TestRunNavigateFailure(t *testing.T) {
	t.Parallel()

	f := loginPage()
	f.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	r, _ := newTestRunner(t, f, time.Second)

	_, err := r.Run(context.Background(), creds)
	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, StepSession, le.Step)
	assert.Equal(t, NetworkFailure, le.Kind)
	assert.Equal(t, 1, f.Closes())
	assert.NotContains(t, f.Actions(), "maximize")
}

func TestRunMaximizeFailure(t *testing.T) {
	t.Parallel()

	f := loginPage()
	f.MaximizeErr = errors.New("no window")
	r, _ := newTestRunner(t, f, time.Second)

	_, err := r.Run(context.Background(), creds)
	kind, _ := KindOf(err)
	assert.Equal(t, SessionLaunchFailure, kind)
	assert.Equal(t, 1, f.Closes())
}

func TestRunFailureHookSeesOpenSession(t *testing.T) {
	t.Parallel()

	f := drivertest.New().Add(usernameSel, "")
	r, _ := newTestRunner(t, f, 50*time.Millisecond)

	var got *Error
	r.OnFailure(func(ctx context.Context, session driver.Session, failure *Error) {
		got = failure
		// Still usable: the session closes only after the hook returns.
		el, err := session.Query(ctx, usernameSel)
		assert.NoError(t, err)
		assert.NotNil(t, el)
	})

	_, err := r.Run(context.Background(), creds)
	require.Error(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StepPassword, got.Step)
	assert.Equal(t, 1, f.Closes())
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	r, _ := newTestRunner(t, f, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	started := time.Now()
	_, err := r.Run(ctx, creds)
	assert.Less(t, time.Since(started), time.Second)
	require.ErrorIs(t, err, context.Canceled)
	kind, _ := KindOf(err)
	assert.Equal(t, ElementNotFound, kind)
	assert.Equal(t, 1, f.Closes())
}

func TestRunNeverLogsPasswordOrErrors(t *testing.T) {
	t.Parallel()

	f := drivertest.New().Add(usernameSel, "").Add(passwordSel, "")
	r, hook := newTestRunner(t, f, 50*time.Millisecond)

	_, err := r.Run(context.Background(), creds)
	require.Error(t, err)

	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, entry.Level, "the caller reports the failure")
		line, lerr := entry.String()
		require.NoError(t, lerr)
		assert.NotContains(t, line, creds.Password)
	}
}

func TestNewRunnerDefaults(t *testing.T) {
	t.Parallel()

	r := NewRunner(drivertest.New(), Options{URL: landingURL}, nil)
	assert.Equal(t, DefaultSelectors(), r.opts.Selectors)
	assert.Equal(t, DefaultTimeout, r.opts.Timeout)
	assert.Equal(t, DefaultPollInterval, r.opts.PollInterval)
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := &Error{Step: StepMarker, Kind: ElementNotFound, Selector: markerSel, Err: ErrTimeout}
	assert.Equal(t, `marker step: element_not_found "svg[aria-label='Messenger']": timed out`, err.Error())

	err = &Error{Step: StepSession, Kind: NetworkFailure, Err: errors.New("dns")}
	assert.Equal(t, "session step: network_failure: dns", err.Error())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
