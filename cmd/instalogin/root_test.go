package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naylin209/instalogin/config"
	"github.com/naylin209/instalogin/driver"
	"github.com/naylin209/instalogin/driver/cdpdriver"
	"github.com/naylin209/instalogin/driver/chromedpdriver"
	"github.com/naylin209/instalogin/driver/drivertest"
	"github.com/naylin209/instalogin/login"
)

const (
	usernameSel = "input[name='username']"
	passwordSel = "input[name='password']"
	markerSel   = "svg[aria-label='Messenger']"
)

type testState struct {
	*globalState
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	hook    *test.Hook
	env     map[string]string
	fixture *drivertest.Fixture
	drivers []config.Config
}

func newTestState(t *testing.T) *testState {
	t.Helper()
	logger, hook := test.NewNullLogger()
	ts := &testState{
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		hook:   hook,
		env: map[string]string{
			"INSTALOGIN_USERNAME": "alice",
			"INSTALOGIN_PASSWORD": "s3cret",
		},
		fixture: drivertest.New().
			Add(usernameSel, "").
			Add(passwordSel, "").
			AddOnSubmit(markerSel, 0),
	}
	ts.globalState = &globalState{
		ctx:    context.Background(),
		fs:     afero.NewMemMapFs(),
		stdin:  strings.NewReader(""),
		stdout: ts.stdout,
		stderr: ts.stderr,
		lookupEnv: func(key string) (string, bool) {
			v, ok := ts.env[key]
			return v, ok
		},
		logger: logger,
		newDriver: func(cfg config.Config, _ logrus.FieldLogger) (driver.Driver, error) {
			ts.drivers = append(ts.drivers, cfg)
			return ts.fixture, nil
		},
	}
	return ts
}

func (ts *testState) execute(args ...string) int {
	c := newRootCommand(ts.globalState)
	c.cmd.SetArgs(args)
	return c.execute()
}

func (ts *testState) errorEntries() []logrus.Entry {
	var out []logrus.Entry
	for _, e := range ts.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			out = append(out, *e)
		}
	}
	return out
}

func fast() []string {
	return []string{"--timeout", "200ms", "--poll-interval", "10ms"}
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	code := ts.execute(append([]string{"run"}, fast()...)...)

	assert.Equal(t, 0, code)
	assert.Empty(t, ts.errorEntries())
	assert.Contains(t, ts.stdout.String(), "logged in")
	assert.Equal(t, "alice", ts.fixture.Value(usernameSel))
	assert.Equal(t, 1, ts.fixture.Clicks(markerSel))
	assert.Contains(t, ts.fixture.Actions(), "navigate https://www.instagram.com")
	assert.Equal(t, 1, ts.fixture.Closes())
}

func TestRootWithoutSubcommandRuns(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	assert.Equal(t, 0, ts.execute(fast()...))
	assert.Equal(t, 1, ts.fixture.Clicks(markerSel))
}

func TestRunStepFailureLoggedOnce(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	ts.fixture = drivertest.New().Add(usernameSel, "").Add(passwordSel, "")
	code := ts.execute(append([]string{"run"}, fast()...)...)

	assert.Equal(t, 0, code)
	entries := ts.errorEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, login.StepMarker, entries[0].Data["step"])
	assert.Equal(t, "element_not_found", entries[0].Data["kind"])
	assert.Equal(t, markerSel, entries[0].Data["selector"])
	assert.Contains(t, ts.stdout.String(), "login failed (element_not_found)")
	assert.Equal(t, 1, ts.fixture.Closes())

	// The summary on stdout carries the message; stderr gets the one log line.
	lines := strings.Split(strings.TrimSpace(ts.stdout.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], markerSel)
	assert.Contains(t, lines[0], "marker step")
	assert.Contains(t, lines[0], login.ErrTimeout.Error())
}

func TestRunStrictExitsNonZero(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	ts.fixture = drivertest.New()
	code := ts.execute(append([]string{"run", "--strict"}, fast()...)...)

	assert.Equal(t, 1, code)
	entries := ts.errorEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, login.StepUsername, entries[0].Data["step"])
}

func TestRunStrictFromEnv(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	ts.fixture = drivertest.New()
	ts.env["INSTALOGIN_STRICT"] = "true"
	assert.Equal(t, 1, ts.execute(fast()...))
}

func TestRunMissingCredentials(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	delete(ts.env, "INSTALOGIN_PASSWORD")
	code := ts.execute("run")

	assert.Equal(t, 1, code)
	require.Len(t, ts.errorEntries(), 1)
	assert.Zero(t, ts.fixture.Opens(), "no browser work before credentials resolve")
	assert.Empty(t, ts.drivers)
}

func TestRunInvalidConfig(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	code := ts.execute("run", "--driver", "selenium", "--timeout", "0s")

	assert.Equal(t, 1, code)
	entries := ts.errorEntries()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "unknown driver")
	assert.Contains(t, entries[0].Message, "timeout must be positive")
}

func TestRunConfigLayering(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	require.NoError(t, afero.WriteFile(ts.fs, "/etc/instalogin.yaml", []byte(`
url: https://from-file.example
driver: chromedp
headless: true
timeout: 200ms
poll_interval: 10ms
selectors:
  username: "#user"
`), 0o644))
	ts.env[configEnvVar] = "/etc/instalogin.yaml"
	ts.env["INSTALOGIN_URL"] = "https://from-env.example"
	ts.fixture = drivertest.New().
		Add("#user", "").
		Add(passwordSel, "").
		AddOnSubmit(markerSel, 0)

	code := ts.execute("run", "--url", "https://from-flag.example")
	require.Equal(t, 0, code, ts.errorEntries())

	require.Len(t, ts.drivers, 1)
	cfg := ts.drivers[0]
	assert.Equal(t, "https://from-flag.example", cfg.URL)
	assert.Equal(t, config.DriverChromedp, cfg.Driver)
	assert.True(t, cfg.Headless)
	assert.Equal(t, "#user", cfg.Selectors.Username)
	assert.Equal(t, passwordSel, cfg.Selectors.Password)
	assert.Equal(t, "alice", ts.fixture.Value("#user"))
}

func TestRunCredentialsFromFile(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	ts.env = map[string]string{}
	require.NoError(t, afero.WriteFile(ts.fs, "creds.yaml", []byte("username: bob\npassword: hunter2\n"), 0o600))

	code := ts.execute(append([]string{"run", "--credentials-source", "file", "--credentials-file", "creds.yaml"}, fast()...)...)
	require.Equal(t, 0, code)
	assert.Equal(t, "bob", ts.fixture.Value(usernameSel))
	assert.Equal(t, "hunter2", ts.fixture.Value(passwordSel))
}

func TestRunCredentialsFromPrompt(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	ts.stdin = strings.NewReader("carol\nopen sesame\n")

	code := ts.execute(append([]string{"run", "--credentials-source", "prompt"}, fast()...)...)
	require.Equal(t, 0, code)
	assert.Equal(t, "carol", ts.fixture.Value(usernameSel))
	assert.Contains(t, ts.stderr.String(), "Password: ")
}

func TestRunWritesArtifactsOnFailure(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	ts.fixture = drivertest.New().Add(usernameSel, "")
	ts.fixture.Snapshot = &driver.Snapshot{URL: "https://www.instagram.com/", HTML: "<html></html>"}

	code := ts.execute(append([]string{"run", "--artifacts-dir", "out"}, fast()...)...)
	assert.Equal(t, 0, code)

	files, err := afero.ReadDir(ts.fs, "out")
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	require.Len(t, names, 2)
	assert.True(t, strings.HasSuffix(names[0], "-password.html"))
	assert.True(t, strings.HasSuffix(names[1], "-password.txt"))
	assert.Len(t, ts.errorEntries(), 1)
}

func TestRunNeverLogsPassword(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	ts.fixture = drivertest.New().Add(usernameSel, "").Add(passwordSel, "")
	ts.execute(append([]string{"run", "--log-level", "debug"}, fast()...)...)

	for _, e := range ts.hook.AllEntries() {
		line, err := e.String()
		require.NoError(t, err)
		assert.NotContains(t, line, "s3cret")
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	require.Equal(t, 0, ts.execute("version"))
	assert.True(t, strings.HasPrefix(ts.stdout.String(), "instalogin "))
	assert.Zero(t, ts.fixture.Opens())
}

func TestUnknownFlag(t *testing.T) {
	t.Parallel()

	ts := newTestState(t)
	assert.Equal(t, 1, ts.execute("run", "--no-such-flag"))
	assert.Len(t, ts.errorEntries(), 1)
}

func TestNewDriver(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	d, err := newDriver(cfg, logrus.New())
	require.NoError(t, err)
	assert.IsType(t, &cdpdriver.Driver{}, d)

	cfg.Driver = config.DriverChromedp
	d, err = newDriver(cfg, logrus.New())
	require.NoError(t, err)
	assert.IsType(t, &chromedpdriver.Driver{}, d)

	cfg.Driver = "selenium"
	_, err = newDriver(cfg, logrus.New())
	require.Error(t, err)
}
