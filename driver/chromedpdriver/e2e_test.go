package chromedpdriver

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naylin209/instalogin/credentials"
	"github.com/naylin209/instalogin/driver"
	"github.com/naylin209/instalogin/driver/drivertest"
	"github.com/naylin209/instalogin/login"
)

func TestE2E(t *testing.T) {
	if os.Getenv("INSTALOGIN_E2E") != "1" {
		t.Skip("set INSTALOGIN_E2E=1 to run against a real browser")
	}
	site := drivertest.NewLoginPageServer(t)

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	d := New(driver.Config{
		BrowserBin:   os.Getenv("INSTALOGIN_BROWSER_BIN"),
		Headless:     true,
		NoSandbox:    true,
		WindowWidth:  1280,
		WindowHeight: 720,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	session, err := d.Open(ctx)
	require.NoError(t, err)
	defer func() { assert.NoError(t, session.Close()) }()
	require.NoError(t, session.Navigate(ctx, site.URL))
	require.NoError(t, session.Maximize(ctx))

	creds := credentials.Credentials{Username: "alice", Password: "s3cret"}
	r := login.NewRunner(d, login.Options{URL: site.URL, Timeout: 10 * time.Second}, logger)
	report := &login.Report{}
	require.NoError(t, r.Sequence(ctx, session, creds, report))
	assert.True(t, report.Completed(login.StepMarker))

	// The page records what was submitted when the marker is clicked; the
	// prefilled username must have been replaced.
	inspector, ok := session.(driver.Inspector)
	require.True(t, ok)
	var title string
	require.Eventually(t, func() bool {
		snap, _ := inspector.Inspect(ctx)
		if snap != nil {
			title = snap.Title
		}
		return title == drivertest.SignedInTitle(creds.Username, creds.Password)
	}, 5*time.Second, 100*time.Millisecond, "marker click never recorded the submitted credentials")
}

func TestE2ESessionQuery(t *testing.T) {
	if os.Getenv("INSTALOGIN_E2E") != "1" {
		t.Skip("set INSTALOGIN_E2E=1 to run against a real browser")
	}
	site := drivertest.NewLoginPageServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := New(driver.Config{Headless: true, NoSandbox: true, BrowserBin: os.Getenv("INSTALOGIN_BROWSER_BIN")}, nil).Open(ctx)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Navigate(ctx, site.URL))
	el, err := s.Query(ctx, "input[name='username']")
	require.NoError(t, err)
	require.NotNil(t, el)
	require.NoError(t, el.Clear(ctx))

	missing, err := s.Query(ctx, "svg[aria-label='Messenger']")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
