package cdpdriver

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

// TestE2E drives a real Chrome through the fixture login page. Run with
// INSTALOGIN_E2E=1; INSTALOGIN_BROWSER_BIN picks the executable.
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
