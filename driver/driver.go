// Package driver defines the browser automation boundary the login sequence
// is written against. Backends live in the cdpdriver and chromedpdriver
// subpackages; drivertest provides an in-memory fixture for tests.
package driver

import (
	"context"
	"errors"
)

// Sentinel errors backends wrap so callers can classify failures without
// knowing the backend.
var (
	ErrLaunch  = errors.New("browser session could not be started")
	ErrNetwork = errors.New("network failure")
)

// KeyEnter is the key name that submits a form.
const KeyEnter = "Enter"

// Driver acquires browser sessions.
type Driver interface {
	// Open starts or connects to a browser and returns a session focused on
	// one page. The caller must Close it.
	Open(ctx context.Context) (Session, error)
}

// Session is one live browser under automated control.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// Maximize resizes the window to fill the screen.
	Maximize(ctx context.Context) error
	// Query looks the selector up once. A nil Element with a nil error means
	// nothing matches yet.
	Query(ctx context.Context, selector string) (Element, error)
	Close() error
}

// Element is a resolved DOM node. It should be used right after Query
// returned it; a page mutation may invalidate it.
type Element interface {
	Clear(ctx context.Context) error
	Type(ctx context.Context, text string) error
	Press(ctx context.Context, key string) error
	Click(ctx context.Context) error
}

// Inspector is implemented by sessions that can capture the page for
// failure diagnostics.
type Inspector interface {
	Inspect(ctx context.Context) (*Snapshot, error)
}

// Snapshot is the state of the page at one moment.
type Snapshot struct {
	URL              string
	Title            string
	HTML             string
	Screenshot       []byte
	DevicePixelRatio float64
	Elements         []ElementInfo
}

// ElementInfo describes one interactive element in CSS pixels.
type ElementInfo struct {
	Index    int
	Tag      string
	Text     string
	Selector string
	Attrs    map[string]string
	X        float64
	Y        float64
	Width    float64
	Height   float64
}

// Config is shared by all backends.
type Config struct {
	// CDPURL connects to an already running browser (http://host:9222 or a
	// ws:// DevTools URL). Empty launches a new local browser.
	CDPURL       string
	BrowserBin   string
	Headless     bool
	NoSandbox    bool
	WindowWidth  int
	WindowHeight int
}
