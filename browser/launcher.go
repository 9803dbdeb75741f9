package browser

import (
	"fmt"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/sirupsen/logrus"
)

// LaunchOptions controls how a local browser process is started.
type LaunchOptions struct {
	// Bin is the browser executable. Empty means the first Chrome/Chromium
	// found on the system.
	Bin          string
	Headless     bool
	NoSandbox    bool
	WindowWidth  int
	WindowHeight int
}

// Process is a browser started by Launch.
type Process struct {
	ControlURL string
	launcher   *launcher.Launcher
	logger     logrus.FieldLogger
}

// Launch starts a browser with remote debugging enabled and returns its
// DevTools websocket URL. The caller owns the process and must Close it.
func Launch(opts LaunchOptions, logger logrus.FieldLogger) (*Process, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := launcher.New().Headless(opts.Headless).NoSandbox(opts.NoSandbox)
	bin := opts.Bin
	if bin == "" {
		if found, ok := launcher.LookPath(); ok {
			bin = found
		}
	}
	if bin != "" {
		l = l.Bin(bin)
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", opts.WindowWidth, opts.WindowHeight))
	}
	l = l.Set("no-first-run").Set("no-default-browser-check")

	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	logger.WithFields(logrus.Fields{"bin": bin, "headless": opts.Headless, "pid": l.PID()}).Debug("browser launched")
	return &Process{ControlURL: controlURL, launcher: l, logger: logger}, nil
}

// Close kills the browser and removes its temporary profile directory.
func (p *Process) Close() error {
	if p == nil || p.launcher == nil {
		return nil
	}
	p.launcher.Kill()
	p.launcher.Cleanup()
	p.logger.Debug("browser process stopped")
	return nil
}
