package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/naylin209/instalogin/config"
	"github.com/naylin209/instalogin/driver"
	"github.com/naylin209/instalogin/driver/cdpdriver"
	"github.com/naylin209/instalogin/driver/chromedpdriver"
)

// globalState holds everything the commands touch outside the process, so
// tests can swap it out.
type globalState struct {
	ctx context.Context

	fs        afero.Fs
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	stdoutTTY bool
	stderrTTY bool
	lookupEnv func(string) (string, bool)

	logger    *logrus.Logger
	newDriver func(cfg config.Config, logger logrus.FieldLogger) (driver.Driver, error)
}

func newGlobalState(ctx context.Context) *globalState {
	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	stderrTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	stderr := colorable.NewColorableStderr()

	return &globalState{
		ctx:       ctx,
		fs:        afero.NewOsFs(),
		stdin:     os.Stdin,
		stdout:    colorable.NewColorableStdout(),
		stderr:    stderr,
		stdoutTTY: stdoutTTY,
		stderrTTY: stderrTTY,
		lookupEnv: os.LookupEnv,
		logger: &logrus.Logger{
			Out:       stderr,
			Formatter: &logrus.TextFormatter{ForceColors: stderrTTY},
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
		newDriver: newDriver,
	}
}

func newDriver(cfg config.Config, logger logrus.FieldLogger) (driver.Driver, error) {
	switch cfg.Driver {
	case config.DriverCDP:
		return cdpdriver.New(cfg.DriverConfig(), logger), nil
	case config.DriverChromedp:
		return chromedpdriver.New(cfg.DriverConfig(), logger), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}
