package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/naylin209/instalogin/diagnostics"
	"github.com/naylin209/instalogin/login"
)

func getCmdRun(c *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Open the browser and sign in",
		Example: `  INSTALOGIN_USERNAME=me INSTALOGIN_PASSWORD=... instalogin run
  instalogin run --credentials-source prompt --headless --timeout 20s
  instalogin run --cdp-url http://localhost:9222 --artifacts-dir ./failures`,
		Args: cobra.NoArgs,
		RunE: c.run,
	}
}

// run performs one login. A failed step is returned with exit status 0
// unless strict mode is on; configuration and credential errors always exit
// with 1.
func (c *rootCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := c.loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if err := c.setupLogger(cfg); err != nil {
		return err
	}
	logger := c.gs.logger

	resolver := cfg.CredentialsResolver()
	resolver.Fs = c.gs.fs
	resolver.LookupEnv = c.gs.lookupEnv
	resolver.Stdin = c.gs.stdin
	resolver.Prompt = c.gs.stderr
	creds, err := resolver.Resolve()
	if err != nil {
		return err
	}

	d, err := c.gs.newDriver(cfg, logger)
	if err != nil {
		return err
	}
	runner := login.NewRunner(d, cfg.LoginOptions(), logger)
	if cfg.ArtifactsDir != "" {
		runner.OnFailure(diagnostics.NewStore(c.gs.fs, cfg.ArtifactsDir, logger).Hook())
	}

	logger.WithFields(logrus.Fields{
		"url":      cfg.URL,
		"driver":   cfg.Driver,
		"username": creds.Username,
		"timeout":  cfg.Timeout,
	}).Info("starting login")

	report, err := runner.Run(cmd.Context(), creds)
	logReport(logger, report)
	printSummary(c.gs.stdout, c.gs.stdoutTTY, report, err)
	if err != nil {
		code := 0
		if cfg.Strict {
			code = 1
		}
		return withExitCodeIfNone(err, code)
	}
	return nil
}

func logReport(logger logrus.FieldLogger, report *login.Report) {
	fields := logrus.Fields{"elapsed": report.Elapsed, "completed": len(report.Steps)}
	for _, s := range report.Steps {
		fields["step_"+string(s.Step)] = s.Elapsed
	}
	logger.WithFields(fields).Info("run report")
}

func printSummary(w io.Writer, colored bool, report *login.Report, err error) {
	ok := color.New(color.FgGreen, color.Bold)
	bad := color.New(color.FgRed, color.Bold)
	if !colored {
		ok.DisableColor()
		bad.DisableColor()
	}
	if err == nil {
		_, _ = ok.Fprintf(w, "logged in")
		_, _ = fmt.Fprintf(w, " in %s\n", report.Elapsed.Round(time.Millisecond))
		return
	}
	_, _ = bad.Fprintf(w, "login failed")
	if kind, found := login.KindOf(err); found {
		_, _ = fmt.Fprintf(w, " (%s)", kind)
	}
	_, _ = fmt.Fprintf(w, " after %s: %v\n", report.Elapsed.Round(time.Millisecond), err)
}
