package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/naylin209/instalogin/config"
	"github.com/naylin209/instalogin/login"
)

const configEnvVar = "INSTALOGIN_CONFIG"

type cliFlags struct {
	configPath        string
	url               string
	driver            string
	cdpURL            string
	browserBin        string
	headless          bool
	noSandbox         bool
	timeout           time.Duration
	pollInterval      time.Duration
	credentialsSource string
	credentialsFile   string
	artifactsDir      string
	logLevel          string
	logFormat         string
	strict            bool
}

type rootCommand struct {
	gs    *globalState
	cmd   *cobra.Command
	flags cliFlags
}

func newRootCommand(gs *globalState) *rootCommand {
	c := &rootCommand{gs: gs}
	c.cmd = &cobra.Command{
		Use:   "instalogin",
		Short: "Sign in to Instagram through a real browser",
		Long: "instalogin opens a browser, fills in the login form with externally supplied\n" +
			"credentials and waits for the signed-in page. Running it without a subcommand\n" +
			"is the same as \"instalogin run\".",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.run,
	}
	c.cmd.SetIn(gs.stdin)
	c.cmd.SetOut(gs.stdout)
	c.cmd.SetErr(gs.stderr)
	c.cmd.PersistentFlags().AddFlagSet(c.persistentFlagSet())
	c.cmd.AddCommand(getCmdRun(c), getCmdVersion(gs))
	return c
}

func (c *rootCommand) persistentFlagSet() *pflag.FlagSet {
	d := config.Default()
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVarP(&c.flags.configPath, "config", "c", "", "YAML config file (env "+configEnvVar+")")
	flags.StringVar(&c.flags.url, "url", d.URL, "page holding the login form")
	flags.StringVar(&c.flags.driver, "driver", d.Driver, "browser backend: cdp or chromedp")
	flags.StringVar(&c.flags.cdpURL, "cdp-url", "", "attach to a running browser instead of launching one (http://host:9222)")
	flags.StringVar(&c.flags.browserBin, "browser-bin", "", "browser executable to launch (default: detected)")
	flags.BoolVar(&c.flags.headless, "headless", d.Headless, "launch the browser without a window")
	flags.BoolVar(&c.flags.noSandbox, "no-sandbox", d.NoSandbox, "launch the browser with --no-sandbox")
	flags.DurationVar(&c.flags.timeout, "timeout", d.Timeout, "how long each step waits for its element")
	flags.DurationVar(&c.flags.pollInterval, "poll-interval", d.PollInterval, "pause between element lookups")
	flags.StringVar(&c.flags.credentialsSource, "credentials-source", d.CredentialsSource, "where to read credentials: env, prompt or file")
	flags.StringVar(&c.flags.credentialsFile, "credentials-file", "", "YAML credentials file for the file source")
	flags.StringVar(&c.flags.artifactsDir, "artifacts-dir", "", "write a screenshot and page dump here when a step fails")
	flags.StringVar(&c.flags.logLevel, "log-level", d.LogLevel, "log level: debug, info, warn or error")
	flags.StringVar(&c.flags.logFormat, "log-format", d.LogFormat, "log format: text or json")
	flags.BoolVar(&c.flags.strict, "strict", d.Strict, "exit with status 1 when the login fails")
	must(cobra.MarkFlagFilename(flags, "config", "yaml", "yml"))
	must(cobra.MarkFlagFilename(flags, "credentials-file", "yaml", "yml"))
	return flags
}

// loadConfig layers defaults, the config file, the environment and the
// flags the user actually set.
func (c *rootCommand) loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()

	path := c.flags.configPath
	if !flags.Changed("config") {
		path, _ = c.gs.lookupEnv(configEnvVar)
	}
	if path != "" {
		if err := config.LoadFile(c.gs.fs, path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := config.ApplyEnv(&cfg, c.gs.lookupEnv); err != nil {
		return cfg, err
	}
	c.flags.apply(flags, &cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (f *cliFlags) apply(flags *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("url", func() { cfg.URL = f.url })
	set("driver", func() { cfg.Driver = f.driver })
	set("cdp-url", func() { cfg.CDPURL = f.cdpURL })
	set("browser-bin", func() { cfg.BrowserBin = f.browserBin })
	set("headless", func() { cfg.Headless = f.headless })
	set("no-sandbox", func() { cfg.NoSandbox = f.noSandbox })
	set("timeout", func() { cfg.Timeout = f.timeout })
	set("poll-interval", func() { cfg.PollInterval = f.pollInterval })
	set("credentials-source", func() { cfg.CredentialsSource = f.credentialsSource })
	set("credentials-file", func() { cfg.CredentialsFile = f.credentialsFile })
	set("artifacts-dir", func() { cfg.ArtifactsDir = f.artifactsDir })
	set("log-level", func() { cfg.LogLevel = f.logLevel })
	set("log-format", func() { cfg.LogFormat = f.logFormat })
	set("strict", func() { cfg.Strict = f.strict })
}

// execute runs the command line and returns the process exit status. This
// is the only place a failure gets logged.
func (c *rootCommand) execute() int {
	err := c.cmd.ExecuteContext(c.gs.ctx)
	if err == nil {
		return 0
	}

	fields := logrus.Fields{}
	var failure *login.Error
	if errors.As(err, &failure) {
		fields["step"] = failure.Step
		fields["kind"] = failure.Kind.String()
		if failure.Selector != "" {
			fields["selector"] = failure.Selector
		}
	}
	c.gs.logger.WithFields(fields).Error(err)

	var ec hasExitCode
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 1
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
