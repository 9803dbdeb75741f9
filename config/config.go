// Package config holds the program configuration. Values are layered:
// defaults, then an optional YAML file, then INSTALOGIN_* environment
// variables, then command line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/naylin209/instalogin/credentials"
	"github.com/naylin209/instalogin/driver"
	"github.com/naylin209/instalogin/login"
)

const (
	DriverCDP      = "cdp"
	DriverChromedp = "chromedp"
)

type Selectors struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Marker   string `yaml:"marker"`
}

type Config struct {
	URL        string `yaml:"url" envconfig:"INSTALOGIN_URL"`
	Driver     string `yaml:"driver" envconfig:"INSTALOGIN_DRIVER"`
	CDPURL     string `yaml:"cdp_url" envconfig:"INSTALOGIN_CDP_URL"`
	BrowserBin string `yaml:"browser_bin" envconfig:"INSTALOGIN_BROWSER_BIN"`
	Headless   bool   `yaml:"headless" envconfig:"INSTALOGIN_HEADLESS"`
	NoSandbox  bool   `yaml:"no_sandbox" envconfig:"INSTALOGIN_NO_SANDBOX"`
	// WindowWidth and WindowHeight size a launched window, and the viewport
	// when the window cannot be maximized.
	WindowWidth  int `yaml:"window_width" envconfig:"INSTALOGIN_WINDOW_WIDTH"`
	WindowHeight int `yaml:"window_height" envconfig:"INSTALOGIN_WINDOW_HEIGHT"`

	Timeout      time.Duration `yaml:"timeout" envconfig:"INSTALOGIN_TIMEOUT"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"INSTALOGIN_POLL_INTERVAL"`
	Selectors    Selectors     `yaml:"selectors" ignored:"true"`

	CredentialsSource string `yaml:"credentials_source" envconfig:"INSTALOGIN_CREDENTIALS_SOURCE"`
	CredentialsFile   string `yaml:"credentials_file" envconfig:"INSTALOGIN_CREDENTIALS_FILE"`

	ArtifactsDir string `yaml:"artifacts_dir" envconfig:"INSTALOGIN_ARTIFACTS_DIR"`
	LogLevel     string `yaml:"log_level" envconfig:"INSTALOGIN_LOG_LEVEL"`
	LogFormat    string `yaml:"log_format" envconfig:"INSTALOGIN_LOG_FORMAT"`
	Strict       bool   `yaml:"strict" envconfig:"INSTALOGIN_STRICT"`
}

func Default() Config {
	defaults := login.DefaultSelectors()
	return Config{
		URL:          "https://www.instagram.com",
		Driver:       DriverCDP,
		WindowWidth:  1920,
		WindowHeight: 1080,
		Timeout:      login.DefaultTimeout,
		PollInterval: login.DefaultPollInterval,
		Selectors: Selectors{
			Username: defaults.Username,
			Password: defaults.Password,
			Marker:   defaults.Marker,
		},
		CredentialsSource: string(credentials.SourceEnv),
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// LoadFile overlays the YAML file at path onto cfg. Unknown keys are an
// error.
func LoadFile(fs afero.Fs, path string, cfg *Config) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the INSTALOGIN_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if err := envconfig.Process("", cfg, lookup); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("url must not be empty"))
	}
	switch c.Driver {
	case DriverCDP, DriverChromedp:
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q (want cdp or chromedp)", c.Driver))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	} else if c.PollInterval > c.Timeout {
		errs = append(errs, fmt.Errorf("poll interval %s exceeds timeout %s", c.PollInterval, c.Timeout))
	}
	if c.Selectors.Username == "" || c.Selectors.Password == "" || c.Selectors.Marker == "" {
		errs = append(errs, errors.New("selectors must not be empty"))
	}
	source, err := credentials.ParseSource(c.CredentialsSource)
	if err != nil {
		errs = append(errs, err)
	} else if source == credentials.SourceFile && c.CredentialsFile == "" {
		errs = append(errs, errors.New("credentials_file is required with the file source"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat))
	}
	return errors.Join(errs...)
}

func (c Config) LoginOptions() login.Options {
	return login.Options{
		URL: c.URL,
		Selectors: login.Selectors{
			Username: c.Selectors.Username,
			Password: c.Selectors.Password,
			Marker:   c.Selectors.Marker,
		},
		Timeout:      c.Timeout,
		PollInterval: c.PollInterval,
	}
}

func (c Config) DriverConfig() driver.Config {
	return driver.Config{
		CDPURL:       c.CDPURL,
		BrowserBin:   c.BrowserBin,
		Headless:     c.Headless,
		NoSandbox:    c.NoSandbox,
		WindowWidth:  c.WindowWidth,
		WindowHeight: c.WindowHeight,
	}
}

func (c Config) CredentialsResolver() credentials.Resolver {
	source, _ := credentials.ParseSource(c.CredentialsSource)
	return credentials.Resolver{Source: source, File: c.CredentialsFile}
}
