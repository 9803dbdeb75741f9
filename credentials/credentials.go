// Package credentials resolves the username/password pair used for login
// from the environment, an interactive prompt, or a YAML file.
package credentials

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Source names where credentials come from.
type Source string

const (
	SourceEnv    Source = "env"
	SourcePrompt Source = "prompt"
	SourceFile   Source = "file"
)

// Sources lists every recognized source.
var Sources = []Source{SourceEnv, SourcePrompt, SourceFile}

// ParseSource validates a source name.
func ParseSource(name string) (Source, error) {
	for _, s := range Sources {
		if string(s) == strings.ToLower(strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown credentials source %q (want env, prompt or file)", name)
}

// ErrMissing is returned when a source yields an empty username or password.
var ErrMissing = errors.New("username and password are required")

type Credentials struct {
	Username string `yaml:"username" envconfig:"INSTALOGIN_USERNAME"`
	Password string `yaml:"password" envconfig:"INSTALOGIN_PASSWORD"`
}

// String never includes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s:********", c.Username)
}

func (c Credentials) Validate() error {
	if c.Username == "" || c.Password == "" {
		return ErrMissing
	}
	return nil
}

// Resolver reads credentials from the configured Source.
type Resolver struct {
	Source Source
	// File is the YAML credentials file for SourceFile.
	File string
	Fs   afero.Fs
	// LookupEnv is used by SourceEnv; nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Stdin and Prompt are used by SourcePrompt. Password echo is disabled
	// when Stdin is a terminal.
	Stdin  io.Reader
	Prompt io.Writer
}

func (r Resolver) Resolve() (Credentials, error) {
	var (
		creds Credentials
		err   error
	)
	switch r.Source {
	case SourceEnv:
		creds, err = r.fromEnv()
	case SourcePrompt:
		creds, err = r.fromPrompt()
	case SourceFile:
		creds, err = r.fromFile()
	default:
		return Credentials{}, fmt.Errorf("unknown credentials source %q", r.Source)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("%s credentials: %w", r.Source, err)
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("%s credentials: %w", r.Source, err)
	}
	return creds, nil
}

func (r Resolver) fromEnv() (Credentials, error) {
	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var creds Credentials
	if err := envconfig.Process("", &creds, lookup); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

func (r Resolver) fromFile() (Credentials, error) {
	if r.File == "" {
		return Credentials{}, errors.New("credentials file not set")
	}
	fs := r.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	info, err := fs.Stat(r.File)
	if err != nil {
		return Credentials{}, err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return Credentials{}, fmt.Errorf("%s is accessible by other users (mode %04o), expected 0600", r.File, perm)
	}
	data, err := afero.ReadFile(fs, r.File)
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse %s: %w", r.File, err)
	}
	return creds, nil
}

func (r Resolver) fromPrompt() (Credentials, error) {
	in := r.Stdin
	if in == nil {
		in = os.Stdin
	}
	out := r.Prompt
	if out == nil {
		out = os.Stderr
	}
	reader := bufio.NewReader(in)

	fmt.Fprint(out, "Username: ")
	username, err := readLine(reader)
	if err != nil {
		return Credentials{}, fmt.Errorf("read username: %w", err)
	}

	fmt.Fprint(out, "Password: ")
	var password string
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return Credentials{}, fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	} else {
		password, err = readLine(reader)
		if err != nil {
			return Credentials{}, fmt.Errorf("read password: %w", err)
		}
	}
	return Credentials{Username: username, Password: password}, nil
}

// readLine returns one line without its terminator. A final line without a
// newline is accepted.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
