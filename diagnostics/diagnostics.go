// Package diagnostics records what the page looked like when a login step
// failed: an annotated screenshot, a text description and the document HTML.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/naylin209/instalogin/driver"
	"github.com/naylin209/instalogin/login"
)

// captureTimeout bounds inspecting the page. It applies even when the run's
// context is already done, which is the usual case after a timeout.
const captureTimeout = 15 * time.Second

type Store struct {
	fs     afero.Fs
	dir    string
	now    func() time.Time
	logger logrus.FieldLogger
}

func NewStore(fs afero.Fs, dir string, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{fs: fs, dir: dir, now: time.Now, logger: logger}
}

// Capture writes the artifacts for snap and returns their paths. Parts that
// the snapshot lacks are skipped.
func (s *Store) Capture(snap *driver.Snapshot, failure *login.Error) ([]string, error) {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	base := path.Join(s.dir, fmt.Sprintf("%s-%s", s.now().UTC().Format("20060102T150405Z"), failure.Step))

	var (
		written []string
		errs    []error
	)
	write := func(name string, data []byte) {
		if err := afero.WriteFile(s.fs, name, data, 0o644); err != nil {
			errs = append(errs, err)
			return
		}
		written = append(written, name)
	}

	if len(snap.Screenshot) > 0 {
		img, ext, err := Annotate(snap.Screenshot, snap.Elements, snap.DevicePixelRatio)
		if err != nil {
			s.logger.WithError(err).Debug("annotating screenshot, keeping it as captured")
			img, ext = snap.Screenshot, ".png"
		}
		write(base+ext, img)
	}
	write(base+".txt", []byte(Describe(snap, failure)))
	if snap.HTML != "" {
		write(base+".html", []byte(RedactPasswords(snap.HTML)))
	}
	return written, errors.Join(errs...)
}

// Hook returns a login.FailureHook that captures the page when the session
// supports inspection. Capture problems are logged, never returned.
func (s *Store) Hook() login.FailureHook {
	return func(ctx context.Context, session driver.Session, failure *login.Error) {
		inspector, ok := session.(driver.Inspector)
		if !ok {
			s.logger.Debug("session does not support inspection")
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
		defer cancel()

		snap, err := inspector.Inspect(ctx)
		if snap == nil {
			s.logger.WithError(err).Warn("capturing page state")
			return
		}
		if err != nil {
			s.logger.WithError(err).Debug("page state partially captured")
		}
		paths, err := s.Capture(snap, failure)
		if err != nil {
			s.logger.WithError(err).Warn("writing diagnostics")
		}
		if len(paths) > 0 {
			s.logger.WithField("files", paths).Info("diagnostics written")
		}
	}
}

// Describe renders the failure and the page's interactive elements as text.
func Describe(snap *driver.Snapshot, failure *login.Error) string {
	var b strings.Builder
	if failure != nil {
		fmt.Fprintf(&b, "Failed step: %s\n", failure.Step)
		fmt.Fprintf(&b, "Kind: %s\n", failure.Kind)
		if failure.Selector != "" {
			fmt.Fprintf(&b, "Selector: %s\n", failure.Selector)
		}
		fmt.Fprintf(&b, "Error: %v\n", failure.Err)
	}
	fmt.Fprintf(&b, "Current URL: %s\n", snap.URL)
	fmt.Fprintf(&b, "Title: %s\n", strings.TrimSpace(snap.Title))
	b.WriteString("Interactive Elements:\n")
	for _, el := range snap.Elements {
		text := el.Text
		if secretField(el) {
			text = ""
		}
		if text == "" {
			text = el.Attrs["aria-label"]
		}
		fmt.Fprintf(&b, "[%d]<%s>%s</%s> %s\n", el.Index, el.Tag, sanitize(text), el.Tag, el.Selector)
	}
	return b.String()
}

const maxDescribedText = 200

// secretField reports inputs that may hold the password in clear text, also
// after a show-password toggle switched their type.
func secretField(el driver.ElementInfo) bool {
	if el.Tag != "input" {
		return false
	}
	switch strings.ToLower(el.Attrs["autocomplete"]) {
	case "current-password", "new-password":
		return true
	}
	return strings.EqualFold(el.Attrs["type"], "password") || strings.EqualFold(el.Attrs["name"], "password")
}

func sanitize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxDescribedText {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxDescribedText]) + "..."
}

var (
	passwordInput = regexp.MustCompile(`(?i)<input\b[^>]*\b(?:type\s*=\s*["']?password|name\s*=\s*["']?password|autocomplete\s*=\s*["']?(?:current|new)-password)\b[^>]*>`)
	valueAttr     = regexp.MustCompile(`(?i)(\bvalue\s*=\s*)("[^"]*"|'[^']*'|[^\s>]+)`)
)

// RedactPasswords blanks the value attribute of password inputs, recognised
// by type, name or autocomplete hint. Some frameworks mirror the typed value
// into the attribute.
func RedactPasswords(html string) string {
	return passwordInput.ReplaceAllStringFunc(html, func(tag string) string {
		return valueAttr.ReplaceAllString(tag, `${1}"[redacted]"`)
	})
}
