package login

import (
	"errors"
	"fmt"

	"github.com/naylin209/instalogin/driver"
)

// Kind classifies why a step failed.
type Kind int

const (
	// ElementNotFound: the selector did not match within the step timeout.
	ElementNotFound Kind = iota + 1
	// SessionLaunchFailure: no usable browser session could be set up.
	SessionLaunchFailure
	// NetworkFailure: the landing page could not be loaded.
	NetworkFailure
	// ActionFailure: the element was found but clearing, typing or
	// clicking it failed.
	ActionFailure
)

func (k Kind) String() string {
	switch k {
	case ElementNotFound:
		return "element_not_found"
	case SessionLaunchFailure:
		return "session_launch_failure"
	case NetworkFailure:
		return "network_failure"
	case ActionFailure:
		return "action_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Step names one stage of the login sequence.
type Step string

const (
	StepSession  Step = "session"
	StepUsername Step = "username"
	StepPassword Step = "password"
	StepMarker   Step = "marker"
)

// Error is the failure of one step.
type Error struct {
	Step     Step
	Kind     Kind
	Selector string
	Err      error
}

func (e *Error) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("%s step: %s %q: %v", e.Step, e.Kind, e.Selector, e.Err)
	}
	return fmt.Sprintf("%s step: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return 0, false
}

// classify prefers the backend's sentinel over the step's default kind.
func classify(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, driver.ErrLaunch):
		return SessionLaunchFailure
	case errors.Is(err, driver.ErrNetwork):
		return NetworkFailure
	default:
		return fallback
	}
}
