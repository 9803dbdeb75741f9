package main

import "errors"

// hasExitCode is an error that decides the process exit status when it
// reaches the top of the command.
type hasExitCode interface {
	error
	ExitCode() int
}

// withExitCodeIfNone attaches code to err unless err already carries one.
func withExitCodeIfNone(err error, code int) error {
	if err == nil {
		return nil
	}
	var ec hasExitCode
	if errors.As(err, &ec) {
		return err
	}
	return withExitCode{err, code}
}

type withExitCode struct {
	error
	exitCode int
}

func (e withExitCode) Unwrap() error {
	return e.error
}

func (e withExitCode) ExitCode() int {
	return e.exitCode
}

var _ hasExitCode = withExitCode{}
