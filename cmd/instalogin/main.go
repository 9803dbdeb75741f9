// Command instalogin signs in to a web account by driving a real browser
// through the login form.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := newRootCommand(newGlobalState(ctx)).execute()
	stop()
	os.Exit(code)
}
