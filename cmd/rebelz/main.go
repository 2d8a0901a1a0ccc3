// The `rebelz` CLI is a terminal client for the Rebelz event and
// organisation platform.
//
// Usage:
//
//	rebelz login                    sign in and store a token
//	rebelz dashboard                landing view for your account
//	rebelz events list              browse events
//	rebelz registrations my         your registrations
//	rebelz chat watch <group>       follow a chat group live
//	rebelz assistant                talk to the AI assistant
//	rebelz admin users list         administer users (manage_users)
//	rebelz version                  version info
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KobaKhit/rebelzapp-sub001/internal/apiclient"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
		os.Exit(exitCode(err))
	}
}

func describe(err error) string {
	var login *loginRequiredError
	switch {
	case errors.As(err, &login):
		return login.Error()
	case errors.Is(err, apiclient.ErrUnauthorized):
		return "session expired; run 'rebelz login'"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	}
	return err.Error()
}

func exitCode(err error) int {
	var login *loginRequiredError
	switch {
	case errors.As(err, &login), errors.Is(err, apiclient.ErrUnauthorized):
		return 3
	case errors.Is(err, context.Canceled):
		return 130
	}
	return 1
}
