// authclient - a client for the account service with a shared,
// explicitly released session.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"authclient/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "authclient: %v\n", err)
		os.Exit(1)
	}
}
