// Command webview opens a web view on a browser page and drives it from the
// standard input.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grafana/xk6-webview/osext"
)

// exitInterrupted is the exit code after a second interrupt signal.
const exitInterrupted = 105

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigC := make(chan os.Signal, 2)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigC
		fmt.Fprintf(os.Stderr, "received %s, stopping; send it again to kill the browser\n", sig)
		cancel()

		<-sigC
		osext.ForceProcessShutdown(ctx)
		os.Exit(exitInterrupted)
	}()

	c := newRootCommand(os.Stdin, os.Stdout, os.Stderr, launchChromium)
	if err := c.cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1) //nolint:gocritic
	}
}
