// Command oxd-server runs the oxd relying-party proxy.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/zaphod72/oxd/cmd/oxd-server/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
