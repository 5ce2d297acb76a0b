package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/atlassian/apicompat/cmd/compat-proxy/app"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()
	app.CancelOnInterrupt(ctx, cancelFunc)

	a, err := app.NewFromFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		// No logger yet
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		return 1
	}
	defer a.Logger.Sync() // nolint: errcheck

	err = a.Run(ctx)
	switch errors.Cause(err) {
	case nil, context.Canceled, context.DeadlineExceeded:
		a.Logger.Info("Proxy stopped")
		return 0
	default:
		a.Logger.Error("Proxy failed", zap.Error(err))
		return 1
	}
}
