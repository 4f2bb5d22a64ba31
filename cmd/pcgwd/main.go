// Command pcgwd runs the payment-gated LLM API gateway daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paychand/pcgw"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pcgwd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := pcgw.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	gw, err := pcgw.New(cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return gw.Run(ctx)
}
