package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hemlockoak/parcelscan/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := RunScanWorker(ctx, cfg, defaultWorkerFactories(), os.Getenv("swaggerPath")); err != nil && err != context.Canceled {
		panic(err)
	}
}
