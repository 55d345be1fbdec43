package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jamesnjugunah/vendorshop/cmd/checkout-api/app"
	"github.com/jamesnjugunah/vendorshop/configs"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
)

func main() {
	env := os.Getenv("APP_ENV") // dev | staging | prod
	if env == "" {
		env = "dev"
	}

	cfg, err := configs.Load("configs", env)
	if err != nil {
		log.Fatal(err)
	}
	logging.Init(cfg.App.Name, cfg.App.LogFile, cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := app.InitWithConfig(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	logging.Base().Info("checkout-api listening", "env", env, "addr", cfg.App.HTTPAddr)
	if err := a.Run(ctx); err != nil {
		logging.Base().Error("checkout-api stopped", "error", err)
		cleanup()
		os.Exit(1)
	}
}
