package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"metagen/server/internal/app"
	"metagen/server/internal/config"
	"metagen/server/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(cfg.LogLevel)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("app_init_failed", "error", err)
		os.Exit(1)
	}

	adapter := httpadapter.NewV2(a.Router)
	lambda.Start(adapter.ProxyWithContext)
}
