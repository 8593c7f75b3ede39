package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"listingflow/internal/config"
	"listingflow/internal/handlers"
	"listingflow/internal/logging"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.IsDevelopment()).With(zap.String("fn", "health"))
	defer func() { _ = log.Sync() }()

	lambda.Start(handlers.NewHealth("listingflow", log))
}
