package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"listingflow/internal/app"
	"listingflow/internal/config"
	"listingflow/internal/logging"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.IsDevelopment()).With(zap.String("fn", "ebay-drafts"))
	defer func() { _ = log.Sync() }()

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("init failed", zap.Error(err))
	}
	lambda.Start(a.EbayDrafts.Handle)
}
