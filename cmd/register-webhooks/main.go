package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"listingflow/internal/config"
	"listingflow/internal/db"
	"listingflow/internal/handlers"
	"listingflow/internal/logging"
	"listingflow/internal/shopify"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "only list existing subscriptions")
	flag.Parse()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, true)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if cfg.NeedsSSM() {
		awsCfg, err := db.LoadAWSConfig(ctx)
		if err != nil {
			log.Fatal("load aws config", zap.Error(err))
		}
		cfg.ResolveSecrets(ctx, ssm.NewFromConfig(awsCfg), log)
	}

	if cfg.ShopifyShop == "" || cfg.ShopifyAccessToken == "" || cfg.WebhookBaseURL == "" {
		fmt.Fprintln(os.Stderr, "SHOPIFY_SHOP, SHOPIFY_ACCESS_TOKEN and WEBHOOK_BASE_URL must be set")
		os.Exit(2)
	}

	admin := shopify.NewAdmin(shopify.AdminOptions{
		Shop:        cfg.ShopifyShop,
		APIVersion:  cfg.ShopifyAPIVersion,
		AccessToken: cfg.ShopifyAccessToken,
	})

	if *dryRun {
		subs, err := admin.ListWebhooks(ctx)
		if err != nil {
			log.Fatal("list webhooks", zap.Error(err))
		}
		for _, s := range subs {
			fmt.Printf("%-20s %s\n", s.Topic, s.Address)
		}
		return
	}

	want := make([]shopify.Subscription, 0, len(shopify.DefaultTopics))
	for _, topic := range shopify.DefaultTopics {
		path := handlers.OrdersPath
		if strings.HasPrefix(topic, "products/") {
			path = handlers.ProductsPath
		}
		want = append(want, shopify.Subscription{Topic: topic, Address: cfg.WebhookBaseURL + path})
	}

	created, failed, err := admin.EnsureWebhooks(ctx, want)
	if err != nil {
		log.Fatal("ensure webhooks", zap.Error(err))
	}
	log.Info("webhooks registered", zap.Strings("created", created), zap.Int("failed", len(failed)))
	for _, f := range failed {
		log.Error("webhook not registered", zap.String("topic", f["topic"]), zap.String("error", f["error"]))
	}
	if len(failed) > 0 {
		os.Exit(1)
	}
}
