package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"listingflow/internal/app"
	"listingflow/internal/config"
	"listingflow/internal/eventlog"
	"listingflow/internal/logging"
	"listingflow/internal/shopify"
)

func main() {
	id := flag.String("id", "", "event log entry to replay")
	target := flag.String("url", "", "webhook URL; defaults to WEBHOOK_BASE_URL plus the logged path")
	list := flag.Bool("list", false, "list replayable error entries")
	flag.Parse()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, true)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init failed", zap.Error(err))
	}

	if *list {
		entries, err := a.Journal.List(ctx)
		if err != nil {
			log.Fatal("read event log", zap.Error(err))
		}
		for _, e := range entries {
			if !eventlog.Replayable(&e) {
				continue
			}
			if _, err := eventlog.RawBody(&e, a.Sealer); err != nil {
				continue
			}
			fmt.Printf("%s  %s  %s\n", e.ID, e.Timestamp, e.Message)
		}
		return
	}

	if *id == "" {
		fmt.Fprintln(os.Stderr, "usage: replay-webhook -id <entry id> [-url <webhook url>] | -list")
		os.Exit(2)
	}

	entry, err := a.Journal.Find(ctx, *id)
	if err != nil {
		log.Fatal("read event log", zap.Error(err))
	}
	if entry == nil {
		log.Fatal("entry not found", zap.String("id", *id))
	}
	if !eventlog.Replayable(entry) {
		log.Fatal("entry holds no verified webhook body", zap.String("id", *id))
	}
	body, err := eventlog.RawBody(entry, a.Sealer)
	if err != nil {
		log.Fatal("recover body", zap.String("id", *id), zap.Error(err))
	}

	url := *target
	if url == "" {
		path, _ := entry.Details["path"].(string)
		if cfg.WebhookBaseURL == "" || path == "" {
			log.Fatal("no target: pass -url or set WEBHOOK_BASE_URL")
		}
		url = cfg.WebhookBaseURL + path
	}
	if cfg.WebhookSecret == "" {
		log.Fatal("SHOPIFY_WEBHOOK_SECRET is not set")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Fatal("build request", zap.Error(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(shopify.HeaderHMAC, shopify.SignWebhook(body, cfg.WebhookSecret))
	if topic, _ := entry.Details["topic"].(string); topic != "" {
		req.Header.Set(shopify.HeaderTopic, topic)
	}
	if shop, _ := entry.Details["shop"].(string); shop != "" {
		req.Header.Set(shopify.HeaderShopDomain, shop)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("post", zap.String("url", url), zap.Error(err))
	}
	defer res.Body.Close()
	out, _ := io.ReadAll(res.Body)

	log.Info("replayed", zap.String("id", *id), zap.String("url", url), zap.Int("status", res.StatusCode))
	fmt.Println(string(out))
	if res.StatusCode >= 300 {
		os.Exit(1)
	}
}
