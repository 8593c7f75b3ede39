// Package app builds the handlers and their collaborators from Config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"listingflow/internal/alerts"
	"listingflow/internal/config"
	"listingflow/internal/db"
	"listingflow/internal/ebay"
	"listingflow/internal/erp"
	"listingflow/internal/erpsync"
	"listingflow/internal/eventlog"
	"listingflow/internal/handlers"
	"listingflow/internal/security"
)

const orderLeaseTTL = 2 * time.Minute

type App struct {
	Config  *config.Config
	Sealer  *security.Sealer
	Journal *eventlog.Journal
	ERP     *erp.Client

	Webhooks   *handlers.Webhooks
	EbayDrafts *handlers.EbayDrafts
}

// New resolves secrets and wires everything. AWS clients are only created
// when the configuration asks for an AWS backed component.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	var awsCfg *aws.Config
	if cfg.NeedsSSM() || cfg.EventLog.Bucket != "" || cfg.OrderLeaseTable != "" || cfg.AlertsTopicArn != "" {
		c, err := db.LoadAWSConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &c
	}

	if cfg.NeedsSSM() {
		cfg.ResolveSecrets(ctx, ssm.NewFromConfig(*awsCfg), log)
	}

	a := &App{Config: cfg}

	if cfg.EventLog.EncKeyB64 != "" {
		s, err := security.NewSealerFromBase64(cfg.EventLog.EncKeyB64)
		if err != nil {
			return nil, fmt.Errorf("event log key: %w", err)
		}
		a.Sealer = s
	}

	var store eventlog.Store = &eventlog.FileStore{Path: cfg.EventLog.Path}
	if cfg.EventLog.Bucket != "" {
		store = &eventlog.S3Store{
			Client: s3.NewFromConfig(*awsCfg),
			Bucket: cfg.EventLog.Bucket,
			Key:    cfg.EventLog.Key,
		}
	}

	var notifier alerts.Notifier = alerts.Nop{}
	if cfg.AlertsTopicArn != "" {
		notifier = alerts.NewSNSNotifier(sns.NewFromConfig(*awsCfg), cfg.AlertsTopicArn, log)
	}

	opts := []eventlog.Option{eventlog.WithNotifier(notifier)}
	if a.Sealer != nil {
		opts = append(opts, eventlog.WithSealer(a.Sealer))
	}
	a.Journal = eventlog.NewJournal(store, log, opts...)

	a.ERP = erp.NewClient(erp.Options{
		BaseURL:   cfg.ERP.BaseURL,
		APIKey:    cfg.ERP.APIKey,
		APISecret: cfg.ERP.APISecret,
		RateLimit: cfg.ERP.RateLimitRPS,
	})

	var leaser erpsync.Leaser = erpsync.NewLocalLeaser()
	if cfg.OrderLeaseTable != "" {
		leases := db.NewLeases(dynamodb.NewFromConfig(*awsCfg), cfg.OrderLeaseTable, orderLeaseTTL)
		leaser = erpsync.Chain(leaser, erpsync.NewTableLeaser(leases, log))
	}

	defaults := erpsync.Defaults{
		ItemGroup:     cfg.ERP.ItemGroup,
		StockUOM:      cfg.ERP.StockUOM,
		CustomerGroup: cfg.ERP.CustomerGroup,
		Territory:     cfg.ERP.Territory,
	}
	orders := erpsync.NewOrderSync(a.ERP, a.Journal, leaser, defaults, log)
	products := erpsync.NewProductSync(a.ERP, a.Journal, defaults, log)
	a.Webhooks = handlers.NewWebhooks(cfg.WebhookSecret, orders, products, a.Journal, log)

	base := ebay.BaseURL(cfg.Ebay.Env)
	tokens := ebay.NewTokenSource(base, cfg.Ebay.ClientID, cfg.Ebay.ClientSecret, cfg.Ebay.RefreshToken, nil)
	drafter := ebay.NewClient(tokens, ebay.Options{
		BaseURL:         base,
		MarketplaceID:   cfg.Ebay.MarketplaceID,
		ContentLanguage: cfg.Ebay.ContentLanguage,
		Currency:        cfg.Ebay.Currency,
		Location: ebay.Location{
			Key:        cfg.Ebay.LocationKey,
			Country:    cfg.Ebay.LocationCountry,
			PostalCode: cfg.Ebay.LocationPostcode,
			City:       cfg.Ebay.LocationCity,
		},
	}, log)
	a.EbayDrafts = handlers.NewEbayDrafts(drafter, a.ERP, a.Journal, log)

	log.Info("app wired",
		zap.Bool("s3_event_log", cfg.EventLog.Bucket != ""),
		zap.Bool("sealed_bodies", a.Sealer != nil),
		zap.Bool("table_leases", cfg.OrderLeaseTable != ""),
		zap.Bool("sns_alerts", cfg.AlertsTopicArn != ""),
	)
	return a, nil
}
