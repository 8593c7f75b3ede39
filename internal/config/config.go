package config

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv   string
	LogLevel string

	// Shopify
	WebhookSecret      string
	ShopifyShop        string
	ShopifyAccessToken string
	ShopifyAPIVersion  string
	WebhookBaseURL     string

	ERP      ERPConfig
	EventLog EventLogConfig
	Ebay     EbayConfig

	OrderLeaseTable string
	AlertsTopicArn  string
}

type ERPConfig struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	RateLimitRPS  float64
	ItemGroup     string
	StockUOM      string
	CustomerGroup string
	Territory     string
}

type EventLogConfig struct {
	Path      string
	Bucket    string
	Key       string
	EncKeyB64 string
}

type EbayConfig struct {
	ClientID         string
	ClientSecret     string
	RefreshToken     string
	Env              string
	MarketplaceID    string
	ContentLanguage  string
	Currency         string
	LocationKey      string
	LocationCountry  string
	LocationPostcode string
	LocationCity     string
}

// ParamGetter is the subset of the SSM client used to resolve *_PARAM secrets.
type ParamGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Load reads the environment. Nothing is validated here; missing values are
// reported by whichever operation needs them.
func Load() *Config {
	return &Config{
		AppEnv:   getEnv("APP_ENV", "production"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		WebhookSecret:      strings.TrimSpace(os.Getenv("SHOPIFY_WEBHOOK_SECRET")),
		ShopifyShop:        strings.ToLower(strings.TrimSpace(os.Getenv("SHOPIFY_SHOP"))),
		ShopifyAccessToken: strings.TrimSpace(os.Getenv("SHOPIFY_ACCESS_TOKEN")),
		ShopifyAPIVersion:  getEnv("SHOPIFY_API_VERSION", "2026-01"),
		WebhookBaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("WEBHOOK_BASE_URL")), "/"),

		ERP: ERPConfig{
			BaseURL:       strings.TrimRight(strings.TrimSpace(os.Getenv("ERP_BASE_URL")), "/"),
			APIKey:        strings.TrimSpace(os.Getenv("ERP_API_KEY")),
			APISecret:     strings.TrimSpace(os.Getenv("ERP_API_SECRET")),
			RateLimitRPS:  getEnvFloat("ERP_RATE_LIMIT_RPS", 0),
			ItemGroup:     getEnv("ERP_ITEM_GROUP", "All Item Groups"),
			StockUOM:      getEnv("ERP_STOCK_UOM", "Nos"),
			CustomerGroup: getEnv("ERP_CUSTOMER_GROUP", "All Customer Groups"),
			Territory:     getEnv("ERP_TERRITORY", "All Territories"),
		},

		EventLog: EventLogConfig{
			Path:      getEnv("EVENT_LOG_PATH", "data/webhook-logs.json"),
			Bucket:    strings.TrimSpace(os.Getenv("EVENT_LOG_BUCKET")),
			Key:       getEnv("EVENT_LOG_KEY", "logs/webhook-logs.json"),
			EncKeyB64: strings.TrimSpace(os.Getenv("EVENT_LOG_ENC_KEY_B64")),
		},

		Ebay: EbayConfig{
			ClientID:         strings.TrimSpace(os.Getenv("EBAY_CLIENT_ID")),
			ClientSecret:     strings.TrimSpace(os.Getenv("EBAY_CLIENT_SECRET")),
			RefreshToken:     strings.TrimSpace(os.Getenv("EBAY_REFRESH_TOKEN")),
			Env:              getEnv("EBAY_ENV", "sandbox"),
			MarketplaceID:    getEnv("EBAY_MARKETPLACE_ID", "EBAY_DE"),
			ContentLanguage:  getEnv("EBAY_CONTENT_LANGUAGE", "de-DE"),
			Currency:         getEnv("EBAY_CURRENCY", "EUR"),
			LocationKey:      getEnv("EBAY_LOCATION_KEY", "listingflow-default"),
			LocationCountry:  getEnv("EBAY_LOCATION_COUNTRY", "DE"),
			LocationPostcode: strings.TrimSpace(os.Getenv("EBAY_LOCATION_POSTAL_CODE")),
			LocationCity:     strings.TrimSpace(os.Getenv("EBAY_LOCATION_CITY")),
		},

		OrderLeaseTable: strings.TrimSpace(os.Getenv("ORDER_LEASE_TABLE")),
		AlertsTopicArn:  strings.TrimSpace(os.Getenv("ALERTS_TOPIC_ARN")),
	}
}

// ResolveSecrets fills secrets whose *_PARAM variant names an SSM parameter.
// A failed lookup is logged and leaves the value empty.
func (c *Config) ResolveSecrets(ctx context.Context, ps ParamGetter, log *zap.Logger) {
	targets := []struct {
		env string
		dst *string
	}{
		{"SHOPIFY_WEBHOOK_SECRET_PARAM", &c.WebhookSecret},
		{"SHOPIFY_ACCESS_TOKEN_PARAM", &c.ShopifyAccessToken},
		{"ERP_API_KEY_PARAM", &c.ERP.APIKey},
		{"ERP_API_SECRET_PARAM", &c.ERP.APISecret},
		{"EVENT_LOG_ENC_KEY_PARAM", &c.EventLog.EncKeyB64},
		{"EBAY_CLIENT_SECRET_PARAM", &c.Ebay.ClientSecret},
		{"EBAY_REFRESH_TOKEN_PARAM", &c.Ebay.RefreshToken},
	}

	for _, t := range targets {
		name := strings.TrimSpace(os.Getenv(t.env))
		if name == "" || *t.dst != "" {
			continue
		}
		out, err := ps.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(name),
			WithDecryption: aws.Bool(true),
		})
		if err != nil || out.Parameter == nil {
			log.Warn("ssm parameter lookup failed", zap.String("env", t.env), zap.String("param", name), zap.Error(err))
			continue
		}
		*t.dst = strings.TrimSpace(aws.ToString(out.Parameter.Value))
	}
}

func (c *Config) NeedsSSM() bool {
	for _, env := range []string{
		"SHOPIFY_WEBHOOK_SECRET_PARAM", "SHOPIFY_ACCESS_TOKEN_PARAM",
		"ERP_API_KEY_PARAM", "ERP_API_SECRET_PARAM", "EVENT_LOG_ENC_KEY_PARAM",
		"EBAY_CLIENT_SECRET_PARAM", "EBAY_REFRESH_TOKEN_PARAM",
	} {
		if strings.TrimSpace(os.Getenv(env)) != "" {
			return true
		}
	}
	return false
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}
