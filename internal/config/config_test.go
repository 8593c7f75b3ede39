package config

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeParams map[string]string

func (f fakeParams) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	v, ok := f[aws.ToString(in.Name)]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(v)}}, nil
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ERP_BASE_URL", "https://erp.example.com/")
	t.Setenv("ERP_RATE_LIMIT_RPS", "not-a-number")

	cfg := Load()
	assert.Equal(t, "https://erp.example.com", cfg.ERP.BaseURL)
	assert.Equal(t, 0.0, cfg.ERP.RateLimitRPS)
	assert.Equal(t, "data/webhook-logs.json", cfg.EventLog.Path)
	assert.Equal(t, "EBAY_DE", cfg.Ebay.MarketplaceID)
	assert.Equal(t, "Nos", cfg.ERP.StockUOM)
	assert.False(t, cfg.IsDevelopment())
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("ERP_API_SECRET", "")
	t.Setenv("ERP_API_SECRET_PARAM", "/listingflow/erp-secret")
	t.Setenv("SHOPIFY_WEBHOOK_SECRET", "from-env")
	t.Setenv("SHOPIFY_WEBHOOK_SECRET_PARAM", "/listingflow/webhook-secret")
	t.Setenv("EBAY_REFRESH_TOKEN_PARAM", "/listingflow/missing")

	cfg := Load()
	require.True(t, cfg.NeedsSSM())

	cfg.ResolveSecrets(context.Background(), fakeParams{
		"/listingflow/erp-secret":     " s3cret ",
		"/listingflow/webhook-secret": "from-ssm",
	}, zap.NewNop())

	assert.Equal(t, "s3cret", cfg.ERP.APISecret)
	// explicit env wins over the parameter
	assert.Equal(t, "from-env", cfg.WebhookSecret)
	assert.Empty(t, cfg.Ebay.RefreshToken)
}
