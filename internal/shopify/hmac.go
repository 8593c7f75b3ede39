package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const (
	HeaderHMAC       = "x-shopify-hmac-sha256"
	HeaderTopic      = "x-shopify-topic"
	HeaderShopDomain = "x-shopify-shop-domain"
	HeaderWebhookID  = "x-shopify-webhook-id"
)

// SignWebhook returns base64(HMAC-SHA256(secret, body)), the value Shopify
// sends in X-Shopify-Hmac-Sha256.
func SignWebhook(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the header against the raw, unparsed request body.
// A missing secret or header never verifies.
func VerifyWebhook(body []byte, secret, header string) bool {
	header = strings.TrimSpace(header)
	if secret == "" || header == "" {
		return false
	}
	expected := SignWebhook(body, secret)
	return hmac.Equal([]byte(expected), []byte(header))
}
