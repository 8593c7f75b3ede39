package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"listingflow/internal/erpsync"
	"listingflow/internal/eventlog"
	"listingflow/internal/shopify"
)

const (
	OrdersPath   = "/api/webhooks/shopify/orders"
	ProductsPath = "/api/webhooks/shopify/products"
	LogsPath     = "/api/webhooks/logs"
)

type OrderSyncer interface {
	Sync(ctx context.Context, o *shopify.Order) (*erpsync.OrderResult, error)
}

type ProductSyncer interface {
	Sync(ctx context.Context, p *shopify.Product) (*erpsync.ProductResult, error)
}

// EventLog is what the handler needs from the journal.
type EventLog interface {
	erpsync.Recorder
	// Warn records without alerting; used for unauthenticated requests.
	Warn(ctx context.Context, msg string, details map[string]any)
	List(ctx context.Context) ([]eventlog.Entry, error)
}

type Webhooks struct {
	secret   string
	orders   OrderSyncer
	products ProductSyncer
	events   EventLog
	log      *zap.Logger
	now      func() time.Time
}

func NewWebhooks(secret string, orders OrderSyncer, products ProductSyncer, events EventLog, log *zap.Logger) *Webhooks {
	return &Webhooks{
		secret:   secret,
		orders:   orders,
		products: products,
		events:   events,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle routes the webhook and log endpoints.
func (h *Webhooks) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	switch req.RawPath {
	case OrdersPath, ProductsPath:
		switch method(req) {
		case http.MethodGet:
			return jsonResp(200, map[string]any{
				"ok":        true,
				"path":      req.RawPath,
				"timestamp": h.now().Format(time.RFC3339Nano),
			})
		case http.MethodPost:
			return h.receive(ctx, req)
		}
		return errResp(405, "method not allowed")
	case LogsPath:
		if method(req) != http.MethodGet {
			return errResp(405, "method not allowed")
		}
		entries, err := h.events.List(ctx)
		if err != nil {
			h.log.Error("read event log", zap.Error(err))
			return errResp(500, "failed to read logs")
		}
		return jsonResp(200, entries)
	default:
		return errResp(404, "not found")
	}
}

func (h *Webhooks) receive(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	kind := "Order"
	if req.RawPath == ProductsPath {
		kind = "Product"
	}
	details := map[string]any{
		"path":  req.RawPath,
		"topic": header(req, shopify.HeaderTopic),
		"shop":  header(req, shopify.HeaderShopDomain),
	}
	if id := header(req, shopify.HeaderWebhookID); id != "" {
		details["webhook_id"] = id
	}
	log := h.log.With(zap.String("path", req.RawPath), zap.Any("topic", details["topic"]))

	if strings.TrimSpace(h.secret) == "" {
		log.Error("webhook secret is not configured")
		h.events.Error(ctx, kind+" webhook rejected: secret not configured", details)
		return errResp(500, "SHOPIFY_WEBHOOK_SECRET is not set")
	}

	body, err := rawBody(req)
	if err != nil {
		log.Warn("undecodable base64 body", zap.Error(err))
		h.events.Warn(ctx, kind+" webhook body could not be decoded", withError(details, err))
		return errResp(400, "invalid body encoding")
	}

	// unauthenticated bodies are never stored: a stored body can be re-signed
	// by the replay tool
	if !shopify.VerifyWebhook(body, h.secret, header(req, shopify.HeaderHMAC)) {
		log.Warn("webhook hmac mismatch", zap.Int("body_bytes", len(body)))
		details["body_bytes"] = len(body)
		h.events.Warn(ctx, kind+" webhook rejected: invalid HMAC", details)
		return errResp(401, "Invalid HMAC")
	}
	details[eventlog.RawBodyKey] = string(body)
	details[eventlog.VerifiedKey] = true

	if kind == "Order" {
		return h.receiveOrder(ctx, body, details, log)
	}
	return h.receiveProduct(ctx, body, details, log)
}

func (h *Webhooks) receiveOrder(ctx context.Context, body []byte, details map[string]any, log *zap.Logger) (events.APIGatewayV2HTTPResponse, error) {
	o, err := shopify.DecodeOrder(body)
	if err != nil {
		log.Warn("order payload rejected", zap.Error(err))
		h.events.Error(ctx, "Order webhook payload could not be parsed", withError(details, err))
		return errResp(500, err.Error())
	}
	details["order_id"] = o.ID
	details["order_ref"] = o.Ref()

	res, err := h.orders.Sync(ctx, o)
	switch {
	case errors.Is(err, erpsync.ErrInProgress):
		log.Info("order lease held, asking sender to retry", zap.String("order_ref", o.Ref()))
		h.events.Info(ctx, "Order deferred, another delivery is in progress", withoutBody(details))
		return errResp(409, fmt.Sprintf("order %s is already being processed", o.Ref()))
	case err != nil:
		log.Error("order sync failed", zap.Int64("order_id", o.ID), zap.Error(err))
		h.events.Error(ctx, "Order sync failed", withError(details, err))
		return errResp(500, err.Error())
	}

	out := map[string]any{
		"ok":          true,
		"sales_order": res.SalesOrder,
	}
	if res.Existing {
		out["message"] = "Order ignored, Sales Order already exists"
	}
	if res.SalesInvoice != "" {
		out["sales_invoice"] = res.SalesInvoice
	}
	if res.DeliveryNote != "" {
		out["delivery_note"] = res.DeliveryNote
	}
	return jsonResp(200, out)
}

func (h *Webhooks) receiveProduct(ctx context.Context, body []byte, details map[string]any, log *zap.Logger) (events.APIGatewayV2HTTPResponse, error) {
	p, err := shopify.DecodeProduct(body)
	if err != nil {
		log.Warn("product payload rejected", zap.Error(err))
		h.events.Error(ctx, "Product webhook payload could not be parsed", withError(details, err))
		return errResp(500, err.Error())
	}
	details["product_id"] = p.ID

	res, err := h.products.Sync(ctx, p)
	if err != nil {
		log.Error("product sync failed", zap.Int64("product_id", p.ID), zap.Error(err))
		h.events.Error(ctx, "Product sync failed", withError(details, err))
		return errResp(500, err.Error())
	}
	if res.Action == erpsync.ProductSkipped {
		return jsonResp(200, map[string]any{"ok": true, "message": erpsync.MsgSKURequired})
	}
	return jsonResp(200, map[string]any{
		"ok":     true,
		"item":   res.ItemCode,
		"action": res.Action,
	})
}

func withError(details map[string]any, err error) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}

func withoutBody(details map[string]any) map[string]any {
	out := make(map[string]any, len(details))
	for k, v := range details {
		if k == eventlog.RawBodyKey || k == eventlog.VerifiedKey {
			continue
		}
		out[k] = v
	}
	return out
}
