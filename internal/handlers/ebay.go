package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"listingflow/internal/ebay"
	"listingflow/internal/erp"
	"listingflow/internal/erpsync"
)

const EbayDraftsPath = "/api/ebay/drafts"

type Drafter interface {
	CreateDraft(ctx context.Context, d ebay.Draft) (*ebay.DraftResult, error)
}

type ItemReader interface {
	Get(ctx context.Context, doctype, name string) (erp.Doc, error)
}

type draftRequest struct {
	SKU         string              `json:"sku"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Price       string              `json:"price"`
	Quantity    *int                `json:"quantity"`
	EAN         string              `json:"ean"`
	CategoryID  string              `json:"category_id"`
	ImageURLs   []string            `json:"image_urls"`
	Aspects     map[string][]string `json:"aspects"`
}

type EbayDrafts struct {
	drafter Drafter
	items   ItemReader
	events  erpsync.Recorder
	log     *zap.Logger
}

func NewEbayDrafts(drafter Drafter, items ItemReader, events erpsync.Recorder, log *zap.Logger) *EbayDrafts {
	return &EbayDrafts{drafter: drafter, items: items, events: events, log: log}
}

func (h *EbayDrafts) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if req.RawPath != EbayDraftsPath {
		return errResp(404, "not found")
	}
	if method(req) != http.MethodPost {
		return errResp(405, "method not allowed")
	}

	body, err := rawBody(req)
	if err != nil {
		return errResp(400, "invalid body encoding")
	}
	var in draftRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return errResp(400, "invalid json")
	}
	in.SKU = strings.TrimSpace(in.SKU)
	if in.SKU == "" {
		return errResp(400, "sku is required")
	}

	draft, status, err := h.buildDraft(ctx, in)
	if err != nil {
		h.log.Warn("ebay draft rejected", zap.String("sku", in.SKU), zap.Error(err))
		return errResp(status, err.Error())
	}

	res, err := h.drafter.CreateDraft(ctx, draft)
	switch {
	case errors.Is(err, ebay.ErrInvalidDraft):
		return errResp(400, err.Error())
	case errors.Is(err, ebay.ErrNotConfigured):
		return errResp(500, err.Error())
	case err != nil:
		h.log.Error("ebay draft failed", zap.String("sku", in.SKU), zap.Error(err))
		h.events.Error(ctx, "eBay draft failed", map[string]any{"sku": in.SKU, "error": err.Error()})
		return errResp(502, err.Error())
	}

	h.events.Success(ctx, "eBay draft saved", map[string]any{
		"sku":      res.SKU,
		"offer_id": res.OfferID,
		"created":  res.OfferCreated,
	})
	return jsonResp(200, map[string]any{
		"ok":            true,
		"sku":           res.SKU,
		"offer_id":      res.OfferID,
		"offer_created": res.OfferCreated,
	})
}

// buildDraft fills whatever the request leaves out from the ERP Item.
func (h *EbayDrafts) buildDraft(ctx context.Context, in draftRequest) (ebay.Draft, int, error) {
	d := ebay.Draft{
		SKU:         in.SKU,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		EAN:         strings.TrimSpace(in.EAN),
		CategoryID:  strings.TrimSpace(in.CategoryID),
		ImageURLs:   in.ImageURLs,
		Aspects:     in.Aspects,
	}
	if in.Quantity != nil {
		d.Quantity = *in.Quantity
	}
	if p := strings.TrimSpace(in.Price); p != "" {
		price, err := decimal.NewFromString(p)
		if err != nil {
			return d, 400, fmt.Errorf("invalid price %q", in.Price)
		}
		d.Price = price
	}

	if d.Title != "" && d.Description != "" && d.Price.IsPositive() && d.EAN != "" {
		return d, 0, nil
	}

	item, err := h.items.Get(ctx, erp.Item, in.SKU)
	if err != nil {
		var apiErr *erp.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			if d.Title == "" || !d.Price.IsPositive() {
				return d, 422, fmt.Errorf("item %s not found in ERP", in.SKU)
			}
			if d.Description == "" {
				d.Description = d.Title
			}
			return d, 0, nil
		}
		if errors.Is(err, erp.ErrNotConfigured) {
			return d, 500, err
		}
		return d, 502, err
	}

	if d.Title == "" {
		name, _ := item["item_name"].(string)
		d.Title = truncateTitle(name)
	}
	if d.Description == "" {
		d.Description, _ = item["description"].(string)
		if d.Description == "" {
			d.Description = d.Title
		}
	}
	if !d.Price.IsPositive() {
		if rate, ok := item["standard_rate"].(float64); ok {
			d.Price = decimal.NewFromFloat(rate)
		}
	}
	if d.EAN == "" {
		if rows, ok := item["barcodes"].([]any); ok && len(rows) > 0 {
			if row, ok := rows[0].(map[string]any); ok {
				d.EAN, _ = row["barcode"].(string)
			}
		}
	}
	return d, 0, nil
}

// eBay titles are limited to 80 characters.
func truncateTitle(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > 80 {
		r = r[:80]
	}
	return string(r)
}
