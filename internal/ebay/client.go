// Package ebay saves ERP items as unpublished eBay offers through the Sell
// Inventory and Account APIs.
package ebay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	SandboxURL    = "https://api.sandbox.ebay.com"
	ProductionURL = "https://api.ebay.com"
)

// BaseURL picks the API host for EBAY_ENV.
func BaseURL(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "production") {
		return ProductionURL
	}
	return SandboxURL
}

var validate = validator.New()

var ErrInvalidDraft = errors.New("invalid draft")

// Draft is one listing to stage on eBay.
type Draft struct {
	SKU         string              `validate:"required"`
	Title       string              `validate:"required,max=80"`
	Description string              `validate:"required"`
	Price       decimal.Decimal     `validate:"-"`
	Quantity    int                 `validate:"gte=0"`
	EAN         string              `validate:"omitempty,numeric"`
	CategoryID  string              `validate:"required"`
	ImageURLs   []string            `validate:"dive,url"`
	Aspects     map[string][]string `validate:"-"`
}

type Location struct {
	Key        string
	Country    string
	PostalCode string
	City       string
}

type Policies struct {
	FulfillmentPolicyID string `json:"fulfillment_policy_id"`
	PaymentPolicyID     string `json:"payment_policy_id"`
	ReturnPolicyID      string `json:"return_policy_id"`
}

type DraftResult struct {
	SKU          string   `json:"sku"`
	OfferID      string   `json:"offer_id"`
	OfferCreated bool     `json:"offer_created"`
	Policies     Policies `json:"policies"`
}

// APIError is a non-2xx answer from eBay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ebay: http %d: %s", e.Status, e.Message)
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Options struct {
	BaseURL         string
	MarketplaceID   string
	ContentLanguage string
	Currency        string
	Location        Location
	HTTPClient      *http.Client
}

type Client struct {
	tokens   *TokenSource
	baseURL  string
	market   string
	language string
	currency string
	location Location
	http     *http.Client
	log      *zap.Logger
}

func NewClient(tokens *TokenSource, opt Options, log *zap.Logger) *Client {
	hc := opt.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	c := &Client{
		tokens:   tokens,
		baseURL:  strings.TrimRight(opt.BaseURL, "/"),
		market:   opt.MarketplaceID,
		language: opt.ContentLanguage,
		currency: opt.Currency,
		location: opt.Location,
		http:     hc,
		log:      log,
	}
	if c.market == "" {
		c.market = "EBAY_DE"
	}
	if c.language == "" {
		c.language = "de-DE"
	}
	if c.currency == "" {
		c.currency = "EUR"
	}
	if c.location.Key == "" {
		c.location.Key = "listingflow-default"
	}
	return c
}

// CreateDraft upserts the inventory item and an unpublished offer for it.
func (c *Client) CreateDraft(ctx context.Context, d Draft) (*DraftResult, error) {
	if err := validate.Struct(d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	if !d.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidDraft)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var policies Policies
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.ensureLocation(gctx, token)
	})
	g.Go(func() error {
		p, err := c.fetchPolicies(gctx, token)
		policies = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := c.putInventoryItem(ctx, token, d); err != nil {
		return nil, fmt.Errorf("inventory item %s: %w", d.SKU, err)
	}

	offer := c.offerBody(d, policies)
	offerID, err := c.findOffer(ctx, token, d.SKU)
	if err != nil {
		return nil, fmt.Errorf("look up offer %s: %w", d.SKU, err)
	}

	res := &DraftResult{SKU: d.SKU, Policies: policies}
	if offerID != "" {
		if err := c.call(ctx, token, http.MethodPut, "/sell/inventory/v1/offer/"+url.PathEscape(offerID), offer, nil); err != nil {
			return nil, fmt.Errorf("update offer %s: %w", offerID, err)
		}
		res.OfferID = offerID
	} else {
		var out struct {
			OfferID string `json:"offerId"`
		}
		if err := c.call(ctx, token, http.MethodPost, "/sell/inventory/v1/offer", offer, &out); err != nil {
			return nil, fmt.Errorf("create offer %s: %w", d.SKU, err)
		}
		res.OfferID = out.OfferID
		res.OfferCreated = true
	}

	c.log.Info("ebay draft saved",
		zap.String("sku", d.SKU), zap.String("offer_id", res.OfferID), zap.Bool("created", res.OfferCreated))
	return res, nil
}

func (c *Client) ensureLocation(ctx context.Context, token string) error {
	path := "/sell/inventory/v1/location/" + url.PathEscape(c.location.Key)
	err := c.call(ctx, token, http.MethodGet, path, nil, nil)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("get location: %w", err)
	}

	body := map[string]any{
		"location": map[string]any{
			"address": map[string]any{
				"country":    c.location.Country,
				"postalCode": c.location.PostalCode,
				"city":       c.location.City,
			},
		},
		"locationTypes":          []string{"WAREHOUSE"},
		"merchantLocationStatus": "ENABLED",
		"name":                   c.location.Key,
	}
	if err := c.call(ctx, token, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("create location: %w", err)
	}
	c.log.Info("ebay merchant location created", zap.String("key", c.location.Key))
	return nil
}

// fetchPolicies takes the first business policy of each kind for the
// marketplace.
func (c *Client) fetchPolicies(ctx context.Context, token string) (Policies, error) {
	q := "?marketplace_id=" + url.QueryEscape(c.market)

	var f struct {
		Policies []struct {
			ID string `json:"fulfillmentPolicyId"`
		} `json:"fulfillmentPolicies"`
	}
	var p struct {
		Policies []struct {
			ID string `json:"paymentPolicyId"`
		} `json:"paymentPolicies"`
	}
	var r struct {
		Policies []struct {
			ID string `json:"returnPolicyId"`
		} `json:"returnPolicies"`
	}

	if err := c.call(ctx, token, http.MethodGet, "/sell/account/v1/fulfillment_policy"+q, nil, &f); err != nil {
		return Policies{}, fmt.Errorf("fulfillment policies: %w", err)
	}
	if err := c.call(ctx, token, http.MethodGet, "/sell/account/v1/payment_policy"+q, nil, &p); err != nil {
		return Policies{}, fmt.Errorf("payment policies: %w", err)
	}
	if err := c.call(ctx, token, http.MethodGet, "/sell/account/v1/return_policy"+q, nil, &r); err != nil {
		return Policies{}, fmt.Errorf("return policies: %w", err)
	}
	if len(f.Policies) == 0 || len(p.Policies) == 0 || len(r.Policies) == 0 {
		return Policies{}, fmt.Errorf("marketplace %s is missing fulfillment, payment or return policies", c.market)
	}
	return Policies{
		FulfillmentPolicyID: f.Policies[0].ID,
		PaymentPolicyID:     p.Policies[0].ID,
		ReturnPolicyID:      r.Policies[0].ID,
	}, nil
}

func (c *Client) putInventoryItem(ctx context.Context, token string, d Draft) error {
	product := map[string]any{
		"title":       d.Title,
		"description": d.Description,
	}
	if d.EAN != "" {
		product["ean"] = []string{d.EAN}
	}
	if len(d.ImageURLs) > 0 {
		product["imageUrls"] = d.ImageURLs
	}
	if len(d.Aspects) > 0 {
		product["aspects"] = d.Aspects
	}
	body := map[string]any{
		"condition": "NEW",
		"product":   product,
		"availability": map[string]any{
			"shipToLocationAvailability": map[string]any{"quantity": d.Quantity},
		},
	}
	return c.call(ctx, token, http.MethodPut, "/sell/inventory/v1/inventory_item/"+url.PathEscape(d.SKU), body, nil)
}

func (c *Client) findOffer(ctx context.Context, token, sku string) (string, error) {
	q := url.Values{}
	q.Set("sku", sku)
	q.Set("marketplace_id", c.market)

	var out struct {
		Offers []struct {
			OfferID string `json:"offerId"`
		} `json:"offers"`
	}
	err := c.call(ctx, token, http.MethodGet, "/sell/inventory/v1/offer?"+q.Encode(), nil, &out)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(out.Offers) == 0 {
		return "", nil
	}
	return out.Offers[0].OfferID, nil
}

func (c *Client) offerBody(d Draft, p Policies) map[string]any {
	return map[string]any{
		"sku":                 d.SKU,
		"marketplaceId":       c.market,
		"format":              "FIXED_PRICE",
		"availableQuantity":   d.Quantity,
		"categoryId":          d.CategoryID,
		"listingDescription":  d.Description,
		"merchantLocationKey": c.location.Key,
		"listingPolicies": map[string]any{
			"fulfillmentPolicyId": p.FulfillmentPolicyID,
			"paymentPolicyId":     p.PaymentPolicyID,
			"returnPolicyId":      p.ReturnPolicyID,
		},
		"pricingSummary": map[string]any{
			"price": map[string]any{
				"value":    d.Price.StringFixed(2),
				"currency": c.currency,
			},
		},
	}
}

func (c *Client) call(ctx context.Context, token, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Language", c.language)
	req.Header.Set("X-EBAY-C-MARKETPLACE-ID", c.market)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{Status: res.StatusCode, Message: errorMessage(res.StatusCode, raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// errorMessage joins the messages of an eBay {"errors":[...]} body.
func errorMessage(status int, raw []byte) string {
	var body struct {
		Errors []struct {
			ErrorID int    `json:"errorId"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Errors) > 0 {
		msgs := make([]string, 0, len(body.Errors))
		for _, e := range body.Errors {
			msgs = append(msgs, fmt.Sprintf("%s (%d)", e.Message, e.ErrorID))
		}
		return strings.Join(msgs, "; ")
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) <= 300 {
		return s
	}
	return http.StatusText(status)
}
