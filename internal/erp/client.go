package erp

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

	"golang.org/x/time/rate"
)

// Doctypes touched by the sync pipelines.
const (
	Customer     = "Customer"
	Address      = "Address"
	Item         = "Item"
	SalesOrder   = "Sales Order"
	SalesInvoice = "Sales Invoice"
	DeliveryNote = "Delivery Note"
)

var ErrNotConfigured = errors.New("ERP_BASE_URL, ERP_API_KEY and ERP_API_SECRET must be set")

// Doc is a document as the Frappe REST API returns it.
type Doc map[string]any

// Name is the server assigned primary key.
func (d Doc) Name() string {
	s, _ := d["name"].(string)
	return s
}

// Filter is one (field, operator, value) predicate; filters are ANDed.
type Filter struct {
	Field    string
	Operator string
	Value    any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Operator: "=", Value: value}
}

func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{f.Field, f.Operator, f.Value})
}

// APIError is a non-2xx answer from the ERP backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("erp: http %d: %s", e.Status, e.Message)
}

type Options struct {
	BaseURL   string
	APIKey    string
	APISecret string
	// RateLimit caps outgoing requests per second; zero disables it.
	RateLimit  float64
	HTTPClient *http.Client
}

type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	limiter   *rate.Limiter
}

func NewClient(opt Options) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(opt.BaseURL, "/"),
		apiKey:    opt.APIKey,
		apiSecret: opt.APISecret,
		http:      opt.HTTPClient,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if opt.RateLimit > 0 {
		burst := int(opt.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opt.RateLimit), burst)
	}
	return c
}

// FindOne returns the name of the first document matching all filters, or ""
// when nothing matches.
func (c *Client) FindOne(ctx context.Context, doctype string, filters []Filter) (string, error) {
	fb, err := json.Marshal(filters)
	if err != nil {
		return "", fmt.Errorf("encode filters: %w", err)
	}

	q := url.Values{}
	q.Set("filters", string(fb))
	q.Set("fields", `["name"]`)
	q.Set("limit_page_length", "1")

	var out struct {
		Data []Doc `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, resourcePath(doctype, "")+"?"+q.Encode(), nil, &out); err != nil {
		return "", fmt.Errorf("find %s: %w", doctype, err)
	}
	if len(out.Data) == 0 {
		return "", nil
	}
	return out.Data[0].Name(), nil
}

func (c *Client) Get(ctx context.Context, doctype, name string) (Doc, error) {
	var out struct {
		Data Doc `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, resourcePath(doctype, name), nil, &out); err != nil {
		return nil, fmt.Errorf("get %s %s: %w", doctype, name, err)
	}
	return out.Data, nil
}

func (c *Client) Create(ctx context.Context, doctype string, fields Doc) (Doc, error) {
	var out struct {
		Data Doc `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, resourcePath(doctype, ""), fields, &out); err != nil {
		return nil, fmt.Errorf("create %s: %w", doctype, err)
	}
	return out.Data, nil
}

// Update applies a partial update; fields not present are left untouched.
func (c *Client) Update(ctx context.Context, doctype, name string, fields Doc) (Doc, error) {
	var out struct {
		Data Doc `json:"data"`
	}
	if err := c.do(ctx, http.MethodPut, resourcePath(doctype, name), fields, &out); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", doctype, name, err)
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if c.baseURL == "" || c.apiKey == "" || c.apiSecret == "" {
		return ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, c.apiSecret))
	req.Header.Set("Accept", "application/json")
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
		return &APIError{Status: res.StatusCode, Message: extractMessage(res.StatusCode, raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func resourcePath(doctype, name string) string {
	p := "/api/resource/" + url.PathEscape(doctype)
	if name != "" {
		p += "/" + url.PathEscape(name)
	}
	return p
}

// extractMessage digs the human readable reason out of a Frappe error body.
func extractMessage(status int, raw []byte) string {
	var body struct {
		ServerMessages string `json:"_server_messages"`
		Exception      string `json:"exception"`
		Message        any    `json:"message"`
		ExcType        string `json:"exc_type"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg := firstServerMessage(body.ServerMessages); msg != "" {
			return msg
		}
		if body.Exception != "" {
			return body.Exception
		}
		if s, ok := body.Message.(string); ok && s != "" {
			return s
		}
		if body.ExcType != "" {
			return body.ExcType
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) <= 300 && !strings.HasPrefix(s, "<") {
		return s
	}
	return http.StatusText(status)
}

// _server_messages is a JSON encoded list of JSON encoded {"message": ...} objects.
func firstServerMessage(s string) string {
	if s == "" {
		return ""
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return ""
	}
	for _, item := range list {
		var m struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(item), &m); err == nil && m.Message != "" {
			return m.Message
		}
		if item != "" {
			return item
		}
	}
	return ""
}
