package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type AdminOptions struct {
	Shop        string
	APIVersion  string
	AccessToken string
	// BaseURL overrides https://<Shop>.
	BaseURL    string
	HTTPClient *http.Client
}

// Admin talks to the Shopify Admin API of one shop.
type Admin struct {
	endpoint string
	token    string
	http     *http.Client
}

func NewAdmin(opt AdminOptions) *Admin {
	base := strings.TrimRight(opt.BaseURL, "/")
	if base == "" {
		base = "https://" + opt.Shop
	}
	hc := opt.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Admin{
		endpoint: fmt.Sprintf("%s/admin/api/%s", base, opt.APIVersion),
		token:    opt.AccessToken,
		http:     hc,
	}
}

type GraphQLError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions,omitempty"`
}

type GraphQLResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []GraphQLError `json:"errors"`
}

func PostGraphQL[T any](ctx context.Context, a *Admin, query string, variables any) (*GraphQLResponse[T], error) {
	raw, err := a.post(ctx, "/graphql.json", map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, err
	}

	var out GraphQLResponse[T]
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(out.Errors) > 0 {
		return &out, fmt.Errorf("graphql: %s", out.Errors[0].Message)
	}
	return &out, nil
}

func (a *Admin) post(ctx context.Context, path string, body any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", a.token)

	res, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("shopify %s: http %d: %s", path, res.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
