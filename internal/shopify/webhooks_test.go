package shopify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	mu      sync.Mutex
	created []webhookCreateReq
	pages   int
}

func (f *fakeAdmin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Shopify-Access-Token") != "shpat_test" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	raw, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/admin/api/2026-01/graphql.json":
		var q struct {
			Variables map[string]any `json:"variables"`
		}
		_ = json.Unmarshal(raw, &q)
		f.pages++
		if q.Variables["after"] == nil {
			_, _ = io.WriteString(w, `{"data":{"webhookSubscriptions":{
				"edges":[{"node":{"id":"gid://shopify/WebhookSubscription/1","topic":"ORDERS_CREATE","endpoint":{"__typename":"WebhookHttpEndpoint","callbackUrl":"https://hooks.example.com/api/webhooks/shopify/orders"}}}],
				"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"webhookSubscriptions":{
			"edges":[{"node":{"id":"gid://shopify/WebhookSubscription/2","topic":"PRODUCTS_UPDATE","endpoint":{"__typename":"WebhookHttpEndpoint","callbackUrl":"https://old.example.com/products"}}}],
			"pageInfo":{"hasNextPage":false,"endCursor":"c2"}}}}`)
	case "/admin/api/2026-01/webhooks.json":
		var req webhookCreateReq
		_ = json.Unmarshal(raw, &req)
		if req.Webhook.Topic == "orders/fulfilled" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"errors":{"topic":["Invalid topic"]}}`)
			return
		}
		f.created = append(f.created, req)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"webhook":{"id":99}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestAdmin(t *testing.T) (*Admin, *fakeAdmin) {
	t.Helper()
	fake := &fakeAdmin{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewAdmin(AdminOptions{
		Shop:        "demo.myshopify.com",
		APIVersion:  "2026-01",
		AccessToken: "shpat_test",
		BaseURL:     srv.URL,
	}), fake
}

func TestAdmin_ListWebhooksFollowsPages(t *testing.T) {
	a, fake := newTestAdmin(t)

	subs, err := a.ListWebhooks(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "orders/create", subs[0].Topic)
	assert.Equal(t, "https://hooks.example.com/api/webhooks/shopify/orders", subs[0].Address)
	assert.Equal(t, "products/update", subs[1].Topic)
	assert.Equal(t, 2, fake.pages)
}

func TestAdmin_EnsureWebhooks(t *testing.T) {
	a, fake := newTestAdmin(t)
	orders := "https://hooks.example.com/api/webhooks/shopify/orders"
	products := "https://hooks.example.com/api/webhooks/shopify/products"

	created, failed, err := a.EnsureWebhooks(context.Background(), []Subscription{
		{Topic: "orders/create", Address: orders},
		{Topic: "orders/fulfilled", Address: orders},
		{Topic: "products/update", Address: products},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"products/update"}, created, "same topic on another address is registered again")
	require.Len(t, failed, 1)
	assert.Equal(t, "orders/fulfilled", failed[0]["topic"])
	assert.Contains(t, failed[0]["error"], "422")

	require.Len(t, fake.created, 1)
	assert.Equal(t, products, fake.created[0].Webhook.Address)
	assert.Equal(t, "json", fake.created[0].Webhook.Format)
}

func TestAdmin_BadToken(t *testing.T) {
	a, _ := newTestAdmin(t)
	a.token = "wrong"

	_, err := a.ListWebhooks(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestPostGraphQL_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"Access denied for webhookSubscriptions field."}]}`)
	}))
	defer srv.Close()
	a := NewAdmin(AdminOptions{APIVersion: "2026-01", BaseURL: srv.URL})

	_, err := PostGraphQL[webhooksData](context.Background(), a, webhooksQuery, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Access denied")
}

func TestRestTopic(t *testing.T) {
	assert.Equal(t, "orders/create", restTopic("ORDERS_CREATE"))
	assert.Equal(t, "orders/paid", restTopic("ORDERS_PAID"))
}
