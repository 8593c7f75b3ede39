package shopify

import (
	"context"
	"fmt"
	"strings"
)

// DefaultTopics are the webhook topics the ERP sync consumes.
var DefaultTopics = []string{
	"orders/create",
	"orders/updated",
	"orders/paid",
	"orders/fulfilled",
	"products/create",
	"products/update",
}

type Subscription struct {
	ID      string
	Topic   string
	Address string
}

const webhooksQuery = `query webhooks($first: Int!, $after: String) {
  webhookSubscriptions(first: $first, after: $after) {
    edges {
      node {
        id
        topic
        endpoint {
          __typename
          ... on WebhookHttpEndpoint { callbackUrl }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

type webhooksData struct {
	WebhookSubscriptions struct {
		Edges []struct {
			Node struct {
				ID       string `json:"id"`
				Topic    string `json:"topic"`
				Endpoint struct {
					CallbackURL string `json:"callbackUrl"`
				} `json:"endpoint"`
			} `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"webhookSubscriptions"`
}

// ListWebhooks returns every HTTP webhook subscription of the shop, with
// topics in REST form ("orders/create").
func (a *Admin) ListWebhooks(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	vars := map[string]any{"first": 100}
	for {
		res, err := PostGraphQL[webhooksData](ctx, a, webhooksQuery, vars)
		if err != nil {
			return nil, fmt.Errorf("list webhooks: %w", err)
		}
		conn := res.Data.WebhookSubscriptions
		for _, e := range conn.Edges {
			subs = append(subs, Subscription{
				ID:      e.Node.ID,
				Topic:   restTopic(e.Node.Topic),
				Address: e.Node.Endpoint.CallbackURL,
			})
		}
		if !conn.PageInfo.HasNextPage || conn.PageInfo.EndCursor == "" {
			return subs, nil
		}
		vars = map[string]any{"first": 100, "after": conn.PageInfo.EndCursor}
	}
}

type webhookCreateReq struct {
	Webhook struct {
		Address string `json:"address"`
		Topic   string `json:"topic"`
		Format  string `json:"format"`
	} `json:"webhook"`
}

// CreateWebhook registers a JSON webhook through the REST Admin API.
func (a *Admin) CreateWebhook(ctx context.Context, topic, address string) error {
	var payload webhookCreateReq
	payload.Webhook.Address = address
	payload.Webhook.Topic = topic
	payload.Webhook.Format = "json"

	if _, err := a.post(ctx, "/webhooks.json", payload); err != nil {
		return fmt.Errorf("create webhook %s: %w", topic, err)
	}
	return nil
}

// EnsureWebhooks creates the wanted subscriptions that do not exist yet.
// A subscription matches on topic and address.
func (a *Admin) EnsureWebhooks(ctx context.Context, want []Subscription) (created []string, failed []map[string]string, err error) {
	have, err := a.ListWebhooks(ctx)
	if err != nil {
		return nil, nil, err
	}
	exists := map[string]bool{}
	for _, s := range have {
		exists[s.Topic+" "+s.Address] = true
	}

	for _, w := range want {
		if exists[w.Topic+" "+w.Address] {
			continue
		}
		if err := a.CreateWebhook(ctx, w.Topic, w.Address); err != nil {
			failed = append(failed, map[string]string{"topic": w.Topic, "error": err.Error()})
			continue
		}
		created = append(created, w.Topic)
	}
	return created, failed, nil
}

// ORDERS_CREATE => orders/create
func restTopic(gql string) string {
	return strings.ToLower(strings.Replace(gql, "_", "/", 1))
}
