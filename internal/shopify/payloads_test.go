package shopify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOrder(t *testing.T) {
	raw := []byte(`{
		"id": 123,
		"name": "#1001",
		"email": "a@b.com",
		"currency": "EUR",
		"created_at": "2024-01-01T00:00:00Z",
		"financial_status": "paid",
		"fulfillment_status": null,
		"customer": {"id": 9, "first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com"},
		"line_items": [{"id": 1, "variant_id": null, "sku": "X1", "title": "Widget", "quantity": 2, "price": "9.99"}],
		"unknown_field": {"nested": true}
	}`)

	o, err := DecodeOrder(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(123), o.ID)
	assert.Equal(t, "#1001", o.Ref())
	assert.Equal(t, "", o.FulfillmentStatus)
	assert.Equal(t, "a@b.com", o.ContactEmail())
	assert.Equal(t, "Ada Lovelace", o.DisplayName())
	require.Len(t, o.LineItems, 1)
	assert.Equal(t, "X1", o.LineItems[0].SKU)
	assert.Equal(t, 2, o.LineItems[0].Quantity)
}

func TestDecodeOrder_Rejects(t *testing.T) {
	cases := map[string]string{
		"malformed json":    `{"id": 1,`,
		"missing id":        `{"name": "#1"}`,
		"id wrong type":     `{"id": "abc"}`,
		"negative quantity": `{"id": 1, "line_items": [{"sku": "A", "quantity": -1}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeOrder([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestOrderFallbacks(t *testing.T) {
	o := &Order{ID: 77}
	assert.Equal(t, "77", o.Ref())
	assert.Equal(t, "Guest", o.DisplayName())
	assert.Equal(t, "", o.ContactEmail())

	o.BillingAddress = &Address{Name: "Billing Person", Phone: "+49 30 1234"}
	assert.Equal(t, "Billing Person", o.DisplayName())
	assert.Equal(t, "+49 30 1234", o.ContactPhone())

	o.BillingAddress.FirstName = "Grace"
	o.BillingAddress.LastName = "Hopper"
	assert.Equal(t, "Grace Hopper", o.DisplayName())

	assert.True(t, (*Address)(nil).IsEmpty())
	assert.True(t, (&Address{Name: "only a name"}).IsEmpty())
	assert.False(t, (&Address{City: "Berlin"}).IsEmpty())
}

func TestDecodeProduct(t *testing.T) {
	p, err := DecodeProduct([]byte(`{
		"id": 55, "title": "Lamp", "vendor": "Acme", "status": "active",
		"variants": [{"id": 1, "sku": null, "price": "19.90", "barcode": null, "inventory_quantity": 3}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "", p.Variants[0].SKU)
	assert.Equal(t, 3, p.Variants[0].InventoryQuantity)

	_, err = DecodeProduct([]byte(`{"id": 55, "variants": []}`))
	assert.Error(t, err)
}
