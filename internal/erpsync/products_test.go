package erpsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"listingflow/internal/erp"
	"listingflow/internal/erp/erptest"
	"listingflow/internal/shopify"
)

func newProductSync(t *testing.T) (*ProductSync, *erptest.Server, *memRecorder) {
	t.Helper()
	srv := erptest.NewServer()
	t.Cleanup(srv.Close)
	rec := &memRecorder{}
	return NewProductSync(srv.Client(), rec, Defaults{ItemGroup: "Products"}, zap.NewNop()), srv, rec
}

func decodeProduct(t *testing.T, raw string) *shopify.Product {
	t.Helper()
	p, err := shopify.DecodeProduct([]byte(raw))
	require.NoError(t, err)
	return p
}

func TestProductSync_MissingSKUIsSkipped(t *testing.T) {
	s, srv, rec := newProductSync(t)

	res, err := s.Sync(context.Background(), decodeProduct(t, `{"id": 1, "title": "T", "variants": [{"id": 2, "sku": null, "price": "5"}]}`))
	require.NoError(t, err)
	assert.Equal(t, ProductSkipped, res.Action)
	assert.Equal(t, 0, srv.Count(erp.Item))
	assert.Empty(t, srv.Requests())
	assert.Equal(t, "info", rec.last().level)
	assert.Contains(t, rec.last().msg, MsgSKURequired)
}

func TestProductSync_CreateThenUpdate(t *testing.T) {
	s, srv, rec := newProductSync(t)
	ctx := context.Background()

	created, err := s.Sync(ctx, decodeProduct(t, `{
		"id": 10, "title": "Desk Lamp", "body_html": "<p>bright</p>", "vendor": "Acme", "status": "active",
		"variants": [{"id": 11, "sku": "LAMP-1", "price": "19.90", "barcode": "4006381333931", "inventory_quantity": 4}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, ProductCreated, created.Action)
	assert.Equal(t, "LAMP-1", created.ItemCode)

	require.Equal(t, 1, srv.Count(erp.Item))
	item := srv.Docs(erp.Item)[0]
	assert.Equal(t, "Desk Lamp", item["item_name"])
	assert.Equal(t, "Products", item["item_group"])
	assert.Equal(t, "Nos", item["stock_uom"])
	assert.Equal(t, 19.9, item["standard_rate"])
	assert.Equal(t, 4.0, item["opening_stock"])
	assert.Equal(t, "Acme", item["brand"])
	assert.Equal(t, 0.0, item["disabled"])
	assert.Equal(t, "success", rec.last().level)
	assert.Equal(t, "Product created in ERP", rec.last().msg)

	updated, err := s.Sync(ctx, decodeProduct(t, `{
		"id": 10, "title": "Desk Lamp XL", "status": "archived",
		"variants": [{"id": 11, "sku": "LAMP-1", "price": "24.00"}, {"id": 12, "sku": "LAMP-2", "price": "1"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, ProductUpdated, updated.Action)
	assert.Equal(t, "LAMP-1", updated.ItemCode)

	require.Equal(t, 1, srv.Count(erp.Item), "update does not create")
	item = srv.Docs(erp.Item)[0]
	assert.Equal(t, "Desk Lamp XL", item["item_name"])
	assert.Equal(t, 24.0, item["standard_rate"])
	assert.Equal(t, 1.0, item["disabled"])
	assert.Equal(t, "Acme", item["brand"], "fields absent from the update are kept")
	assert.Equal(t, "Product updated in ERP", rec.last().msg)
}

func TestProductSync_BackendError(t *testing.T) {
	s, srv, _ := newProductSync(t)
	srv.FailCreate(erp.Item, 417, "Item Group Products does not exist")

	_, err := s.Sync(context.Background(), decodeProduct(t, `{"id": 3, "variants": [{"sku": "A"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Item Group Products does not exist")
}

func TestItemFields_NameFallsBackToSKU(t *testing.T) {
	s := NewProductSync(nil, nil, Defaults{}, zap.NewNop())
	f := s.itemFields(&shopify.Product{ID: 1}, shopify.Variant{SKU: " S-1 ", Price: "x"})
	assert.Equal(t, "S-1", f["item_name"])
	assert.Equal(t, 0.0, f["standard_rate"])
	assert.NotContains(t, f, "barcodes")
}
