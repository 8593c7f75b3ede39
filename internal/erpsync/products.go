package erpsync

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"listingflow/internal/erp"
	"listingflow/internal/shopify"
)

type ProductAction string

const (
	ProductCreated ProductAction = "created"
	ProductUpdated ProductAction = "updated"
	ProductSkipped ProductAction = "skipped"
)

// MsgSKURequired is returned for products whose variant has no SKU.
const MsgSKURequired = "SKU is required."

type ProductSync struct {
	erp      Resources
	rec      Recorder
	defaults Defaults
	log      *zap.Logger
}

func NewProductSync(res Resources, rec Recorder, defaults Defaults, log *zap.Logger) *ProductSync {
	return &ProductSync{erp: res, rec: rec, defaults: defaults.withFallbacks(), log: log}
}

type ProductResult struct {
	ItemCode string
	Action   ProductAction
}

// Sync upserts the ERP Item keyed by the SKU of the first variant. Further
// variants are ignored; multi-variant products are not mapped.
func (s *ProductSync) Sync(ctx context.Context, p *shopify.Product) (*ProductResult, error) {
	v := p.Variants[0]
	sku := strings.TrimSpace(v.SKU)
	if sku == "" {
		s.rec.Info(ctx, "Product skipped: "+MsgSKURequired, map[string]any{
			"product_id": p.ID,
			"title":      p.Title,
		})
		return &ProductResult{Action: ProductSkipped}, nil
	}
	if len(p.Variants) > 1 {
		s.log.Info("product has several variants, only the first is synced",
			zap.Int64("product_id", p.ID), zap.Int("variants", len(p.Variants)))
	}

	fields := s.itemFields(p, v)

	existing, err := s.erp.FindOne(ctx, erp.Item, []erp.Filter{erp.Eq("item_code", sku)})
	if err != nil {
		return nil, wrap("look up item", err)
	}

	res := &ProductResult{ItemCode: sku}
	if existing != "" {
		if _, err := s.erp.Update(ctx, erp.Item, existing, fields); err != nil {
			return nil, wrap("update item", err)
		}
		res.ItemCode = existing
		res.Action = ProductUpdated
	} else {
		fields["item_code"] = sku
		fields["item_group"] = s.defaults.ItemGroup
		fields["stock_uom"] = s.defaults.StockUOM
		if v.InventoryQuantity > 0 {
			fields["opening_stock"] = v.InventoryQuantity
		}
		doc, err := s.erp.Create(ctx, erp.Item, fields)
		if err != nil {
			return nil, wrap("create item", err)
		}
		if n := doc.Name(); n != "" {
			res.ItemCode = n
		}
		res.Action = ProductCreated
	}

	s.rec.Success(ctx, "Product "+string(res.Action)+" in ERP", map[string]any{
		"product_id": p.ID,
		"variant_id": v.ID,
		"sku":        sku,
		"item":       res.ItemCode,
	})
	return res, nil
}

func (s *ProductSync) itemFields(p *shopify.Product, v shopify.Variant) erp.Doc {
	name := strings.TrimSpace(p.Title)
	if name == "" {
		name = strings.TrimSpace(v.SKU)
	}

	fields := erp.Doc{
		"item_name":     truncateRunes(name, maxItemName),
		"description":   p.BodyHTML,
		"standard_rate": parseRate(v.Price).InexactFloat64(),
		"disabled":      0,
	}
	if strings.EqualFold(strings.TrimSpace(p.Status), "archived") {
		fields["disabled"] = 1
	}
	if vendor := strings.TrimSpace(p.Vendor); vendor != "" {
		fields["brand"] = vendor
	}
	if ean := strings.TrimSpace(v.Barcode); ean != "" {
		fields["barcodes"] = []erp.Doc{{"barcode": ean}}
	}
	return fields
}
