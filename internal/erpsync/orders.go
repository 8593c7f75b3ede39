package erpsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"listingflow/internal/erp"
	"listingflow/internal/shopify"
)

type OrderSync struct {
	erp      Resources
	rec      Recorder
	leaser   Leaser
	defaults Defaults
	log      *zap.Logger
	now      func() time.Time
}

func NewOrderSync(res Resources, rec Recorder, leaser Leaser, defaults Defaults, log *zap.Logger) *OrderSync {
	if leaser == nil {
		leaser = NewLocalLeaser()
	}
	return &OrderSync{
		erp:      res,
		rec:      rec,
		leaser:   leaser,
		defaults: defaults.withFallbacks(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type OrderResult struct {
	Ref          string
	Customer     string
	SalesOrder   string
	SalesInvoice string
	DeliveryNote string
	// Existing is set when the Sales Order was already there and nothing
	// was written.
	Existing bool
}

type orderLine struct {
	code  string
	title string
	qty   int
	rate  decimal.Decimal
}

// Sync materializes a verified order in the ERP: Customer, Addresses, Items,
// Sales Order and, depending on status, Sales Invoice and Delivery Note.
func (s *OrderSync) Sync(ctx context.Context, o *shopify.Order) (*OrderResult, error) {
	ref := o.Ref()
	log := s.log.With(zap.Int64("order_id", o.ID), zap.String("order_ref", ref))

	release, ok, err := s.leaser.Acquire(ctx, "order:"+ref)
	if err != nil {
		return nil, wrap("acquire order lease", err)
	}
	if !ok {
		return nil, ErrInProgress
	}
	defer release()

	res := &OrderResult{Ref: ref}

	customer, err := s.resolveCustomer(ctx, o)
	if err != nil {
		return nil, wrap("resolve customer", err)
	}
	res.Customer = customer
	log.Debug("customer resolved", zap.String("customer", customer))

	if err := s.resolveAddress(ctx, "Billing", customer, o.BillingAddress, o.ContactEmail()); err != nil {
		return nil, wrap("resolve billing address", err)
	}
	if err := s.resolveAddress(ctx, "Shipping", customer, o.ShippingAddress, o.ContactEmail()); err != nil {
		return nil, wrap("resolve shipping address", err)
	}

	existing, err := s.erp.FindOne(ctx, erp.SalesOrder, []erp.Filter{erp.Eq("po_no", ref)})
	if err != nil {
		return nil, wrap("look up sales order", err)
	}
	if existing != "" {
		res.SalesOrder = existing
		res.Existing = true
		s.rec.Info(ctx, "Order ignored, Sales Order already exists", map[string]any{
			"order_id":    o.ID,
			"order_ref":   ref,
			"sales_order": existing,
		})
		return res, nil
	}

	lines, err := s.ensureItems(ctx, o.LineItems)
	if err != nil {
		return nil, err
	}

	date := dateOnly(o.CreatedAt, s.now())
	currency := strings.ToUpper(strings.TrimSpace(o.Currency))
	if currency == "" {
		currency = s.defaults.Currency
	}

	items := make([]erp.Doc, 0, len(lines))
	for _, l := range lines {
		items = append(items, erp.Doc{
			"item_code":     l.code,
			"item_name":     l.title,
			"qty":           l.qty,
			"rate":          l.rate.InexactFloat64(),
			"delivery_date": date,
		})
	}

	so, err := s.erp.Create(ctx, erp.SalesOrder, erp.Doc{
		"customer":         customer,
		"transaction_date": date,
		"delivery_date":    date,
		"currency":         currency,
		"po_no":            ref,
		"items":            items,
	})
	if err != nil {
		return nil, wrap("create sales order", err)
	}
	res.SalesOrder = so.Name()
	log.Info("sales order created", zap.String("sales_order", res.SalesOrder))

	if strings.EqualFold(strings.TrimSpace(o.FinancialStatus), "paid") {
		name, err := s.followUp(ctx, erp.SalesInvoice, "sales_order", customer, currency, date, ref, res.SalesOrder, lines)
		if err != nil {
			return nil, wrap("create sales invoice", err)
		}
		res.SalesInvoice = name
	}

	if strings.EqualFold(strings.TrimSpace(o.FulfillmentStatus), "fulfilled") {
		name, err := s.followUp(ctx, erp.DeliveryNote, "against_sales_order", customer, currency, date, ref, res.SalesOrder, lines)
		if err != nil {
			return nil, wrap("create delivery note", err)
		}
		res.DeliveryNote = name
	}

	details := map[string]any{
		"order_id":    o.ID,
		"order_ref":   ref,
		"sales_order": res.SalesOrder,
		"customer":    customer,
	}
	if res.SalesInvoice != "" {
		details["sales_invoice"] = res.SalesInvoice
	}
	if res.DeliveryNote != "" {
		details["delivery_note"] = res.DeliveryNote
	}
	s.rec.Success(ctx, "Order synced to ERP", details)

	return res, nil
}

// resolveCustomer finds the customer by email, then phone, else creates one.
func (s *OrderSync) resolveCustomer(ctx context.Context, o *shopify.Order) (string, error) {
	email := o.ContactEmail()
	phone := o.ContactPhone()

	if email != "" {
		name, err := s.erp.FindOne(ctx, erp.Customer, []erp.Filter{erp.Eq("email_id", email)})
		if err != nil || name != "" {
			return name, err
		}
	}
	if phone != "" {
		name, err := s.erp.FindOne(ctx, erp.Customer, []erp.Filter{erp.Eq("mobile_no", phone)})
		if err != nil || name != "" {
			return name, err
		}
	}

	fields := erp.Doc{
		"customer_name":  o.DisplayName(),
		"customer_type":  "Individual",
		"customer_group": s.defaults.CustomerGroup,
		"territory":      s.defaults.Territory,
	}
	if email != "" {
		fields["email_id"] = email
	}
	if phone != "" {
		fields["mobile_no"] = phone
	}

	doc, err := s.erp.Create(ctx, erp.Customer, fields)
	if err != nil {
		return "", err
	}
	return doc.Name(), nil
}

func addressTitle(kind, customer string, a *shopify.Address) string {
	t := fmt.Sprintf("%s-%s-%s", kind, customer, strings.TrimSpace(a.Address1))
	return truncateRunes(t, maxAddressTitle)
}

func (s *OrderSync) resolveAddress(ctx context.Context, kind, customer string, a *shopify.Address, email string) error {
	if a.IsEmpty() {
		return nil
	}
	title := addressTitle(kind, customer, a)

	existing, err := s.erp.FindOne(ctx, erp.Address, []erp.Filter{erp.Eq("address_title", title)})
	if err != nil || existing != "" {
		return err
	}

	country := strings.TrimSpace(a.Country)
	if country == "" {
		country = strings.TrimSpace(a.CountryCode)
	}
	fields := erp.Doc{
		"address_title": title,
		"address_type":  kind,
		"address_line1": strings.TrimSpace(a.Address1),
		"address_line2": strings.TrimSpace(a.Address2),
		"city":          strings.TrimSpace(a.City),
		"pincode":       strings.TrimSpace(a.Zip),
		"state":         strings.TrimSpace(a.Province),
		"country":       country,
		"phone":         strings.TrimSpace(a.Phone),
		"links": []erp.Doc{
			{"link_doctype": erp.Customer, "link_name": customer},
		},
	}
	if email != "" {
		fields["email_id"] = email
	}
	if kind == "Billing" {
		fields["is_primary_address"] = 1
	} else {
		fields["is_shipping_address"] = 1
	}

	_, err = s.erp.Create(ctx, erp.Address, fields)
	return err
}

// itemCode prefers the SKU and otherwise derives a stable code from the
// Shopify identifiers.
func itemCode(li shopify.LineItem) string {
	if sku := strings.TrimSpace(li.SKU); sku != "" {
		return sku
	}
	switch {
	case li.VariantID > 0:
		return generatedItemPrefix + "V" + itoa(li.VariantID)
	case li.ProductID > 0:
		return generatedItemPrefix + "P" + itoa(li.ProductID)
	default:
		return generatedItemPrefix + "L" + itoa(li.ID)
	}
}

func (s *OrderSync) ensureItems(ctx context.Context, lineItems []shopify.LineItem) ([]orderLine, error) {
	seen := map[string]bool{}
	lines := make([]orderLine, 0, len(lineItems))

	for _, li := range lineItems {
		code := itemCode(li)
		title := strings.TrimSpace(li.Title)
		if title == "" {
			title = strings.TrimSpace(li.Name)
		}
		if title == "" {
			title = code
		}
		title = truncateRunes(title, maxItemName)

		if !seen[code] {
			if err := s.ensureItem(ctx, code, title); err != nil {
				return nil, wrap("ensure item "+code, err)
			}
			seen[code] = true
		}

		lines = append(lines, orderLine{
			code:  code,
			title: title,
			qty:   li.Quantity,
			rate:  parseRate(li.Price),
		})
	}
	return lines, nil
}

func (s *OrderSync) ensureItem(ctx context.Context, code, title string) error {
	existing, err := s.erp.FindOne(ctx, erp.Item, []erp.Filter{erp.Eq("item_code", code)})
	if err != nil || existing != "" {
		return err
	}
	_, err = s.erp.Create(ctx, erp.Item, erp.Doc{
		"item_code":     code,
		"item_name":     title,
		"item_group":    s.defaults.ItemGroup,
		"stock_uom":     s.defaults.StockUOM,
		"is_stock_item": 0,
	})
	return err
}

// followUp creates a Sales Invoice or Delivery Note for the order unless one
// with the same po_no exists. linkField names the item row field pointing
// back at the Sales Order.
func (s *OrderSync) followUp(ctx context.Context, doctype, linkField, customer, currency, date, ref, salesOrder string, lines []orderLine) (string, error) {
	existing, err := s.erp.FindOne(ctx, doctype, []erp.Filter{erp.Eq("po_no", ref)})
	if err != nil || existing != "" {
		return existing, err
	}

	items := make([]erp.Doc, 0, len(lines))
	for _, l := range lines {
		items = append(items, erp.Doc{
			"item_code": l.code,
			"item_name": l.title,
			"qty":       l.qty,
			"rate":      l.rate.InexactFloat64(),
			linkField:   salesOrder,
		})
	}

	fields := erp.Doc{
		"customer":     customer,
		"posting_date": date,
		"currency":     currency,
		"po_no":        ref,
		"items":        items,
	}
	if doctype == erp.SalesInvoice {
		fields["due_date"] = date
	}

	doc, err := s.erp.Create(ctx, doctype, fields)
	if err != nil {
		return "", err
	}
	return doc.Name(), nil
}
