package shopify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Order is the subset of the orders/* webhook payload the ERP sync reads.
type Order struct {
	ID                int64      `json:"id" validate:"required,gt=0"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	Phone             string     `json:"phone"`
	Currency          string     `json:"currency"`
	CreatedAt         string     `json:"created_at"`
	FinancialStatus   string     `json:"financial_status"`
	FulfillmentStatus string     `json:"fulfillment_status"`
	Customer          *Customer  `json:"customer"`
	BillingAddress    *Address   `json:"billing_address"`
	ShippingAddress   *Address   `json:"shipping_address"`
	LineItems         []LineItem `json:"line_items" validate:"dive"`
}

type Customer struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Address struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Name        string `json:"name"`
	Company     string `json:"company"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2"`
	City        string `json:"city"`
	Zip         string `json:"zip"`
	Province    string `json:"province"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone"`
}

type LineItem struct {
	ID        int64  `json:"id"`
	VariantID int64  `json:"variant_id"`
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Title     string `json:"title"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
	Price     string `json:"price"`
}

// Product is the subset of the products/* webhook payload the ERP sync reads.
type Product struct {
	ID          int64     `json:"id" validate:"required,gt=0"`
	Title       string    `json:"title"`
	BodyHTML    string    `json:"body_html"`
	Vendor      string    `json:"vendor"`
	ProductType string    `json:"product_type"`
	Status      string    `json:"status"`
	Tags        string    `json:"tags"`
	Variants    []Variant `json:"variants" validate:"required,min=1,dive"`
}

type Variant struct {
	ID                int64  `json:"id"`
	SKU               string `json:"sku"`
	Price             string `json:"price"`
	Barcode           string `json:"barcode"`
	InventoryQuantity int    `json:"inventory_quantity"`
}

func DecodeOrder(raw []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode order payload: %w", err)
	}
	if err := validate.Struct(&o); err != nil {
		return nil, fmt.Errorf("invalid order payload: %w", err)
	}
	return &o, nil
}

func DecodeProduct(raw []byte) (*Product, error) {
	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode product payload: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("invalid product payload: %w", err)
	}
	return &p, nil
}

// Ref is the external order reference stored on ERP documents (po_no).
func (o *Order) Ref() string {
	if n := strings.TrimSpace(o.Name); n != "" {
		return n
	}
	return strconv.FormatInt(o.ID, 10)
}

func (o *Order) ContactEmail() string {
	if e := strings.TrimSpace(o.Email); e != "" {
		return e
	}
	if o.Customer != nil {
		return strings.TrimSpace(o.Customer.Email)
	}
	return ""
}

func (o *Order) ContactPhone() string {
	if p := strings.TrimSpace(o.Phone); p != "" {
		return p
	}
	if o.Customer != nil && strings.TrimSpace(o.Customer.Phone) != "" {
		return strings.TrimSpace(o.Customer.Phone)
	}
	if o.BillingAddress != nil {
		return strings.TrimSpace(o.BillingAddress.Phone)
	}
	return ""
}

// DisplayName picks the customer name: customer first/last, then the billing
// address, then "Guest".
func (o *Order) DisplayName() string {
	if o.Customer != nil {
		if n := joinName(o.Customer.FirstName, o.Customer.LastName); n != "" {
			return n
		}
	}
	if a := o.BillingAddress; a != nil {
		if n := joinName(a.FirstName, a.LastName); n != "" {
			return n
		}
		if n := strings.TrimSpace(a.Name); n != "" {
			return n
		}
	}
	return "Guest"
}

// IsEmpty reports whether the address carries no postal data.
func (a *Address) IsEmpty() bool {
	if a == nil {
		return true
	}
	return strings.TrimSpace(a.Address1) == "" &&
		strings.TrimSpace(a.City) == "" &&
		strings.TrimSpace(a.Zip) == "" &&
		strings.TrimSpace(a.Country) == ""
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
