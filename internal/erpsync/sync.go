// Package erpsync turns verified Shopify webhook payloads into ERPNext
// documents. Every write is preceded by a lookup on a business key so
// redelivered webhooks reuse what an earlier delivery created.
package erpsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"listingflow/internal/erp"
)

// Resources is the slice of the ERP client the pipelines drive.
type Resources interface {
	FindOne(ctx context.Context, doctype string, filters []erp.Filter) (string, error)
	Create(ctx context.Context, doctype string, fields erp.Doc) (erp.Doc, error)
	Update(ctx context.Context, doctype, name string, fields erp.Doc) (erp.Doc, error)
}

// Recorder receives pipeline events for the operator facing log.
type Recorder interface {
	Info(ctx context.Context, msg string, details map[string]any)
	Success(ctx context.Context, msg string, details map[string]any)
	Error(ctx context.Context, msg string, details map[string]any)
}

// Defaults are the ERP master data used when creating documents.
type Defaults struct {
	ItemGroup     string
	StockUOM      string
	CustomerGroup string
	Territory     string
	Currency      string
}

func (d Defaults) withFallbacks() Defaults {
	if d.ItemGroup == "" {
		d.ItemGroup = "All Item Groups"
	}
	if d.StockUOM == "" {
		d.StockUOM = "Nos"
	}
	if d.CustomerGroup == "" {
		d.CustomerGroup = "All Customer Groups"
	}
	if d.Territory == "" {
		d.Territory = "All Territories"
	}
	if d.Currency == "" {
		d.Currency = "EUR"
	}
	return d
}

// ErrInProgress means another delivery of the same order holds the lease.
var ErrInProgress = errors.New("order is already being processed")

const (
	// Address.address_title is a Data field; keep well under its length.
	maxAddressTitle = 100
	// Item.item_name is limited to 140 characters.
	maxItemName = 140

	generatedItemPrefix = "SHOPIFY-"
)

func parseRate(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// dateOnly keeps the calendar date of an RFC3339 timestamp in its own offset.
func dateOnly(ts string, now time.Time) string {
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(ts)); err == nil {
		return t.Format("2006-01-02")
	}
	return now.Format("2006-01-02")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func wrap(step string, err error) error {
	return fmt.Errorf("%s: %w", step, err)
}
