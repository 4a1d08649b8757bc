package catalog

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tishcommerce-checkout/pkg/types"
)

// Product mirrors an entry of products.json.
type Product struct {
	ID             string       `json:"ID"`
	Title          string       `json:"Title"`
	Slug           string       `json:"Slug,omitempty"`
	Enabled        bool         `json:"Enabled"`
	CatalogVisible bool         `json:"CatalogVisible"`
	RegularPrice   types.Amount `json:"RegularPrice"`
	SalePrice      types.Amount `json:"SalePrice"`
	Currency       string       `json:"Currency"`
	DownloadURL    string       `json:"DownloadURL,omitempty"`
}

// EffectivePrice is the sale price when present and lower than the regular price.
func (p Product) EffectivePrice() decimal.Decimal {
	return EffectivePrice(p.RegularPrice, p.SalePrice)
}

// Downloadable reports whether the product has a registered download URL.
func (p Product) Downloadable() bool {
	return strings.TrimSpace(p.DownloadURL) != ""
}

// EffectivePrice applies the sale-price rule to an arbitrary regular/sale pair.
func EffectivePrice(regular, sale types.Amount) decimal.Decimal {
	if sale.Valid && sale.Value.IsPositive() && (!regular.Valid || sale.Value.LessThan(regular.Value)) {
		return sale.Value
	}
	if regular.Valid {
		return regular.Value
	}
	return decimal.Zero
}
