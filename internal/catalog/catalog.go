package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
)

// Catalog is the read-only price and download authority. It is built once and never mutated.
type Catalog struct {
	products map[string]Product
	ordered  []Product
	settings Settings
}

// New builds a catalog from already-decoded data. Products that are not catalog-visible are dropped.
func New(products []Product, settings Settings) (*Catalog, error) {
	c := &Catalog{
		products: make(map[string]Product, len(products)),
		settings: settings.normalized(),
	}
	for _, p := range products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, errors.New("catalog product without ID")
		}
		if !p.CatalogVisible {
			continue
		}
		if _, dup := c.products[id]; dup {
			return nil, fmt.Errorf("duplicate catalog product %q", id)
		}
		p.ID = id
		p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
		if p.Currency == "" {
			p.Currency = c.settings.Currency
		}
		c.products[id] = p
		c.ordered = append(c.ordered, p)
	}
	return c, nil
}

// Load reads products.json and checkout.json. A missing checkout file falls back to defaults;
// a missing products file yields an empty catalog.
func Load(productsPath, checkoutPath string) (*Catalog, error) {
	var products []Product
	if err := readJSON(productsPath, &products); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load products: %w", err)
	}

	settings := defaultSettings()
	if err := readJSON(checkoutPath, &settings); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load checkout settings: %w", err)
	}

	return New(products, settings)
}

func readJSON(path string, dest any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Product looks up a catalog-visible product by ID.
func (c *Catalog) Product(id string) (Product, bool) {
	if c == nil {
		return Product{}, false
	}
	p, ok := c.products[strings.TrimSpace(id)]
	return p, ok
}

// Products returns the visible products in file order.
func (c *Catalog) Products() []Product {
	if c == nil {
		return nil
	}
	return append([]Product(nil), c.ordered...)
}

// Settings returns a copy of the checkout configuration.
func (c *Catalog) Settings() Settings {
	if c == nil {
		return defaultSettings().normalized()
	}
	return c.settings.normalized()
}

// Currency is the store currency used for totals.
func (c *Catalog) Currency() string {
	return c.Settings().Currency
}

// PaymentMethodEnabled reports whether checkout configuration currently offers the method.
func (c *Catalog) PaymentMethodEnabled(method enums.PaymentMethod) bool {
	if c == nil {
		return false
	}
	for _, m := range c.settings.PaymentMethods {
		if strings.EqualFold(m.ID, string(method)) {
			return m.Enabled
		}
	}
	return false
}

// ShippingMethod looks up an active shipping method by ID.
func (c *Catalog) ShippingMethod(id string) (ShippingMethod, bool) {
	if c == nil {
		return ShippingMethod{}, false
	}
	for _, m := range c.settings.ShippingMethods {
		if m.ID == id && m.Active() {
			return m, true
		}
	}
	return ShippingMethod{}, false
}

// ShippingRequired reports whether every order must carry a shipping selection.
func (c *Catalog) ShippingRequired() bool {
	return c != nil && c.settings.ShippingRequired
}
