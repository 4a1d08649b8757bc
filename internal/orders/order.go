package orders

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/types"
)

// BillingContact is the minimal contact block; the address fields are optional.
type BillingContact struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode,omitempty"`
	Country   string `json:"country,omitempty"`
}

// FullName joins first and last name.
func (b BillingContact) FullName() string {
	return strings.TrimSpace(b.FirstName + " " + b.LastName)
}

// MaxQuantity bounds a single line; it must match the lte tag on CartItem.Quantity.
const MaxQuantity = 1000

// CartItem is a line as submitted by the client. Only ProductID and Quantity are trusted;
// prices are checked against the catalog and DownloadURL is ignored.
type CartItem struct {
	ProductID    string       `json:"ID" validate:"required"`
	Title        string       `json:"Title"`
	RegularPrice types.Amount `json:"RegularPrice"`
	SalePrice    types.Amount `json:"SalePrice"`
	Quantity     int          `json:"quantity" validate:"gte=1,lte=1000"`
	DownloadURL  string       `json:"DownloadURL,omitempty"`
}

// ShippingSelection is the shipping method the client claims to have picked.
type ShippingSelection struct {
	ID    string       `json:"id" validate:"required"`
	Name  string       `json:"name"`
	Price types.Amount `json:"price"`
}

// Draft is an unvalidated checkout submission.
type Draft struct {
	OrderID         string             `json:"orderId" validate:"required"`
	OrderDate       string             `json:"orderDate"`
	CartItems       []CartItem         `json:"cartItems" validate:"required,min=1,dive"`
	Billing         BillingContact     `json:"billingForm"`
	PaymentMethodID string             `json:"paymentMethodId" validate:"required"`
	Shipping        *ShippingSelection `json:"shippingMethod,omitempty" validate:"omitempty"`
}

// Line is a cart line priced by the catalog.
type Line struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// Total is UnitPrice × Quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ShippingLine is a shipping charge priced by checkout configuration.
type ShippingLine struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Order is a validated checkout attempt with server-derived totals.
type Order struct {
	ID               string              `json:"orderId"`
	Date             string              `json:"orderDate"`
	Lines            []Line              `json:"lines"`
	Billing          BillingContact      `json:"billingForm"`
	PaymentMethod    enums.PaymentMethod `json:"paymentMethodId"`
	PaymentReference string              `json:"paymentReference,omitempty"`
	Shipping         *ShippingLine       `json:"shippingMethod,omitempty"`
	Currency         string              `json:"currency"`
	State            enums.OrderState    `json:"state"`
}

// Subtotal sums the item lines.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// Total is the subtotal plus shipping.
func (o *Order) Total() decimal.Decimal {
	total := o.Subtotal()
	if o.Shipping != nil {
		total = total.Add(o.Shipping.Price)
	}
	return total
}

// ProductIDs lists the purchased products in cart order.
func (o *Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Lines))
	for _, l := range o.Lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

// Advance moves the order along the state machine, refusing illegal transitions.
func (o *Order) Advance(next enums.OrderState) error {
	current := o.State
	if current == "" {
		current = enums.OrderStateCreated
	}
	if current == next {
		return nil
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("order %s: illegal transition %s -> %s", o.ID, current, next)
	}
	o.State = next
	return nil
}
