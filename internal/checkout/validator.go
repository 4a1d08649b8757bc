package checkout

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/tishcommerce-checkout/internal/catalog"
	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
)

// Rejection reasons returned with VALIDATION_ERROR.
const (
	ReasonMissingField         = "missing_field"
	ReasonInvalidField         = "invalid_field"
	ReasonInvalidPaymentMethod = "invalid_payment_method"
	ReasonShippingMismatch     = "shipping_mismatch"
	ReasonProductNotFound      = "product_not_found"
	ReasonPriceMismatch        = "price_mismatch"
	ReasonCurrencyMismatch     = "currency_mismatch"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Catalog is the trusted data the validator checks submissions against.
type Catalog interface {
	Product(id string) (catalog.Product, bool)
	Currency() string
	PaymentMethodEnabled(method enums.PaymentMethod) bool
	ShippingMethod(id string) (catalog.ShippingMethod, bool)
	ShippingRequired() bool
}

// Validator turns a client draft into a server-priced order or rejects it with a reason.
// Checks run in a fixed order and stop at the first failure.
type Validator struct {
	catalog  Catalog
	validate *validator.Validate
	now      func() time.Time
}

func NewValidator(cat Catalog) (*Validator, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog required")
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return &Validator{catalog: cat, validate: v, now: time.Now}, nil
}

func (v *Validator) Validate(draft *orders.Draft) (*orders.Order, error) {
	if draft == nil {
		return nil, pkgerrors.Reject(ReasonMissingField, "order is required")
	}
	d := normalizeDraft(*draft)

	if err := v.structural(&d); err != nil {
		return nil, err
	}

	method, err := enums.ParsePaymentMethod(d.PaymentMethodID)
	if err != nil || !v.catalog.PaymentMethodEnabled(method) {
		return nil, pkgerrors.Reject(ReasonInvalidPaymentMethod, fmt.Sprintf("payment method %q is not available", d.PaymentMethodID))
	}

	shipping, err := v.shipping(d.Shipping)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(v.catalog.Currency())
	lines := make([]orders.Line, 0, len(d.CartItems))
	for i, item := range d.CartItems {
		line, err := v.line(i, item, currency)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	date := d.OrderDate
	if date == "" {
		date = v.now().UTC().Format(time.RFC3339)
	}
	return &orders.Order{
		ID:            d.OrderID,
		Date:          date,
		Lines:         lines,
		Billing:       d.Billing,
		PaymentMethod: method,
		Shipping:      shipping,
		Currency:      currency,
		State:         enums.OrderStateCreated,
	}, nil
}

func (v *Validator) structural(d *orders.Draft) error {
	if err := v.validate.Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed").WithReason(ReasonInvalidField)
		}
		reason := ReasonInvalidField
		details := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			field := strings.TrimPrefix(fe.Namespace(), "Draft.")
			details[field] = validationMessage(fe)
			if fe.Tag() == "required" || (fe.Tag() == "min" && fe.Kind() == reflect.Slice) {
				reason = ReasonMissingField
			}
		}
		return pkgerrors.Reject(reason, "order is incomplete or malformed").WithDetails(details)
	}
	if !emailPattern.MatchString(d.Billing.Email) {
		return pkgerrors.Reject(ReasonInvalidField, "billing email is invalid").
			WithDetails(map[string]string{"billingForm.email": "must be a valid email"})
	}
	return nil
}

func (v *Validator) shipping(sel *orders.ShippingSelection) (*orders.ShippingLine, error) {
	if sel == nil {
		if v.catalog.ShippingRequired() {
			return nil, pkgerrors.Reject(ReasonMissingField, "a shipping method is required").
				WithDetails(map[string]string{"shippingMethod": "is required"})
		}
		return nil, nil
	}
	configured, ok := v.catalog.ShippingMethod(sel.ID)
	if !ok {
		return nil, pkgerrors.Reject(ReasonShippingMismatch, fmt.Sprintf("shipping method %q is not available", sel.ID))
	}
	priceMatches := sel.Price.Valid && configured.Price.Valid && sel.Price.Value.Equal(configured.Price.Value)
	if sel.Name != configured.Name || !priceMatches {
		return nil, pkgerrors.Reject(ReasonShippingMismatch, fmt.Sprintf("shipping method %q does not match configuration", sel.ID))
	}
	return &orders.ShippingLine{ID: configured.ID, Name: configured.Name, Price: configured.Price.Value}, nil
}

func (v *Validator) line(i int, item orders.CartItem, currency string) (orders.Line, error) {
	product, ok := v.catalog.Product(item.ProductID)
	if !ok || !product.Enabled {
		return orders.Line{}, pkgerrors.Reject(ReasonProductNotFound, fmt.Sprintf("product %q is not available", item.ProductID)).
			WithDetails(map[string]any{"index": i, "productId": item.ProductID})
	}
	if product.Currency != "" && product.Currency != currency {
		return orders.Line{}, pkgerrors.Reject(ReasonCurrencyMismatch, fmt.Sprintf("product %q is priced in %s, store currency is %s", product.ID, product.Currency, currency)).
			WithDetails(map[string]any{"index": i, "productId": product.ID})
	}
	submitted := catalog.EffectivePrice(item.RegularPrice, item.SalePrice)
	expected := product.EffectivePrice()
	if !submitted.Equal(expected) {
		return orders.Line{}, pkgerrors.Reject(ReasonPriceMismatch, fmt.Sprintf("price for product %q does not match the catalog", product.ID)).
			WithDetails(map[string]any{"index": i, "productId": product.ID})
	}
	return orders.Line{
		ProductID: product.ID,
		Title:     product.Title,
		UnitPrice: expected,
		Quantity:  item.Quantity,
	}, nil
}

func normalizeDraft(d orders.Draft) orders.Draft {
	d.OrderID = strings.TrimSpace(d.OrderID)
	d.OrderDate = strings.TrimSpace(d.OrderDate)
	d.PaymentMethodID = strings.TrimSpace(d.PaymentMethodID)
	d.Billing.FirstName = strings.TrimSpace(d.Billing.FirstName)
	d.Billing.LastName = strings.TrimSpace(d.Billing.LastName)
	d.Billing.Email = strings.TrimSpace(d.Billing.Email)
	items := make([]orders.CartItem, len(d.CartItems))
	for i, item := range d.CartItems {
		item.ProductID = strings.TrimSpace(item.ProductID)
		items[i] = item
	}
	d.CartItems = items
	if d.Shipping != nil {
		sel := *d.Shipping
		sel.ID = strings.TrimSpace(sel.ID)
		d.Shipping = &sel
	}
	return d
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return "is invalid"
}
