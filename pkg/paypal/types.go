package paypal

const (
	IntentCapture = "CAPTURE"

	StatusCreated             = "CREATED"
	StatusSaved               = "SAVED"
	StatusApproved            = "APPROVED"
	StatusVoided              = "VOIDED"
	StatusCompleted           = "COMPLETED"
	StatusPayerActionRequired = "PAYER_ACTION_REQUIRED"

	IssueOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

	CategoryDigitalGoods  = "DIGITAL_GOODS"
	CategoryPhysicalGoods = "PHYSICAL_GOODS"
)

type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Breakdown struct {
	ItemTotal *Money `json:"item_total,omitempty"`
	Shipping  *Money `json:"shipping,omitempty"`
}

type Amount struct {
	CurrencyCode string     `json:"currency_code"`
	Value        string     `json:"value"`
	Breakdown    *Breakdown `json:"breakdown,omitempty"`
}

type Item struct {
	Name       string `json:"name"`
	SKU        string `json:"sku,omitempty"`
	Quantity   string `json:"quantity"`
	UnitAmount Money  `json:"unit_amount"`
	Category   string `json:"category,omitempty"`
}

type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount *Money `json:"amount,omitempty"`
}

type Payments struct {
	Captures []Capture `json:"captures,omitempty"`
}

type PurchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	InvoiceID   string    `json:"invoice_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Amount      *Amount   `json:"amount,omitempty"`
	Items       []Item    `json:"items,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

type PayerName struct {
	GivenName string `json:"given_name,omitempty"`
	Surname   string `json:"surname,omitempty"`
}

type Payer struct {
	PayerID      string    `json:"payer_id,omitempty"`
	EmailAddress string    `json:"email_address,omitempty"`
	Name         PayerName `json:"name"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// Order is the subset of the v2 checkout order resource the storefront reads.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Intent        string         `json:"intent,omitempty"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Payer         *Payer         `json:"payer,omitempty"`
	Links         []Link         `json:"links,omitempty"`
	CreateTime    string         `json:"create_time,omitempty"`
}

// ApproveURL returns the buyer approval link, if PayPal sent one.
func (o *Order) ApproveURL() string {
	if o == nil {
		return ""
	}
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

type CreateOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}
