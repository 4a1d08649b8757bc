package notifications

import (
	"bytes"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tishcommerce-checkout/internal/downloads"
	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
)

const customerTemplate = `Hi {{.Order.Billing.FirstName}},

{{.Message}}

Order ID: {{.Order.ID}}
Order Date: {{.Order.Date}}
Payment Method: {{.PaymentMethod}}

Order Summary:
{{range .Lines}}- {{.Title}} × {{.Quantity}} = {{.Amount}}
{{end}}{{if .Shipping}}Shipping ({{.Shipping.Title}}): {{.Shipping.Amount}}
{{end}}
Total: {{.Total}}
{{- if .Downloads}}

Download Your Products:
{{range .Downloads}}- {{.ProductTitle}}: {{.DownloadURL}}
{{end}}
Please download your products as soon as possible and keep a copy on your device.
{{- end}}

Thank you for shopping with us!
{{.SiteName}}
`

const adminTemplate = `New Order Received

Order ID: {{.Order.ID}}
Order Date: {{.Order.Date}}
Customer: {{.Order.Billing.FullName}}
Email: {{.Order.Billing.Email}}
{{- if .Order.Billing.Phone}}
Phone: {{.Order.Billing.Phone}}{{end}}
{{- if .Order.Billing.Address}}
Address: {{.Address}}{{end}}

Payment Method: {{.PaymentMethod}}
Payment Reference: {{.Order.PaymentReference}}

Order Summary:
{{range .Lines}}- {{.Title}} × {{.Quantity}} = {{.Amount}}
{{end}}{{if .Shipping}}Shipping ({{.Shipping.Title}}): {{.Shipping.Amount}}
{{end}}
Total: {{.Total}}
{{- if .Downloads}}

Download Links:
{{range .Downloads}}- {{.ProductTitle}}: {{.DownloadURL}}
{{end}}
{{- end}}

Date: {{.SentAt}}
`

var (
	customerTmpl = template.Must(template.New("customer").Parse(customerTemplate))
	adminTmpl    = template.Must(template.New("admin").Parse(adminTemplate))
)

type summaryLine struct {
	Title    string
	Quantity int
	Amount   string
}

type emailData struct {
	SiteName      string
	Message       string
	Order         *orders.Order
	PaymentMethod string
	Address       string
	Lines         []summaryLine
	Shipping      *summaryLine
	Total         string
	Downloads     []downloads.Link
	SentAt        string
}

func newEmailData(order *orders.Order, links []downloads.Link, siteName, message string, now time.Time) emailData {
	data := emailData{
		SiteName:      siteName,
		Message:       message,
		Order:         order,
		PaymentMethod: strings.ToUpper(order.PaymentMethod.String()),
		Address:       joinNonEmpty(order.Billing.Address, order.Billing.City, order.Billing.State, order.Billing.Postcode, order.Billing.Country),
		Total:         formatMoney(order.Total(), order.Currency),
		Downloads:     links,
		SentAt:        now.UTC().Format(time.RFC1123),
	}
	for _, l := range order.Lines {
		data.Lines = append(data.Lines, summaryLine{Title: l.Title, Quantity: l.Quantity, Amount: formatMoney(l.Total(), order.Currency)})
	}
	if order.Shipping != nil {
		data.Shipping = &summaryLine{Title: order.Shipping.Name, Quantity: 1, Amount: formatMoney(order.Shipping.Price, order.Currency)}
	}
	return data
}

func render(tmpl *template.Template, data emailData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatMoney(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(currency)
	value := orders.FormatAmount(amount, currency)
	if currency == "" || currency == "USD" {
		return "$" + value
	}
	return value + " " + currency
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
