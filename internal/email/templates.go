package email

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

// OrderInfo contains all the information needed for order email templates
type OrderInfo struct {
	OrderNumber     string
	CustomerName    string
	CustomerEmail   string
	RestaurantName  string
	TrackingURL     string
	DeliveryAddress string
	OrderDate       string
	PaymentLabel    string
	Items           []OrderItem
	Subtotal        string
	DeliveryFee     string
	Discount        string
	DiscountLabel   string
	Total           string
	Status          string
	StatusHeadline  string
	StatusMessage   string
}

// OrderItem represents a single item in an order
type OrderItem struct {
	Name       string
	Size       string
	Notes      string
	Quantity   int
	TotalPrice string
}

// EmailTemplate defines a named email template
type EmailTemplate struct {
	Name    string
	Subject string
	HTML    string
	Text    string
}

const (
	TemplateOrderConfirmation = "order_confirmation"
	TemplateOrderStatus       = "order_status"
)

var emailTemplates = map[string]EmailTemplate{
	TemplateOrderConfirmation: {
		Name:    "Order Confirmation",
		Subject: "Order {{.OrderNumber}} confirmed - {{.RestaurantName}}",
		HTML:    orderConfirmationHTML,
		Text:    orderConfirmationText,
	},
	TemplateOrderStatus: {
		Name:    "Order Status",
		Subject: "{{.StatusHeadline}} - {{.OrderNumber}}",
		HTML:    orderStatusHTML,
		Text:    orderStatusText,
	},
}

// Renderer provides methods to render email templates. Text parts go through
// text/template, HTML parts through html/template so customer input is escaped.
type Renderer struct {
	text *template.Template
	html *htmltemplate.Template
}

// NewRenderer creates a new email template renderer with built-in templates
func NewRenderer() (*Renderer, error) {
	text := template.New("email")
	html := htmltemplate.New("email")

	for key, t := range emailTemplates {
		if _, err := text.New(key + "_subject").Parse(t.Subject); err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", key, err)
		}
		if _, err := text.New(key + "_text").Parse(t.Text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", key, err)
		}
		if _, err := html.New(key + "_html").Parse(t.HTML); err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", key, err)
		}
	}

	return &Renderer{text: text, html: html}, nil
}

// Render renders an email template with the given data
func (r *Renderer) Render(_ context.Context, templateName string, data *OrderInfo) (*Email, error) {
	if data == nil {
		return nil, fmt.Errorf("order info is required")
	}
	if _, ok := emailTemplates[templateName]; !ok {
		return nil, fmt.Errorf("unknown email template %q", templateName)
	}

	var subjectBuf, htmlBuf, textBuf bytes.Buffer
	if err := r.text.ExecuteTemplate(&subjectBuf, templateName+"_subject", data); err != nil {
		return nil, fmt.Errorf("failed to render subject template: %w", err)
	}
	if err := r.html.ExecuteTemplate(&htmlBuf, templateName+"_html", data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}
	if err := r.text.ExecuteTemplate(&textBuf, templateName+"_text", data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}

	return &Email{
		To:      data.CustomerEmail,
		Subject: subjectBuf.String(),
		Text:    textBuf.String(),
		HTML:    htmlBuf.String(),
		Tags: map[string]string{
			"template":     templateName,
			"order_number": data.OrderNumber,
		},
	}, nil
}

// SendOrderConfirmation sends an order confirmation email
func SendOrderConfirmation(ctx context.Context, p Provider, r *Renderer, orderInfo *OrderInfo) error {
	return send(ctx, p, r, TemplateOrderConfirmation, orderInfo)
}

// SendStatusUpdate tells the customer their order moved to a new status.
func SendStatusUpdate(ctx context.Context, p Provider, r *Renderer, orderInfo *OrderInfo) error {
	return send(ctx, p, r, TemplateOrderStatus, orderInfo)
}

func send(ctx context.Context, p Provider, r *Renderer, name string, orderInfo *OrderInfo) error {
	if p == nil {
		return nil
	}
	if orderInfo == nil || orderInfo.CustomerEmail == "" {
		return fmt.Errorf("customer email is required")
	}
	if r == nil {
		var err error
		if r, err = NewRenderer(); err != nil {
			return fmt.Errorf("failed to create renderer: %w", err)
		}
	}

	email, err := r.Render(ctx, name, orderInfo)
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}
	return p.SendEmail(ctx, email)
}

const orderConfirmationText = `Thank you for your order, {{.CustomerName}}!

Order Number: {{.OrderNumber}}
Order Date: {{.OrderDate}}

Items:
{{range .Items}}- {{.Quantity}} x {{.Name}}{{if .Size}} ({{.Size}}){{end}} - {{.TotalPrice}}
{{if .Notes}}  Note: {{.Notes}}
{{end}}{{end}}
Subtotal: {{.Subtotal}}
Delivery: {{.DeliveryFee}}
{{if .Discount}}{{.DiscountLabel}}: -{{.Discount}}
{{end}}Total: {{.Total}}
Payment: {{.PaymentLabel}}

Delivering to:
{{.DeliveryAddress}}
{{if .TrackingURL}}
Track your order: {{.TrackingURL}}
{{end}}
Thank you for ordering from {{.RestaurantName}}!
`

const orderConfirmationHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Order Confirmation</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #b45309; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .order-info { background: white; padding: 15px; border-radius: 6px; margin: 15px 0; }
    .items-table { width: 100%; border-collapse: collapse; margin: 15px 0; }
    .items-table th { text-align: left; padding: 10px; background: #f3f4f6; border-bottom: 2px solid #e5e7eb; }
    .items-table td { padding: 10px; border-bottom: 1px solid #e5e7eb; }
    .total { font-size: 18px; font-weight: bold; text-align: right; padding: 15px 0; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
    .button { display: inline-block; background: #b45309; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; margin-top: 15px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Order Confirmed!</h1>
    <p>Thank you for your order, {{.CustomerName}}</p>
  </div>
  <div class="content">
    <div class="order-info">
      <strong>Order Number:</strong> {{.OrderNumber}}<br>
      <strong>Order Date:</strong> {{.OrderDate}}<br>
      <strong>Payment:</strong> {{.PaymentLabel}}
    </div>

    <h3>Order Summary</h3>
    <table class="items-table">
      <thead>
        <tr>
          <th>Item</th>
          <th>Qty</th>
          <th>Price</th>
        </tr>
      </thead>
      <tbody>
        {{range .Items}}
        <tr>
          <td>{{.Name}}{{if .Size}} ({{.Size}}){{end}}{{if .Notes}}<br><small>{{.Notes}}</small>{{end}}</td>
          <td>{{.Quantity}}</td>
          <td>{{.TotalPrice}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>

    <div class="total">
      <p>Subtotal: {{.Subtotal}}</p>
      <p>Delivery: {{.DeliveryFee}}</p>
      {{if .Discount}}<p>{{.DiscountLabel}}: -{{.Discount}}</p>{{end}}
      <p>Total: {{.Total}}</p>
    </div>

    <h3>Delivering to</h3>
    <p>{{.DeliveryAddress}}</p>
    {{if .TrackingURL}}<p><a href="{{.TrackingURL}}" class="button">Track your order</a></p>{{end}}
  </div>
  <div class="footer">
    <p>Thank you for ordering from {{.RestaurantName}}</p>
  </div>
</body>
</html>
`

const orderStatusText = `{{.StatusHeadline}}

Order Number: {{.OrderNumber}}
Status: {{.Status}}

{{.StatusMessage}}
{{if .TrackingURL}}
Track your order: {{.TrackingURL}}
{{end}}
{{.RestaurantName}}
`

const orderStatusHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.StatusHeadline}}</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #059669; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .button { display: inline-block; background: #059669; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; margin-top: 15px; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>{{.StatusHeadline}}</h1>
    <p>Hi {{.CustomerName}}, here is an update on order {{.OrderNumber}}.</p>
  </div>
  <div class="content">
    <p><strong>Status:</strong> {{.Status}}</p>
    <p>{{.StatusMessage}}</p>
    {{if .TrackingURL}}<p><a href="{{.TrackingURL}}" class="button">Track your order</a></p>{{end}}
  </div>
  <div class="footer">
    <p>{{.RestaurantName}}</p>
  </div>
</body>
</html>
`
