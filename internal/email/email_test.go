package email

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func testOrderInfo() *OrderInfo {
	return &OrderInfo{
		OrderNumber:     "ORD000042",
		CustomerName:    "Priya <b>Shah</b>",
		CustomerEmail:   "priya@example.com",
		RestaurantName:  "Dabba Kitchen",
		DeliveryAddress: "14 Brick Lane, London",
		OrderDate:       "10 May 2026 18:30",
		PaymentLabel:    "Card (Paid)",
		Items: []OrderItem{
			{Name: "Chicken Biryani", Size: "Large", Quantity: 2, TotalPrice: "£20.00"},
			{Name: "Mango Lassi", Quantity: 1, TotalPrice: "£5.00", Notes: "no ice"},
		},
		Subtotal:      "£25.00",
		DeliveryFee:   "£50.00",
		Discount:      "£2.50",
		DiscountLabel: "Coupon SAVE10",
		Total:         "£72.50",
	}
}

func TestRenderOrderConfirmation(t *testing.T) {
	t.Parallel()

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	email, err := renderer.Render(context.Background(), TemplateOrderConfirmation, testOrderInfo())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if email.To != "priya@example.com" {
		t.Fatalf("unexpected recipient %q", email.To)
	}
	if email.Subject != "Order ORD000042 confirmed - Dabba Kitchen" {
		t.Fatalf("unexpected subject %q", email.Subject)
	}
	for _, want := range []string{"2 x Chicken Biryani (Large) - £20.00", "Note: no ice", "Coupon SAVE10: -£2.50", "Total: £72.50"} {
		if !strings.Contains(email.Text, want) {
			t.Fatalf("text body missing %q:\n%s", want, email.Text)
		}
	}
	if strings.Contains(email.HTML, "<b>Shah</b>") {
		t.Fatalf("customer name was not escaped in HTML body")
	}
	if !strings.Contains(email.HTML, "ORD000042") {
		t.Fatalf("HTML body missing order number")
	}
	if email.Tags["order_number"] != "ORD000042" || email.Tags["template"] != TemplateOrderConfirmation {
		t.Fatalf("unexpected tags %v", email.Tags)
	}
}

func TestRenderStatusUpdate(t *testing.T) {
	t.Parallel()

	info := testOrderInfo()
	info.Status = "out_for_delivery"
	info.StatusHeadline = "Your order is on its way"
	info.StatusMessage = "Your driver has left the restaurant."
	info.TrackingURL = "https://orders.example.com/track/ORD000042"

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	email, err := renderer.Render(context.Background(), TemplateOrderStatus, info)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if email.Subject != "Your order is on its way - ORD000042" {
		t.Fatalf("unexpected subject %q", email.Subject)
	}
	if !strings.Contains(email.Text, info.TrackingURL) || !strings.Contains(email.HTML, info.TrackingURL) {
		t.Fatalf("tracking link missing")
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	t.Parallel()

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	if _, err := renderer.Render(context.Background(), "order_shipped", testOrderInfo()); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

type recordingProvider struct {
	sent []*Email
}

func (r *recordingProvider) SendEmail(_ context.Context, email *Email) error {
	r.sent = append(r.sent, email)
	return nil
}

func (r *recordingProvider) ValidateAPIKey(context.Context) error { return nil }

func TestSendRequiresRecipient(t *testing.T) {
	t.Parallel()

	provider := &recordingProvider{}
	info := testOrderInfo()
	info.CustomerEmail = ""
	if err := SendOrderConfirmation(context.Background(), provider, nil, info); err == nil {
		t.Fatal("expected error without customer email")
	}
	if err := SendOrderConfirmation(context.Background(), nil, nil, testOrderInfo()); err != nil {
		t.Fatalf("nil provider should be a no-op, got %v", err)
	}
	if err := SendOrderConfirmation(context.Background(), provider, nil, testOrderInfo()); err != nil {
		t.Fatalf("SendOrderConfirmation: %v", err)
	}
	if len(provider.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(provider.sent))
	}
}

func TestMailgunSendEmail(t *testing.T) {
	t.Parallel()

	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mg.example.com/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api" || pass != "key-123" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"<1@mg>","message":"Queued. Thank you."}`))
	}))
	defer server.Close()

	provider := NewMailgunProviderWithClient("key-123", "mg.example.com", "Orders <orders@example.com>", server.URL, server.Client())
	msg := &Email{
		To:      "priya@example.com",
		Subject: "Hi",
		Text:    "hello",
		Tags:    map[string]string{"template": TemplateOrderStatus, "order_number": "ORD000042"},
	}
	if err := provider.SendEmail(context.Background(), msg); err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if form.Get("to") != "priya@example.com" || form.Get("text") != "hello" || form.Has("html") {
		t.Fatalf("unexpected form %v", form)
	}
	if form.Get("o:tag") != TemplateOrderStatus || form.Get("v:order_number") != "ORD000042" {
		t.Fatalf("tags not forwarded: %v", form)
	}
	if msg.ProviderID != "<1@mg>" {
		t.Fatalf("ProviderID = %q", msg.ProviderID)
	}
}

func TestResendTagsAreSorted(t *testing.T) {
	t.Parallel()

	tags := resendTags(map[string]string{"template": "order_status", "order_number": "ORD000042"})
	if len(tags) != 2 || tags[0].Name != "order_number" || tags[1].Value != "order_status" {
		t.Fatalf("unexpected tags %+v", tags)
	}
	if resendTags(nil) != nil {
		t.Fatal("expected nil tags for an untagged email")
	}
}

func TestMailgunSendEmailError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"'to' parameter is not a valid address"}`))
	}))
	defer server.Close()

	provider := NewMailgunProviderWithClient("key-123", "mg.example.com", "orders@example.com", server.URL, server.Client())
	err := provider.SendEmail(context.Background(), &Email{To: "nope", Subject: "Hi", Text: "hello"})
	if err == nil || !strings.Contains(err.Error(), "not a valid address") {
		t.Fatalf("expected mailgun error message, got %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	if _, err := NewProvider(Config{Provider: "postmark"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	p, err := NewProvider(Config{Provider: "log"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if err := p.SendEmail(context.Background(), &Email{To: "a@example.com"}); err != nil {
		t.Fatalf("log provider SendEmail: %v", err)
	}
}
