// Package invoice turns an order into a kitchen ticket or a customer bill and
// renders either one as HTML, plain text or an ESC/POS byte stream.
package invoice

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/orderdesk/orderdesk/internal/models"
)

// Width is the character width of 80mm thermal paper in the default font.
const Width = 32

type Layout string

const (
	LayoutKitchen Layout = "kitchen"
	LayoutBill    Layout = "bill"
)

var ErrUnknownLayout = errors.New("unknown invoice layout")

func ParseLayout(value string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(value))) {
	case LayoutKitchen:
		return LayoutKitchen, nil
	case LayoutBill, "":
		return LayoutBill, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLayout, value)
	}
}

type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// Line is one printed row. Double lines print at twice the width and height,
// so they hold half as many characters.
type Line struct {
	Text   string
	Align  Align
	Bold   bool
	Double bool
	Rule   bool
}

// Letterhead carries the restaurant details printed on bills.
type Letterhead struct {
	Name           string
	Address        string
	Phone          string
	Footer         string
	CurrencySymbol string
	Location       *time.Location
}

func (h Letterhead) location() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

// Lines builds the layout's rows. The same rows feed every sink.
func Lines(order *models.Order, layout Layout, head Letterhead) ([]Line, error) {
	if order == nil {
		return nil, errors.New("order is required")
	}
	switch layout {
	case LayoutKitchen:
		return kitchenLines(order, head), nil
	case LayoutBill:
		return billLines(order, head), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, layout)
	}
}

func kitchenLines(order *models.Order, head Letterhead) []Line {
	lines := []Line{
		{Text: "KITCHEN", Align: AlignCenter, Bold: true, Double: true},
		{Text: order.OrderNumber, Align: AlignCenter, Bold: true, Double: true},
		{Text: order.CreatedAt.In(head.location()).Format("02 Jan 2006 15:04"), Align: AlignCenter},
		{Rule: true},
	}

	count := 0
	for _, item := range order.Items {
		count += item.Quantity
		lines = append(lines, wrapped(fmt.Sprintf("%d x %s", item.Quantity, item.Name), AlignLeft, true)...)
		if item.Size != "" {
			lines = append(lines, wrappedIndent("Size: "+item.Size)...)
		}
		if item.Notes != "" {
			lines = append(lines, wrappedIndent("Note: "+item.Notes)...)
		}
	}

	lines = append(lines,
		Line{Rule: true},
		Line{Text: fmt.Sprintf("Items: %d", count)},
		Line{Text: "Payment: " + paymentLabel(order)},
	)
	return lines
}

func billLines(order *models.Order, head Letterhead) []Line {
	money := func(cents int) string { return formatMoney(head.CurrencySymbol, cents) }

	var lines []Line
	if head.Name != "" {
		lines = append(lines, Line{Text: clip(head.Name, Width/2), Align: AlignCenter, Bold: true, Double: true})
	}
	if head.Address != "" {
		lines = append(lines, wrapped(head.Address, AlignCenter, false)...)
	}
	if head.Phone != "" {
		lines = append(lines, Line{Text: "Tel: " + head.Phone, Align: AlignCenter})
	}
	lines = append(lines,
		Line{Rule: true},
		Line{Text: pad("Order", order.OrderNumber), Bold: true},
		Line{Text: pad("Date", order.CreatedAt.In(head.location()).Format("02 Jan 2006 15:04"))},
	)
	if order.CustomerName != "" {
		lines = append(lines, wrapped("Customer: "+order.CustomerName, AlignLeft, false)...)
	}
	if order.CustomerPhone != "" {
		lines = append(lines, Line{Text: "Phone: " + order.CustomerPhone})
	}
	if order.DeliveryAddress.Line != "" {
		lines = append(lines, wrapped("Deliver to: "+order.DeliveryAddress.Line, AlignLeft, false)...)
	}
	lines = append(lines, Line{Rule: true})

	for _, item := range order.Items {
		label := fmt.Sprintf("%d x %s", item.Quantity, item.Name)
		if item.Size != "" {
			label += " (" + item.Size + ")"
		}
		lines = append(lines, priced(label, money(item.TotalCents()))...)
	}

	lines = append(lines,
		Line{Rule: true},
		Line{Text: pad("Subtotal", money(order.SubtotalCents))},
		Line{Text: pad("Delivery", money(order.DeliveryFeeCents))},
	)
	if order.DiscountCents > 0 {
		label := "Discount"
		if order.CouponCode != "" {
			label += " " + order.CouponCode
		}
		lines = append(lines, priced(label, "-"+money(order.DiscountCents))...)
	}
	lines = append(lines,
		Line{Text: pad("TOTAL", money(order.TotalCents)), Bold: true},
		Line{Rule: true},
		Line{Text: "Payment: " + paymentLabel(order)},
	)
	if head.Footer != "" {
		lines = append(lines, Line{})
		lines = append(lines, wrapped(head.Footer, AlignCenter, false)...)
	}
	return lines
}

func paymentLabel(order *models.Order) string {
	method := "Cash"
	if order.PaymentMethod == models.PaymentMethodCard {
		method = "Card"
	}
	if order.PaymentStatus == models.PaymentPaid {
		return method + " (Paid)"
	}
	return method + " (Due)"
}

func formatMoney(symbol string, cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%s%d.%02d", sign, symbol, cents/100, cents%100)
}

// pad places left and right on one Width-column line, trimming left when
// both do not fit.
func pad(left, right string) string {
	space := Width - utf8.RuneCountInString(right) - 1
	if space < 0 {
		return clip(right, Width)
	}
	left = clip(left, space)
	gap := Width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	return left + strings.Repeat(" ", gap) + right
}

// priced wraps a long label over several lines and puts the amount on the
// last one, right-aligned.
func priced(label, amount string) []Line {
	room := Width - utf8.RuneCountInString(amount) - 1
	parts := wrap(label, Width)
	last := parts[len(parts)-1]
	lines := make([]Line, 0, len(parts)+1)
	for _, part := range parts[:len(parts)-1] {
		lines = append(lines, Line{Text: part})
	}
	if utf8.RuneCountInString(last) <= room {
		return append(lines, Line{Text: pad(last, amount)})
	}
	return append(lines, Line{Text: last}, Line{Text: pad("", amount)})
}

func wrapped(text string, align Align, bold bool) []Line {
	parts := wrap(text, Width)
	lines := make([]Line, 0, len(parts))
	for _, part := range parts {
		lines = append(lines, Line{Text: part, Align: align, Bold: bold})
	}
	return lines
}

func wrappedIndent(text string) []Line {
	parts := wrap(text, Width-3)
	lines := make([]Line, 0, len(parts))
	for _, part := range parts {
		lines = append(lines, Line{Text: "   " + part})
	}
	return lines
}

// wrap splits text on spaces into lines of at most width runes. Words longer
// than width are broken.
func wrap(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var (
		lines   []string
		current string
	)
	for _, word := range words {
		for utf8.RuneCountInString(word) > width {
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			runes := []rune(word)
			lines = append(lines, string(runes[:width]))
			word = string(runes[width:])
		}
		switch {
		case current == "":
			current = word
		case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(word) <= width:
			current += " " + word
		default:
			lines = append(lines, current)
			current = word
		}
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

func clip(text string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	return string(runes[:width])
}
