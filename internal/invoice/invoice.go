package invoice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/orderdesk/orderdesk/internal/models"
)

type Format string

const (
	FormatHTML   Format = "html"
	FormatText   Format = "text"
	FormatESCPOS Format = "escpos"
)

var ErrUnknownFormat = errors.New("unknown invoice format")

// Document is a rendered layout ready to be served or printed.
type Document struct {
	Layout      Layout
	Format      Format
	ContentType string
	Filename    string
	Body        []byte
}

// Render builds the layout for order and encodes it in format. The output
// depends only on its arguments.
func Render(order *models.Order, layout Layout, format Format, head Letterhead) (*Document, error) {
	lines, err := Lines(order, layout, head)
	if err != nil {
		return nil, err
	}

	doc := &Document{Layout: layout, Format: format}
	base := fmt.Sprintf("%s-%s", strings.ToLower(order.OrderNumber), layout)
	switch format {
	case FormatHTML:
		title := fmt.Sprintf("%s %s", order.OrderNumber, layoutTitle(layout))
		html, err := HTML(title, lines)
		if err != nil {
			return nil, err
		}
		doc.Body = []byte(html)
		doc.ContentType = "text/html; charset=utf-8"
		doc.Filename = base + ".html"
	case FormatText:
		doc.Body = []byte(Text(lines))
		doc.ContentType = "text/plain; charset=utf-8"
		doc.Filename = base + ".txt"
	case FormatESCPOS:
		doc.Body = ESCPOS(lines)
		doc.ContentType = "application/octet-stream"
		doc.Filename = base + ".bin"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return doc, nil
}

func layoutTitle(layout Layout) string {
	if layout == LayoutKitchen {
		return "Kitchen Ticket"
	}
	return "Bill"
}
