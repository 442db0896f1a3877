package invoice

import (
	"bytes"
	"context"

	twmerge "github.com/Oudwins/tailwind-merge-go"
)

//go:generate templ generate -f page.templ

const (
	baseLineClass = "block whitespace-pre font-mono text-sm text-left font-normal"
	pageClass     = "mx-auto w-[32ch] bg-white p-4 font-mono text-sm text-gray-900"
)

// lineClass merges per-line modifiers over the base classes so later
// alignment and weight utilities replace the defaults.
func lineClass(line Line) string {
	classes := []string{baseLineClass}
	switch line.Align {
	case AlignCenter:
		classes = append(classes, "text-center")
	case AlignRight:
		classes = append(classes, "text-right")
	}
	if line.Bold {
		classes = append(classes, "font-bold")
	}
	if line.Double {
		classes = append(classes, "text-lg")
	}
	if line.Rule {
		classes = append(classes, "border-t border-dashed border-gray-500 my-1")
	}
	return twmerge.Merge(classes...)
}

// HTML renders lines to a string.
func HTML(title string, lines []Line) (string, error) {
	var buf bytes.Buffer
	if err := Page(title, lines).Render(context.Background(), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
