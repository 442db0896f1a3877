package invoice

import (
	"strings"
	"unicode/utf8"
)

// Text renders lines as fixed-width plain text.
func Text(lines []Line) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(textLine(line))
		b.WriteByte('\n')
	}
	return b.String()
}

func textLine(line Line) string {
	if line.Rule {
		return strings.Repeat("-", Width)
	}
	text := line.Text
	if line.Double {
		text = strings.ToUpper(text)
	}
	n := utf8.RuneCountInString(text)
	if n >= Width {
		return text
	}
	switch line.Align {
	case AlignCenter:
		return strings.Repeat(" ", (Width-n)/2) + text
	case AlignRight:
		return strings.Repeat(" ", Width-n) + text
	default:
		return text
	}
}
