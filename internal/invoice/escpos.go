package invoice

import (
	"bytes"
	"strings"
)

// ESC/POS control sequences.
var (
	escInit        = []byte{0x1B, 0x40}
	escCodePage437 = []byte{0x1B, 0x74, 0x00}
	escBoldOn      = []byte{0x1B, 0x45, 0x01}
	escBoldOff     = []byte{0x1B, 0x45, 0x00}
	gsDoubleOn     = []byte{0x1D, 0x21, 0x11}
	gsDoubleOff    = []byte{0x1D, 0x21, 0x00}
	gsFeedAndCut   = []byte{0x1D, 0x56, 0x41, 0x03}
)

func escAlign(align Align) []byte {
	return []byte{0x1B, 0x61, byte(align)}
}

// ESCPOS encodes lines for a thermal printer using code page 437.
func ESCPOS(lines []Line) []byte {
	var buf bytes.Buffer
	buf.Write(escInit)
	buf.Write(escCodePage437)

	for _, line := range lines {
		if line.Rule {
			buf.Write(escAlign(AlignLeft))
			buf.WriteString(strings.Repeat("-", Width))
			buf.WriteByte('\n')
			continue
		}
		buf.Write(escAlign(line.Align))
		if line.Bold {
			buf.Write(escBoldOn)
		}
		if line.Double {
			buf.Write(gsDoubleOn)
		}
		buf.Write(encodeCP437(line.Text))
		if line.Double {
			buf.Write(gsDoubleOff)
		}
		if line.Bold {
			buf.Write(escBoldOff)
		}
		buf.WriteByte('\n')
	}

	buf.Write(escAlign(AlignLeft))
	buf.Write(gsFeedAndCut)
	return buf.Bytes()
}

// encodeCP437 keeps printable ASCII, maps the pound sign to its code page 437
// byte and replaces anything else with '?'.
func encodeCP437(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		switch {
		case r == '£':
			out = append(out, 0x9C)
		case r >= 0x20 && r < 0x7F:
			out = append(out, byte(r))
		default:
			out = append(out, '?')
		}
	}
	return out
}
