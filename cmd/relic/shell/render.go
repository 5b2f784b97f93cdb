package shell

import (
	"fmt"
	"strings"

	"github.com/relicdb/relic/internal/engine"
)

// render prints a result as an aligned column grid, the way sqlite's
// .mode column looks.
func (s *Shell) render(res *engine.QueryResult) {
	headers := make([]string, len(res.Fields))
	widths := make([]int, len(res.Fields))
	for i, f := range res.Fields {
		headers[i] = f.Name
		widths[i] = len(f.Name)
	}

	cells := make([][]string, len(res.Rows))
	for r, row := range res.Rows {
		cells[r] = make([]string, len(row))
		for c, v := range row {
			text := v.String()
			cells[r][c] = text
			if c < len(widths) && len(text) > widths[c] {
				widths[c] = len(text)
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		if i > 0 {
			b.WriteString("  ")
		}
		pad(&b, h, widths[i])
	}
	b.WriteByte('\n')
	for i := range headers {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(strings.Repeat("-", widths[i]))
	}
	b.WriteByte('\n')
	for _, row := range cells {
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			pad(&b, cell, widths[i])
		}
		b.WriteByte('\n')
	}
	fmt.Fprint(s.out, b.String())
	fmt.Fprintf(s.out, "(%d rows)\n", len(res.Rows))
}

func pad(b *strings.Builder, text string, width int) {
	b.WriteString(text)
	for i := len(text); i < width; i++ {
		b.WriteByte(' ')
	}
}
