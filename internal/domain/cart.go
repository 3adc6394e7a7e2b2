package domain

// CartLine is one (isbn, qty) pairing inside a customer's basket.
type CartLine struct {
	ISBN string `json:"isbn"`
	Qty  int    `json:"qty"`
}

// CartViewLine is a cart line joined with live catalog data for display.
type CartViewLine struct {
	ISBN      string `json:"isbn"`
	Title     string `json:"title"`
	UnitPrice int64  `json:"unit_price_cents"`
	Qty       int    `json:"qty"`
	LineTotal int64  `json:"line_total_cents"`
	Available int    `json:"available"`
}

type CartView struct {
	CustomerID string         `json:"customer_id"`
	Lines      []CartViewLine `json:"lines"`
	Total      int64          `json:"total_cents"`
}

// MergeLines collapses duplicate isbns by summing quantities, preserving first-seen order.
func MergeLines(lines []CartLine) []CartLine {
	idx := make(map[string]int, len(lines))
	out := make([]CartLine, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.ISBN]; ok {
			out[i].Qty += l.Qty
			continue
		}
		idx[l.ISBN] = len(out)
		out = append(out, l)
	}
	return out
}
