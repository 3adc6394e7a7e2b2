package domain

// Book is a catalog record. Prices are integer cents.
type Book struct {
	ISBN         string `json:"isbn"`
	Title        string `json:"title"`
	SellingPrice int64  `json:"selling_price_cents"`
	StockQty     int    `json:"stock_qty"`
	Threshold    int    `json:"threshold"`
	PublisherID  string `json:"publisher_id"`
}

// BelowThreshold reports whether stock has fallen under the reorder trigger point.
func (b Book) BelowThreshold(stock int) bool {
	return stock < b.Threshold
}
