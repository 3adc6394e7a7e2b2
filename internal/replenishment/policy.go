// Package replenishment decides when a checkout must reorder a book from its
// publisher and confirms those reorders once stock arrives.
package replenishment

// Policy returns the quantity to reorder for a book with the given threshold.
type Policy func(threshold int) int

// Multiplier orders threshold*n copies, never fewer than one.
func Multiplier(n int) Policy {
	if n < 1 {
		n = 1
	}
	return func(threshold int) int {
		if q := threshold * n; q > 0 {
			return q
		}
		return 1
	}
}

var DefaultPolicy = Multiplier(3)
