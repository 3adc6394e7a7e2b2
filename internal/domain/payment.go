package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	last4Pattern  = regexp.MustCompile(`^[0-9]{4}$`)
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2})$`)
)

// CardProof is the payment proof supplied on the direct-card path.
type CardProof struct {
	Last4  string `json:"card_last4"`
	Expiry string `json:"card_expiry"`
}

// Validate checks the fingerprint and that the card is valid through the end
// of its expiry month relative to now.
func (c CardProof) Validate(now time.Time) error {
	last4 := strings.TrimSpace(c.Last4)
	if !last4Pattern.MatchString(last4) {
		return &ValidationError{Field: "card_last4", Reason: "must be exactly 4 digits"}
	}

	m := expiryPattern.FindStringSubmatch(strings.TrimSpace(c.Expiry))
	if m == nil {
		return &ValidationError{Field: "card_expiry", Reason: "must be in MM/YY form"}
	}

	var month, year int
	if _, err := fmt.Sscanf(m[1]+" "+m[2], "%d %d", &month, &year); err != nil {
		return &ValidationError{Field: "card_expiry", Reason: "must be in MM/YY form"}
	}
	year += 2000

	now = now.UTC()
	expiresAt := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.Before(expiresAt) {
		return &ValidationError{Field: "card_expiry", Reason: "card has expired"}
	}

	return nil
}

func (c CardProof) Ref() PaymentRef {
	return PaymentRef{CardLast4: strings.TrimSpace(c.Last4), CardExpiry: strings.TrimSpace(c.Expiry)}
}
