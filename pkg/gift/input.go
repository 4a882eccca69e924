// Package gift validates raw transfer facts into GiftInput values.
package gift

import (
	"encoding/json"
	"time"

	"github.com/coolbeans/gifttax/pkg/types"
	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date layout.
const DateLayout = "2006-01-02"

// PriorGift is an earlier transfer from the same donor to the same donee.
type PriorGift struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// GiftInput is a validated set of transfer facts. Dates are UTC midnight.
type GiftInput struct {
	Residency     types.Residency    `json:"residency"`
	Relationship  types.Relationship `json:"relationship"`
	GiftDate      time.Time          `json:"gift_date"`
	Amount        decimal.Decimal    `json:"amount"`
	DebtAssumed   decimal.Decimal    `json:"debt_assumed"`
	RecipientName string             `json:"recipient_name,omitempty"`
	PropertyType  types.PropertyType `json:"property_type,omitempty"`
	PriorGifts    []PriorGift        `json:"prior_gifts,omitempty"`
}

// NetGift is the current transfer after assumed debt, never below zero.
func (in GiftInput) NetGift() decimal.Decimal {
	net := in.Amount.Sub(in.DebtAssumed)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// Text is a submitted value. In JSON it accepts a string, a number or null;
// anything else is kept verbatim and reported by the validator.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	switch {
	case string(data) == "null":
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		*t = Text(data)
	}
	return nil
}

// RawPriorGift is a prior transfer as submitted.
type RawPriorGift struct {
	Date   string `json:"date"`
	Amount Text   `json:"amount"`
}

// Raw holds transfer facts exactly as a form or API client submits them.
type Raw struct {
	Residency     string         `json:"residency"`
	Relationship  string         `json:"relationship"`
	GiftDate      string         `json:"gift_date"`
	Amount        Text           `json:"amount"`
	DebtAssumed   Text           `json:"debt_assumed,omitempty"`
	RecipientName string         `json:"recipient_name,omitempty"`
	PropertyType  string         `json:"property_type,omitempty"`
	PriorGifts    []RawPriorGift `json:"prior_gifts,omitempty"`
}
