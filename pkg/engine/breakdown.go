package engine

import (
	"time"

	"github.com/coolbeans/gifttax/pkg/lawtable"
	"github.com/coolbeans/gifttax/pkg/types"
	"github.com/shopspring/decimal"
)

// Credit methods recorded in a breakdown.
const (
	CreditNone      = "none"
	CreditRecompute = "recompute"
	CreditFormula   = "formula"
)

// GiftBreakdown is the read-only result of one computation. Figures that
// could not be derived, because the law table is unconfigured, have
// Valid=false.
type GiftBreakdown struct {
	LawVersion    string `json:"law_version"`
	LawReference  string `json:"law_reference,omitempty"`
	LawConfigured bool   `json:"law_configured"`

	Residency     types.Residency    `json:"residency"`
	Relationship  types.Relationship `json:"relationship"`
	RecipientName string             `json:"recipient_name,omitempty"`
	PropertyType  types.PropertyType `json:"property_type,omitempty"`
	GiftDate      time.Time          `json:"gift_date"`

	Amount      decimal.Decimal `json:"amount"`
	DebtAssumed decimal.Decimal `json:"debt_assumed"`
	NetGift     decimal.Decimal `json:"net_gift"`

	WindowStart        time.Time       `json:"window_start"`
	WindowEnd          time.Time       `json:"window_end"`
	IncludedPriorGifts int             `json:"included_prior_gifts"`
	ExcludedPriorGifts int             `json:"excluded_prior_gifts"`
	PriorAggregate     decimal.Decimal `json:"prior_aggregate"`
	AggregatedBase     decimal.Decimal `json:"aggregated_base"`

	BasicDeduction decimal.NullDecimal `json:"basic_deduction"`
	TaxableBase    decimal.NullDecimal `json:"taxable_base"`
	Bracket        *lawtable.Bracket   `json:"bracket_applied"`
	GrossTax       decimal.NullDecimal `json:"gross_tax"`
	PriorTaxCredit decimal.NullDecimal `json:"prior_tax_credit"`
	CreditMethod   string              `json:"credit_method,omitempty"`
	TaxDue         decimal.NullDecimal `json:"tax_due"`

	Notes []string `json:"notes"`
}
