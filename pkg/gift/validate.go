package gift

import (
	"fmt"
	"strings"
	"time"

	"github.com/coolbeans/gifttax/pkg/lawtable"
	"github.com/coolbeans/gifttax/pkg/money"
	"github.com/coolbeans/gifttax/pkg/types"
	"github.com/shopspring/decimal"
)

var dateLayouts = []string{DateLayout, "2006/01/02", "2006.01.02"}

// Validator turns Raw submissions into GiftInput values.
type Validator struct {
	maxPriorGifts int
	relationships []types.Relationship
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithMaxPriorGifts caps the number of prior gifts accepted in one
// submission. Zero means no cap.
func WithMaxPriorGifts(n int) ValidatorOption {
	return func(v *Validator) {
		if n >= 0 {
			v.maxPriorGifts = n
		}
	}
}

// WithRelationships restricts the accepted relationships to rels.
func WithRelationships(rels ...types.Relationship) ValidatorOption {
	return func(v *Validator) {
		v.relationships = append([]types.Relationship(nil), rels...)
	}
}

// WithLaw accepts only the relationships that law has deductions for.
func WithLaw(law *lawtable.LawContext) ValidatorOption {
	return func(v *Validator) {
		if law != nil {
			v.relationships = law.Relationships()
		}
	}
}

// NewValidator creates a Validator.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate normalizes raw with the default validator.
func Validate(raw Raw) (GiftInput, error) {
	return NewValidator().Validate(raw)
}

// Validate normalizes raw. On failure it returns a *ValidationError listing
// every problem, not just the first.
func (v *Validator) Validate(raw Raw) (GiftInput, error) {
	var (
		in       GiftInput
		problems []FieldProblem
	)
	report := func(field, format string, args ...any) {
		problems = append(problems, FieldProblem{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(raw.Residency) == "" {
		report("residency", "is required")
	} else if residency, ok := types.ParseResidency(raw.Residency); ok {
		in.Residency = residency
	} else {
		report("residency", "%q must be one of %s", raw.Residency, joinResidencies())
	}

	if strings.TrimSpace(raw.Relationship) == "" {
		report("relationship", "is required")
	} else if relationship, ok := v.parseRelationship(raw.Relationship); ok {
		in.Relationship = relationship
	} else {
		report("relationship", "%q must be one of %s", raw.Relationship, v.joinRelationships())
	}

	giftDate, dateOK := parseDate(raw.GiftDate)
	switch {
	case strings.TrimSpace(raw.GiftDate) == "":
		report("gift_date", "is required")
	case !dateOK:
		report("gift_date", "%q is not a calendar date (use YYYY-MM-DD)", raw.GiftDate)
	default:
		in.GiftDate = giftDate
	}

	if strings.TrimSpace(string(raw.Amount)) == "" {
		report("amount", "is required")
	} else if amount, msg := parseAmount(string(raw.Amount)); msg != "" {
		report("amount", "%s", msg)
	} else {
		in.Amount = amount
	}

	if strings.TrimSpace(string(raw.DebtAssumed)) != "" {
		if debt, msg := parseAmount(string(raw.DebtAssumed)); msg != "" {
			report("debt_assumed", "%s", msg)
		} else {
			in.DebtAssumed = debt
		}
	}

	in.RecipientName = strings.TrimSpace(raw.RecipientName)

	if strings.TrimSpace(raw.PropertyType) != "" {
		if propertyType, ok := types.ParsePropertyType(raw.PropertyType); ok {
			in.PropertyType = propertyType
		} else {
			report("property_type", "%q must be one of %s", raw.PropertyType, joinPropertyTypes())
		}
	}

	if v.maxPriorGifts > 0 && len(raw.PriorGifts) > v.maxPriorGifts {
		report("prior_gifts", "at most %d prior gifts are accepted, got %d", v.maxPriorGifts, len(raw.PriorGifts))
	}

	for i, prior := range raw.PriorGifts {
		field := fmt.Sprintf("prior_gifts[%d]", i)
		var gift PriorGift
		valid := true

		date, ok := parseDate(prior.Date)
		switch {
		case strings.TrimSpace(prior.Date) == "":
			report(field+".date", "is required")
			valid = false
		case !ok:
			report(field+".date", "%q is not a calendar date (use YYYY-MM-DD)", prior.Date)
			valid = false
		case dateOK && date.After(giftDate):
			report(field+".date", "%s is after the gift date %s", date.Format(DateLayout), giftDate.Format(DateLayout))
			valid = false
		default:
			gift.Date = date
		}

		if strings.TrimSpace(string(prior.Amount)) == "" {
			report(field+".amount", "is required")
			valid = false
		} else if amount, msg := parseAmount(string(prior.Amount)); msg != "" {
			report(field+".amount", "%s", msg)
			valid = false
		} else {
			gift.Amount = amount
		}

		if valid {
			in.PriorGifts = append(in.PriorGifts, gift)
		}
	}

	if len(problems) > 0 {
		return GiftInput{}, &ValidationError{Problems: problems}
	}
	return in, nil
}

// parseAmount parses a non-negative monetary amount. Thousand separators
// (',' and '_') and inner spaces are ignored. The returned message is
// empty on success.
func parseAmount(s string) (decimal.Decimal, string) {
	cleaned := strings.NewReplacer(",", "", "_", "", " ", "").Replace(strings.TrimSpace(s))
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Sprintf("%q is not a number", s)
	}
	if err := money.CheckDigits(amount); err != nil {
		return decimal.Zero, fmt.Sprintf("%q %s", s, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Sprintf("%s must not be negative", amount)
	}
	return amount, ""
}

// parseDate parses a calendar date and returns it as UTC midnight.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

func joinResidencies() string {
	names := make([]string, len(types.Residencies))
	for i, r := range types.Residencies {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func (v *Validator) parseRelationship(s string) (types.Relationship, bool) {
	relationship, ok := types.ParseRelationship(s)
	if !ok || v.relationships == nil {
		return relationship, ok
	}
	for _, allowed := range v.relationships {
		if relationship == allowed {
			return relationship, true
		}
	}
	return relationship, false
}

func (v *Validator) joinRelationships() string {
	known := types.Relationships
	if v.relationships != nil {
		known = v.relationships
	}
	names := make([]string, len(known))
	for i, r := range known {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func joinPropertyTypes() string {
	names := make([]string, len(types.PropertyTypes))
	for i, p := range types.PropertyTypes {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
