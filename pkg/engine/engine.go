// Package engine computes gift-tax liability for one transfer against a
// loaded law table. Compute is a pure function of its two arguments.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coolbeans/gifttax/pkg/gift"
	"github.com/coolbeans/gifttax/pkg/lawtable"
	"github.com/coolbeans/gifttax/pkg/money"
	"github.com/shopspring/decimal"
)

// AggregationYears is the length of the rolling window over which gifts
// from the same donor to the same donee are summed.
const AggregationYears = 10

// Window returns the inclusive aggregation window ending at giftDate. The
// start keeps the month and day of giftDate ten years earlier, clamped to
// the end of that month, so 2024-02-29 starts at 2014-02-28.
func Window(giftDate time.Time) (start, end time.Time) {
	y, m, d := giftDate.Date()
	y -= AggregationYears
	if last := daysIn(y, m, giftDate.Location()); d > last {
		d = last
	}
	h, mi, s := giftDate.Clock()
	start = time.Date(y, m, d, h, mi, s, giftDate.Nanosecond(), giftDate.Location())
	return start, giftDate
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Compute derives the taxable base and, when the law table is configured,
// the tax due for in. A residency/relationship pair without a deduction
// entry fails with *UnsupportedCategoryError; an unconfigured table is not
// an error and yields a breakdown without tax figures.
func Compute(in gift.GiftInput, law *lawtable.LawContext) (*GiftBreakdown, error) {
	if law == nil {
		return nil, errors.New("compute: no law table loaded")
	}

	b := &GiftBreakdown{
		LawVersion:    law.Version(),
		LawReference:  law.Reference(),
		LawConfigured: law.Configured(),
		Residency:     in.Residency,
		Relationship:  in.Relationship,
		RecipientName: in.RecipientName,
		PropertyType:  in.PropertyType,
		GiftDate:      in.GiftDate,
		Amount:        in.Amount,
		DebtAssumed:   in.DebtAssumed,
		NetGift:       in.NetGift(),
	}
	b.notef("Law table %s%s.", displayVersion(law.Version()), citation(law.Reference()))
	if !in.DebtAssumed.IsZero() {
		b.notef("Assumed debt of %s reduces the gift of %s to a net gift of %s.",
			money.Format(in.DebtAssumed), money.Format(in.Amount), money.Format(b.NetGift))
	}

	// 1. Aggregation window.
	b.WindowStart, b.WindowEnd = Window(in.GiftDate)
	b.PriorAggregate = decimal.Zero
	for _, prior := range in.PriorGifts {
		if prior.Date.Before(b.WindowStart) || prior.Date.After(b.WindowEnd) {
			b.ExcludedPriorGifts++
			continue
		}
		b.IncludedPriorGifts++
		b.PriorAggregate = b.PriorAggregate.Add(prior.Amount)
	}
	b.AggregatedBase = b.NetGift.Add(b.PriorAggregate)
	b.notef("Aggregation window %s to %s (inclusive): %d prior gift(s) totalling %s included, %d outside the window excluded; aggregated base %s.",
		b.WindowStart.Format(gift.DateLayout), b.WindowEnd.Format(gift.DateLayout),
		b.IncludedPriorGifts, money.Format(b.PriorAggregate), b.ExcludedPriorGifts,
		money.Format(b.AggregatedBase))

	// 2. Deduction lookup.
	deduction, ok := law.Deduction(in.Residency, in.Relationship)
	if !ok {
		return nil, &UnsupportedCategoryError{
			Residency:    in.Residency,
			Relationship: in.Relationship,
			LawVersion:   law.Version(),
		}
	}

	// 3. Taxable base.
	if deduction.Valid {
		taxable := money.ClampZero(b.AggregatedBase.Sub(deduction.Decimal))
		b.BasicDeduction = deduction
		b.TaxableBase = decimal.NewNullDecimal(taxable)
		b.notef("Basic deduction for a %s donee (%s): %s; taxable base %s.",
			in.Residency, in.Relationship, money.Format(deduction.Decimal), money.Format(taxable))
	} else {
		b.notef("Basic deduction for a %s donee (%s) is still a placeholder; taxable base not available.",
			in.Residency, in.Relationship)
	}

	// 4. Unconfigured short-circuit.
	rates, ok := law.RateTable()
	if !ok {
		b.notef("Law table is incomplete, so no tax is computed. Values still to be supplied: %s.",
			strings.Join(law.Gaps(), ", "))
		return b, nil
	}

	// 5-6. Bracket selection and gross tax.
	brackets := rates.Brackets()
	taxable := b.TaxableBase.Decimal
	bracket := SelectBracket(brackets, taxable)
	gross := BracketTax(bracket, taxable)
	b.Bracket = &bracket
	b.GrossTax = decimal.NewNullDecimal(gross)
	b.notef("Bracket from %s applied: %s x %s - progressive deduction %s = gross tax %s.",
		money.Format(bracket.Threshold), money.Format(taxable), money.FormatRate(bracket.Rate),
		money.Format(bracket.CumulativeDeduction), money.Format(gross))

	// 7. Prior-tax credit.
	credit, err := b.priorTaxCredit(rates, brackets, deduction.Decimal)
	if err != nil {
		return nil, err
	}
	b.PriorTaxCredit = decimal.NewNullDecimal(credit)

	// 8. Tax due.
	due := money.ClampZero(gross.Sub(credit))
	b.TaxDue = decimal.NewNullDecimal(due)
	b.notef("Tax due: %s - %s = %s.", money.Format(gross), money.Format(credit), money.Format(due))

	return b, nil
}

// priorTaxCredit computes the tax already attributable to the in-window
// prior gifts, either by recomputing tax on their aggregate or through the
// table's credit formula.
func (b *GiftBreakdown) priorTaxCredit(rates *lawtable.RateTable, brackets []lawtable.Bracket, deduction decimal.Decimal) (decimal.Decimal, error) {
	if b.IncludedPriorGifts == 0 {
		b.CreditMethod = CreditNone
		b.notef("No prior gifts inside the window; prior-tax credit 0.")
		return decimal.Zero, nil
	}

	priorTaxable := money.ClampZero(b.PriorAggregate.Sub(deduction))
	priorBracket := SelectBracket(brackets, priorTaxable)
	priorTax := BracketTax(priorBracket, priorTaxable)

	rule := rates.Credit()
	if rule == nil {
		b.CreditMethod = CreditRecompute
		b.notef("Prior-tax credit recomputed on the prior aggregate %s: taxable %s at %s - %s = %s.",
			money.Format(b.PriorAggregate), money.Format(priorTaxable), money.FormatRate(priorBracket.Rate),
			money.Format(priorBracket.CumulativeDeduction), money.Format(priorTax))
		return priorTax, nil
	}

	credit, err := rule.Evaluate(lawtable.CreditInputs{
		PriorTax:         priorTax,
		PriorAggregate:   b.PriorAggregate,
		PriorTaxableBase: priorTaxable,
		GrossTax:         b.GrossTax.Decimal,
		AggregatedBase:   b.AggregatedBase,
		TaxableBase:      b.TaxableBase.Decimal,
		Deduction:        deduction,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("compute prior-tax credit: %w", err)
	}
	b.CreditMethod = CreditFormula
	b.notef("Prior-tax credit from the table formula %q (recomputed prior tax %s): %s.",
		rule.Formula(), money.Format(priorTax), money.Format(credit))
	return credit, nil
}

// SelectBracket returns the bracket with the greatest threshold not above
// base. brackets must be sorted ascending and start at zero.
func SelectBracket(brackets []lawtable.Bracket, base decimal.Decimal) lawtable.Bracket {
	i := sort.Search(len(brackets), func(i int) bool {
		return brackets[i].Threshold.GreaterThan(base)
	})
	if i == 0 {
		return brackets[0]
	}
	return brackets[i-1]
}

// BracketTax applies the progressive shortcut: base x rate less the
// bracket's cumulative deduction, never below zero. No rounding is applied.
func BracketTax(bracket lawtable.Bracket, base decimal.Decimal) decimal.Decimal {
	return money.ClampZero(base.Mul(bracket.Rate).Sub(bracket.CumulativeDeduction))
}

func (b *GiftBreakdown) notef(format string, args ...any) {
	b.Notes = append(b.Notes, fmt.Sprintf(format, args...))
}

func displayVersion(version string) string {
	if version == "" {
		return "(unversioned)"
	}
	return version
}

func citation(reference string) string {
	if reference == "" {
		return ""
	}
	return " (" + reference + ")"
}
