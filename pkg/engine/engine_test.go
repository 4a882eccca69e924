package engine

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coolbeans/gifttax/pkg/gift"
	"github.com/coolbeans/gifttax/pkg/lawtable"
	"github.com/coolbeans/gifttax/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioTable = `
metadata:
  version: "scenario"
  reference: "Scenario Act"
deductions:
  resident:
    lineal-descendant: 50000000
    spouse: 600000000
progressive_rates:
  - threshold: 0
    rate: 0.10
    deduction: 0
  - threshold: 100000000
    rate: 0.20
    deduction: 10000000
`

func mustParse(t *testing.T, table string) *lawtable.LawContext {
	t.Helper()
	law, err := lawtable.Parse([]byte(table), "test")
	require.NoError(t, err)
	return law
}

func shippedTable(t *testing.T) *lawtable.LawContext {
	t.Helper()
	law, err := lawtable.LoadFile(filepath.Join("..", "..", "lawtables", "kor_2025.yaml"))
	require.NoError(t, err)
	return law
}

func date(s string) time.Time {
	d, err := time.Parse(gift.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func amount(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, got.Equal(amount(want)), "%s = %s, want %d", field, got, want)
}

func assertNull(t *testing.T, want int64, got decimal.NullDecimal, field string) {
	t.Helper()
	if assert.True(t, got.Valid, "%s should be available", field) {
		assertAmount(t, want, got.Decimal, field)
	}
}

func descendantInput(gross int64, priors ...gift.PriorGift) gift.GiftInput {
	return gift.GiftInput{
		Residency:    types.Resident,
		Relationship: types.LinealDescendant,
		GiftDate:     date("2025-02-10"),
		Amount:       amount(gross),
		PriorGifts:   priors,
	}
}

func TestComputeSingleGift(t *testing.T) {
	b, err := Compute(descendantInput(80_000_000), mustParse(t, scenarioTable))
	require.NoError(t, err)

	assertAmount(t, 80_000_000, b.AggregatedBase, "aggregated_base")
	assertNull(t, 50_000_000, b.BasicDeduction, "basic_deduction")
	assertNull(t, 30_000_000, b.TaxableBase, "taxable_base")
	require.NotNil(t, b.Bracket)
	assertAmount(t, 0, b.Bracket.Threshold, "bracket.threshold")
	assert.True(t, b.Bracket.Rate.Equal(decimal.RequireFromString("0.1")))
	assertNull(t, 3_000_000, b.GrossTax, "gross_tax")
	assertNull(t, 0, b.PriorTaxCredit, "prior_tax_credit")
	assertNull(t, 3_000_000, b.TaxDue, "tax_due")
	assert.Equal(t, CreditNone, b.CreditMethod)
	assert.True(t, b.LawConfigured)
	assert.NotEmpty(t, b.Notes)
}

func TestComputePriorGiftInsideWindow(t *testing.T) {
	in := descendantInput(120_000_000, gift.PriorGift{Date: date("2016-02-10"), Amount: amount(60_000_000)})

	b, err := Compute(in, mustParse(t, scenarioTable))
	require.NoError(t, err)

	assert.Equal(t, 1, b.IncludedPriorGifts)
	assertAmount(t, 180_000_000, b.AggregatedBase, "aggregated_base")
	assertNull(t, 130_000_000, b.TaxableBase, "taxable_base")
	require.NotNil(t, b.Bracket)
	assertAmount(t, 100_000_000, b.Bracket.Threshold, "bracket.threshold")
	assertAmount(t, 10_000_000, b.Bracket.CumulativeDeduction, "bracket.cumulative_deduction")
	assertNull(t, 16_000_000, b.GrossTax, "gross_tax")
	assertNull(t, 1_000_000, b.PriorTaxCredit, "prior_tax_credit")
	assertNull(t, 15_000_000, b.TaxDue, "tax_due")
	assert.Equal(t, CreditRecompute, b.CreditMethod)
}

func TestComputePriorGiftOutsideWindow(t *testing.T) {
	law := mustParse(t, scenarioTable)
	in := descendantInput(80_000_000, gift.PriorGift{Date: date("2014-02-10"), Amount: amount(60_000_000)})

	b, err := Compute(in, law)
	require.NoError(t, err)
	single, err := Compute(descendantInput(80_000_000), law)
	require.NoError(t, err)

	assert.Equal(t, 0, b.IncludedPriorGifts)
	assert.Equal(t, 1, b.ExcludedPriorGifts)
	assert.True(t, b.AggregatedBase.Equal(single.AggregatedBase))
	assert.True(t, b.TaxableBase.Decimal.Equal(single.TaxableBase.Decimal))
	assert.True(t, b.TaxDue.Decimal.Equal(single.TaxDue.Decimal))
	assertNull(t, 0, b.PriorTaxCredit, "prior_tax_credit")
}

func TestComputeWindowBoundaryIsInclusive(t *testing.T) {
	law := mustParse(t, scenarioTable)

	onBoundary := descendantInput(0, gift.PriorGift{Date: date("2015-02-10"), Amount: amount(1)})
	b, err := Compute(onBoundary, law)
	require.NoError(t, err)
	assert.Equal(t, 1, b.IncludedPriorGifts)

	dayBefore := descendantInput(0, gift.PriorGift{Date: date("2015-02-09"), Amount: amount(1)})
	b, err = Compute(dayBefore, law)
	require.NoError(t, err)
	assert.Equal(t, 0, b.IncludedPriorGifts)
	assert.Equal(t, 1, b.ExcludedPriorGifts)
}

func TestWindow(t *testing.T) {
	tests := []struct {
		gift  string
		start string
	}{
		{"2025-02-10", "2015-02-10"},
		{"2024-02-29", "2014-02-28"},
		{"2020-02-29", "2010-02-28"},
		{"2022-02-28", "2012-02-28"},
		{"2025-12-31", "2015-12-31"},
	}

	for _, tt := range tests {
		t.Run(tt.gift, func(t *testing.T) {
			start, end := Window(date(tt.gift))
			assert.Equal(t, date(tt.start), start)
			assert.Equal(t, date(tt.gift), end)
		})
	}
}

func TestComputeLeapDayWindowKeepsFebruaryEnd(t *testing.T) {
	law := mustParse(t, scenarioTable)
	in := descendantInput(0,
		gift.PriorGift{Date: date("2014-02-28"), Amount: amount(1)},
		gift.PriorGift{Date: date("2014-02-27"), Amount: amount(1)})
	in.GiftDate = date("2024-02-29")

	b, err := Compute(in, law)
	require.NoError(t, err)
	assert.Equal(t, 1, b.IncludedPriorGifts)
	assert.Equal(t, 1, b.ExcludedPriorGifts)
}

func TestComputePlaceholderDeduction(t *testing.T) {
	law := mustParse(t, strings.Replace(scenarioTable, "spouse: 600000000", `spouse: "PLACEHOLDER"`, 1))
	in := descendantInput(700_000_000)
	in.Relationship = types.Spouse

	b, err := Compute(in, law)
	require.NoError(t, err)

	assert.False(t, b.LawConfigured)
	assert.False(t, b.TaxDue.Valid)
	assert.False(t, b.GrossTax.Valid)
	assert.False(t, b.PriorTaxCredit.Valid)
	assert.False(t, b.BasicDeduction.Valid)
	assert.False(t, b.TaxableBase.Valid)
	assert.Nil(t, b.Bracket)
	assertAmount(t, 700_000_000, b.AggregatedBase, "aggregated_base")
	assert.Contains(t, strings.Join(b.Notes, "\n"), "deductions.resident.spouse")
}

func TestComputeUnconfiguredStillPreviewsTaxableBase(t *testing.T) {
	law := mustParse(t, strings.Replace(scenarioTable, "deduction: 10000000", `deduction: "PLACEHOLDER"`, 1))

	b, err := Compute(descendantInput(80_000_000), law)
	require.NoError(t, err)

	assertNull(t, 30_000_000, b.TaxableBase, "taxable_base")
	assert.False(t, b.TaxDue.Valid)
	assert.Contains(t, b.Notes[len(b.Notes)-1], "progressive_rates[1].deduction")
}

func TestComputeUnsupportedCategory(t *testing.T) {
	in := descendantInput(80_000_000)
	in.Residency = types.NonResident

	b, err := Compute(in, mustParse(t, scenarioTable))
	require.Error(t, err)
	assert.Nil(t, b)
	assert.True(t, errors.Is(err, ErrUnsupportedCategory))

	var unsupported *UnsupportedCategoryError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, types.NonResident, unsupported.Residency)
	assert.Equal(t, types.LinealDescendant, unsupported.Relationship)
	assert.Equal(t, "scenario", unsupported.LawVersion)
}

func TestComputeNilLaw(t *testing.T) {
	_, err := Compute(descendantInput(1), nil)
	assert.Error(t, err)
}

func TestComputeIsDeterministic(t *testing.T) {
	law := mustParse(t, scenarioTable)
	in := descendantInput(120_000_000, gift.PriorGift{Date: date("2016-02-10"), Amount: amount(60_000_000)})

	first, err := Compute(in, law)
	require.NoError(t, err)
	second, err := Compute(in, law)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestComputeTaxDueMonotonicInAmount(t *testing.T) {
	law := shippedTable(t)
	priors := []gift.PriorGift{{Date: date("2020-06-01"), Amount: amount(70_000_000)}}

	previous := decimal.Zero
	for gross := int64(0); gross <= 4_000_000_000; gross += 7_500_000 {
		in := descendantInput(gross, priors...)
		in.Relationship = types.LinealDescendantAdult

		b, err := Compute(in, law)
		require.NoError(t, err)
		require.True(t, b.TaxDue.Valid)
		require.False(t, b.TaxDue.Decimal.LessThan(previous),
			"tax due fell from %s to %s at amount %d", previous, b.TaxDue.Decimal, gross)
		previous = b.TaxDue.Decimal
	}
}

func TestComputeExcludedPriorAmountIsIrrelevant(t *testing.T) {
	law := shippedTable(t)

	var want *GiftBreakdown
	for _, priorAmount := range []int64{0, 1, 50_000_000, 9_000_000_000} {
		in := descendantInput(150_000_000, gift.PriorGift{Date: date("2010-01-01"), Amount: amount(priorAmount)})
		in.Relationship = types.LinealDescendantAdult
		b, err := Compute(in, law)
		require.NoError(t, err)

		if want == nil {
			want = b
			continue
		}
		assert.True(t, want.AggregatedBase.Equal(b.AggregatedBase))
		assert.True(t, want.TaxableBase.Decimal.Equal(b.TaxableBase.Decimal))
		assert.True(t, want.TaxDue.Decimal.Equal(b.TaxDue.Decimal))
	}
}

func TestComputeEmptyPriorsGiveZeroCredit(t *testing.T) {
	law := mustParse(t, scenarioTable+"credit:\n  formula: \"prior_tax + 42\"\n")

	b, err := Compute(descendantInput(500_000_000), law)
	require.NoError(t, err)
	assertNull(t, 0, b.PriorTaxCredit, "prior_tax_credit")
	assert.Equal(t, CreditNone, b.CreditMethod)
}

func TestComputeCreditFormula(t *testing.T) {
	law := mustParse(t, scenarioTable+"credit:\n  formula: \"prior_tax * 0.5\"\n")
	in := descendantInput(120_000_000, gift.PriorGift{Date: date("2016-02-10"), Amount: amount(60_000_000)})

	b, err := Compute(in, law)
	require.NoError(t, err)
	assert.Equal(t, CreditFormula, b.CreditMethod)
	assertNull(t, 500_000, b.PriorTaxCredit, "prior_tax_credit")
	assertNull(t, 15_500_000, b.TaxDue, "tax_due")
}

func TestSelectBracketNeverFails(t *testing.T) {
	law := shippedTable(t)
	rates, ok := law.RateTable()
	require.True(t, ok)
	brackets := rates.Brackets()

	tests := []struct {
		base      int64
		threshold int64
	}{
		{0, 0},
		{1, 0},
		{99_999_999, 0},
		{100_000_000, 100_000_000},
		{499_999_999, 100_000_000},
		{500_000_000, 500_000_000},
		{1_000_000_000, 1_000_000_000},
		{3_000_000_000, 3_000_000_000},
		{900_000_000_000, 3_000_000_000},
	}

	for _, tt := range tests {
		got := SelectBracket(brackets, amount(tt.base))
		assertAmount(t, tt.threshold, got.Threshold, "threshold")
	}
}

func TestBracketTaxClampsWithoutRounding(t *testing.T) {
	bracket := lawtable.Bracket{
		Threshold:           amount(0),
		Rate:                decimal.RequireFromString("0.15"),
		CumulativeDeduction: amount(10),
	}
	assertAmount(t, 0, BracketTax(bracket, amount(50)), "clamped")
	assert.Equal(t, "5.15", BracketTax(bracket, amount(101)).String())
}

func TestComputeKeepsFractionalGrossTax(t *testing.T) {
	b, err := Compute(gift.GiftInput{
		Residency:    types.Resident,
		Relationship: types.Others,
		GiftDate:     date("2025-02-10"),
		Amount:       amount(10_000_015),
	}, shippedTable(t))
	require.NoError(t, err)

	assertNull(t, 15, b.TaxableBase, "taxable_base")
	require.True(t, b.GrossTax.Valid)
	assert.Equal(t, "1.5", b.GrossTax.Decimal.String())
	require.True(t, b.TaxDue.Valid)
	assert.Equal(t, "1.5", b.TaxDue.Decimal.String())
}

// Cases carried over from the prototype's calculator tests, run against the
// shipped 2025 table.
func TestComputeShippedTable(t *testing.T) {
	tests := []struct {
		name         string
		residency    types.Residency
		relationship types.Relationship
		amount       int64
		debt         int64
		prior        int64
		deduction    int64
		taxable      int64
		rate         string
		taxDue       int64
	}{
		{"deduction absorbs the gift", types.Resident, types.LinealDescendantAdult, 50_000_000, 0, 0, 50_000_000, 0, "0.1", 0},
		{"first bracket ceiling", types.Resident, types.LinealDescendantAdult, 150_000_000, 0, 0, 50_000_000, 100_000_000, "0.2", 10_000_000},
		{"second bracket", types.Resident, types.LinealDescendantAdult, 160_000_000, 0, 0, 50_000_000, 110_000_000, "0.2", 12_000_000},
		{"spouse fourth bracket", types.Resident, types.Spouse, 3_500_000_000, 0, 0, 600_000_000, 2_900_000_000, "0.4", 1_000_000_000},
		{"minor with prior gift", types.Resident, types.LinealDescendantMinor, 30_000_000, 0, 5_000_000, 20_000_000, 15_000_000, "0.1", 1_500_000},
		{"prior gifts exceed deduction", types.Resident, types.LinealDescendantAdult, 40_000_000, 0, 80_000_000, 50_000_000, 70_000_000, "0.1", 4_000_000},
		{"debt wipes out the gift", types.Resident, types.LinealDescendantAdult, 10_000_000, 12_000_000, 0, 50_000_000, 0, "0.1", 0},
		{"non-resident others", types.NonResident, types.Others, 60_000_000, 0, 0, 10_000_000, 50_000_000, "0.1", 5_000_000},
	}

	law := shippedTable(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := gift.GiftInput{
				Residency:    tt.residency,
				Relationship: tt.relationship,
				GiftDate:     date("2025-02-10"),
				Amount:       amount(tt.amount),
				DebtAssumed:  amount(tt.debt),
			}
			if tt.prior > 0 {
				in.PriorGifts = []gift.PriorGift{{Date: date("2023-05-01"), Amount: amount(tt.prior)}}
			}

			b, err := Compute(in, law)
			require.NoError(t, err)
			assert.Equal(t, "2025-01-01", b.LawVersion)
			assertNull(t, tt.deduction, b.BasicDeduction, "basic_deduction")
			assertNull(t, tt.taxable, b.TaxableBase, "taxable_base")
			require.NotNil(t, b.Bracket)
			assert.True(t, b.Bracket.Rate.Equal(decimal.RequireFromString(tt.rate)), "rate = %s", b.Bracket.Rate)
			assertNull(t, tt.taxDue, b.TaxDue, "tax_due")
		})
	}
}
