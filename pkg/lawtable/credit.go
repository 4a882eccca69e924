package lawtable

import (
	"fmt"
	"math"

	"github.com/coolbeans/gifttax/pkg/money"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/shopspring/decimal"
)

// CreditInputs are the figures a credit formula may reference.
type CreditInputs struct {
	PriorTax         decimal.Decimal
	PriorAggregate   decimal.Decimal
	PriorTaxableBase decimal.Decimal
	GrossTax         decimal.Decimal
	AggregatedBase   decimal.Decimal
	TaxableBase      decimal.Decimal
	Deduction        decimal.Decimal
}

// CreditRule is a table-supplied expression that computes the prior-tax
// credit. It is compiled once at load time.
type CreditRule struct {
	formula string
	program *vm.Program
}

func creditEnv(in CreditInputs) map[string]any {
	return map[string]any{
		"prior_tax":          in.PriorTax.InexactFloat64(),
		"prior_aggregate":    in.PriorAggregate.InexactFloat64(),
		"prior_taxable_base": in.PriorTaxableBase.InexactFloat64(),
		"gross_tax":          in.GrossTax.InexactFloat64(),
		"aggregated_base":    in.AggregatedBase.InexactFloat64(),
		"taxable_base":       in.TaxableBase.InexactFloat64(),
		"deduction":          in.Deduction.InexactFloat64(),
	}
}

// CompileCreditRule compiles formula against the credit variables.
func CompileCreditRule(formula string) (*CreditRule, error) {
	program, err := expr.Compile(formula, expr.Env(creditEnv(CreditInputs{})), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("compiling credit formula %q: %w", formula, err)
	}
	return &CreditRule{formula: formula, program: program}, nil
}

// Formula returns the source expression.
func (r *CreditRule) Formula() string {
	if r == nil {
		return ""
	}
	return r.formula
}

// Evaluate runs the formula and returns the credit clamped to zero and
// rounded to money.MaxFractionDigits places.
func (r *CreditRule) Evaluate(in CreditInputs) (decimal.Decimal, error) {
	out, err := expr.Run(r.program, creditEnv(in))
	if err != nil {
		return decimal.Zero, fmt.Errorf("evaluating credit formula %q: %w", r.formula, err)
	}

	var value float64
	switch v := out.(type) {
	case float64:
		value = v
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	default:
		return decimal.Zero, fmt.Errorf("credit formula %q returned %T, want a number", r.formula, out)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return decimal.Zero, fmt.Errorf("credit formula %q returned %v", r.formula, value)
	}

	credit := decimal.NewFromFloat(value).Round(money.MaxFractionDigits)
	if credit.IsNegative() {
		return decimal.Zero, nil
	}
	return credit, nil
}
