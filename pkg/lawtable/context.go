package lawtable

import (
	"sort"

	"github.com/coolbeans/gifttax/pkg/types"
	"github.com/shopspring/decimal"
)

// BracketEntry is one progressive-rate row as read from the table. A field
// whose Valid flag is false was left as a placeholder or omitted.
type BracketEntry struct {
	Threshold           decimal.NullDecimal `json:"threshold"`
	Rate                decimal.NullDecimal `json:"rate"`
	CumulativeDeduction decimal.NullDecimal `json:"cumulative_deduction"`
}

// Bracket is a fully-supplied progressive-rate row. Threshold is the
// inclusive lower bound.
type Bracket struct {
	Threshold           decimal.Decimal `json:"threshold"`
	Rate                decimal.Decimal `json:"rate"`
	CumulativeDeduction decimal.Decimal `json:"cumulative_deduction"`
}

// LawContext is an immutable, loaded law table. A context may be
// unconfigured: it still describes the deduction schedule for preview, but
// its RateTable is unavailable and no tax figure can be derived from it.
type LawContext struct {
	version    string
	reference  string
	source     string
	deductions map[types.Residency]map[types.Relationship]decimal.NullDecimal
	brackets   []BracketEntry
	formula    string
	gaps       []string
	rates      *RateTable
}

// RateTable is the configured view of a LawContext: every value is present.
type RateTable struct {
	deductions map[types.Residency]map[types.Relationship]decimal.Decimal
	brackets   []Bracket
	credit     *CreditRule
}

// Version returns the table's version tag.
func (c *LawContext) Version() string { return c.version }

// Reference returns the table's legal citation.
func (c *LawContext) Reference() string { return c.reference }

// Source returns the path or name the table was read from.
func (c *LawContext) Source() string { return c.source }

// CreditFormula returns the table-supplied credit formula, or "" for the
// default recompute method.
func (c *LawContext) CreditFormula() string { return c.formula }

// Configured reports whether every required value has been supplied.
func (c *LawContext) Configured() bool { return c.rates != nil }

// RateTable returns the configured view, or false when the table still
// contains gaps.
func (c *LawContext) RateTable() (*RateTable, bool) {
	return c.rates, c.rates != nil
}

// Gaps returns the dotted paths of every absent or placeholder value.
func (c *LawContext) Gaps() []string {
	return append([]string(nil), c.gaps...)
}

// Deduction looks up the deduction for a residency and relationship. The
// second result is false when the table has no entry for the pair; an entry
// that exists but is a placeholder is returned with Valid=false.
func (c *LawContext) Deduction(residency types.Residency, relationship types.Relationship) (decimal.NullDecimal, bool) {
	byRelationship, ok := c.deductions[residency]
	if !ok {
		return decimal.NullDecimal{}, false
	}
	value, ok := byRelationship[relationship]
	return value, ok
}

// DeductionSchedule returns a copy of the full deduction schedule.
func (c *LawContext) DeductionSchedule() map[types.Residency]map[types.Relationship]decimal.NullDecimal {
	out := make(map[types.Residency]map[types.Relationship]decimal.NullDecimal, len(c.deductions))
	for residency, byRelationship := range c.deductions {
		inner := make(map[types.Relationship]decimal.NullDecimal, len(byRelationship))
		for relationship, value := range byRelationship {
			inner[relationship] = value
		}
		out[residency] = inner
	}
	return out
}

// Relationships returns every relationship that appears under any residency.
func (c *LawContext) Relationships() []types.Relationship {
	seen := make(map[types.Relationship]bool)
	for _, byRelationship := range c.deductions {
		for relationship := range byRelationship {
			seen[relationship] = true
		}
	}

	out := make([]types.Relationship, 0, len(seen))
	for relationship := range seen {
		out = append(out, relationship)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Brackets returns a copy of the bracket rows as read.
func (c *LawContext) Brackets() []BracketEntry {
	return append([]BracketEntry(nil), c.brackets...)
}

// Equal reports whether two contexts hold the same values.
func (c *LawContext) Equal(other *LawContext) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.version != other.version || c.reference != other.reference ||
		c.source != other.source || c.formula != other.formula {
		return false
	}
	if len(c.gaps) != len(other.gaps) {
		return false
	}
	for i := range c.gaps {
		if c.gaps[i] != other.gaps[i] {
			return false
		}
	}
	if len(c.brackets) != len(other.brackets) {
		return false
	}
	for i, b := range c.brackets {
		o := other.brackets[i]
		if !nullEqual(b.Threshold, o.Threshold) || !nullEqual(b.Rate, o.Rate) ||
			!nullEqual(b.CumulativeDeduction, o.CumulativeDeduction) {
			return false
		}
	}
	if len(c.deductions) != len(other.deductions) {
		return false
	}
	for residency, byRelationship := range c.deductions {
		otherByRelationship, ok := other.deductions[residency]
		if !ok || len(byRelationship) != len(otherByRelationship) {
			return false
		}
		for relationship, value := range byRelationship {
			otherValue, ok := otherByRelationship[relationship]
			if !ok || !nullEqual(value, otherValue) {
				return false
			}
		}
	}
	return true
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// Deduction looks up a configured deduction.
func (t *RateTable) Deduction(residency types.Residency, relationship types.Relationship) (decimal.Decimal, bool) {
	value, ok := t.deductions[residency][relationship]
	return value, ok
}

// Brackets returns the brackets in ascending threshold order.
func (t *RateTable) Brackets() []Bracket {
	return append([]Bracket(nil), t.brackets...)
}

// Credit returns the table's credit rule, or nil for the default method.
func (t *RateTable) Credit() *CreditRule {
	return t.credit
}

// resolve builds the configured view. It is only called once the table is
// known to have no gaps.
func (c *LawContext) resolve(credit *CreditRule) *RateTable {
	table := &RateTable{
		deductions: make(map[types.Residency]map[types.Relationship]decimal.Decimal, len(c.deductions)),
		brackets:   make([]Bracket, len(c.brackets)),
		credit:     credit,
	}
	for residency, byRelationship := range c.deductions {
		inner := make(map[types.Relationship]decimal.Decimal, len(byRelationship))
		for relationship, value := range byRelationship {
			inner[relationship] = value.Decimal
		}
		table.deductions[residency] = inner
	}
	for i, entry := range c.brackets {
		table.brackets[i] = Bracket{
			Threshold:           entry.Threshold.Decimal,
			Rate:                entry.Rate.Decimal,
			CumulativeDeduction: entry.CumulativeDeduction.Decimal,
		}
	}
	return table
}
