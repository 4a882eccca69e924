// Package lawtable loads versioned gift-tax law tables into immutable
// LawContext values and keeps a hot-reloadable current table.
package lawtable

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/coolbeans/gifttax/pkg/types"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// LoadFile reads and parses the law table at path.
func LoadFile(path string) (*LawContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Source: path, Err: fmt.Errorf("reading file: %w", err)}
	}
	return Parse(data, path)
}

// Load reads the whole of r and parses it as a law table.
func Load(r io.Reader, source string) (*LawContext, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ConfigurationError{Source: source, Err: fmt.Errorf("reading table: %w", err)}
	}
	return Parse(data, source)
}

// Parse decodes a law table held in memory. Structural problems fail with a
// *ConfigurationError; absent or placeholder values only leave the returned
// context unconfigured.
func Parse(data []byte, source string) (*LawContext, error) {
	var doc document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigurationError{Source: source, Err: fmt.Errorf("parsing YAML: %w", err)}
	}

	b := &builder{
		ctx: &LawContext{
			source:     source,
			deductions: make(map[types.Residency]map[types.Relationship]decimal.NullDecimal),
		},
	}
	b.metadata(doc.Metadata)
	b.deductionSchedule(doc.Deductions)
	b.rateBrackets(doc.ProgressiveRates)
	credit := b.creditRule(doc.Credit)

	if len(b.issues) > 0 {
		return nil, &ConfigurationError{Source: source, Issues: b.issues}
	}

	b.ctx.gaps = b.gaps
	if len(b.gaps) == 0 {
		b.ctx.rates = b.ctx.resolve(credit)
	}
	return b.ctx, nil
}

// builder accumulates the context together with every issue and gap.
type builder struct {
	ctx    *LawContext
	issues []string
	gaps   []string
}

func (b *builder) issuef(format string, args ...any) {
	b.issues = append(b.issues, fmt.Sprintf(format, args...))
}

func (b *builder) metadata(meta metadataDoc) {
	version := strings.TrimSpace(meta.Version)
	reference := strings.TrimSpace(meta.Reference)

	if version == "" || version == Placeholder {
		b.gaps = append(b.gaps, "metadata.version")
	}
	if reference == Placeholder {
		b.gaps = append(b.gaps, "metadata.reference")
	}
	b.ctx.version = version
	b.ctx.reference = reference
}

// number records a cell's state at path and returns its value when present.
func (b *builder) number(path string, c cell) (decimal.Decimal, bool) {
	switch c.state {
	case cellNumber:
		return c.value, true
	case cellMalformed:
		b.issuef("%s: %s", path, c.reason)
	default:
		b.gaps = append(b.gaps, path)
	}
	return decimal.Decimal{}, false
}

func (b *builder) deductionSchedule(raw map[string]map[string]cell) {
	if len(raw) == 0 {
		b.gaps = append(b.gaps, "deductions")
		return
	}

	for _, residencyKey := range sortedKeys(raw) {
		residency, ok := types.ParseResidency(residencyKey)
		if !ok {
			b.issuef("deductions.%s: unknown residency category", residencyKey)
			continue
		}
		if _, dup := b.ctx.deductions[residency]; dup {
			b.issuef("deductions.%s: duplicates residency %q", residencyKey, residency)
			continue
		}

		entries := raw[residencyKey]
		byRelationship := make(map[types.Relationship]decimal.NullDecimal, len(entries))
		b.ctx.deductions[residency] = byRelationship
		if len(entries) == 0 {
			b.gaps = append(b.gaps, "deductions."+residencyKey)
			continue
		}

		for _, relationshipKey := range sortedKeys(entries) {
			path := fmt.Sprintf("deductions.%s.%s", residencyKey, relationshipKey)
			relationship, ok := types.ParseRelationship(relationshipKey)
			if !ok {
				b.issuef("%s: unknown relationship category", path)
				continue
			}
			if _, dup := byRelationship[relationship]; dup {
				b.issuef("%s: duplicates relationship %q", path, relationship)
				continue
			}

			value, ok := b.number(path, entries[relationshipKey])
			if ok && value.IsNegative() {
				b.issuef("%s: deduction %s must not be negative", path, value)
			}
			byRelationship[relationship] = entries[relationshipKey].null()
		}
	}
}

func (b *builder) rateBrackets(raw []bracketDoc) {
	if len(raw) == 0 {
		b.gaps = append(b.gaps, "progressive_rates")
		return
	}

	var prev struct {
		threshold, deduction         decimal.Decimal
		haveThreshold, haveDeduction bool

		// rate and deduction of the immediately preceding row
		rowRate, rowDeduction decimal.Decimal
		rowComplete           bool
	}
	for i, row := range raw {
		path := fmt.Sprintf("progressive_rates[%d]", i)

		threshold, haveThreshold := b.number(path+".threshold", row.Threshold)
		if haveThreshold {
			switch {
			case threshold.IsNegative():
				b.issuef("%s.threshold: %s must not be negative", path, threshold)
			case i == 0 && !threshold.IsZero():
				b.issuef("%s.threshold: first bracket must start at 0, got %s", path, threshold)
			case prev.haveThreshold && !threshold.GreaterThan(prev.threshold):
				b.issuef("%s.threshold: %s must be greater than the previous threshold %s", path, threshold, prev.threshold)
			}
		}

		rate, haveRate := b.number(path+".rate", row.Rate)
		if haveRate && (rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1))) {
			b.issuef("%s.rate: %s is outside [0, 1]", path, rate)
		}

		deduction, haveDeduction := b.number(path+".deduction", row.Deduction)
		if haveDeduction {
			switch {
			case deduction.IsNegative():
				b.issuef("%s.deduction: %s must not be negative", path, deduction)
			case prev.haveDeduction && deduction.LessThan(prev.deduction):
				b.issuef("%s.deduction: %s is below the previous cumulative deduction %s", path, deduction, prev.deduction)
			}
		}

		// Tax at the threshold must not fall below what the previous bracket
		// charges there.
		if haveThreshold && haveRate && haveDeduction && prev.rowComplete {
			step := deduction.Sub(prev.rowDeduction)
			allowed := threshold.Mul(rate.Sub(prev.rowRate))
			if step.GreaterThan(allowed) {
				b.issuef("%s.deduction: step of %s exceeds %s, so tax would fall at threshold %s",
					path, step, allowed, threshold)
			}
		}

		if haveThreshold {
			prev.threshold, prev.haveThreshold = threshold, true
		}
		prev.rowRate, prev.rowDeduction = rate, deduction
		prev.rowComplete = haveRate && haveDeduction
		if haveDeduction {
			prev.deduction, prev.haveDeduction = deduction, true
		}

		b.ctx.brackets = append(b.ctx.brackets, BracketEntry{
			Threshold:           row.Threshold.null(),
			Rate:                row.Rate.null(),
			CumulativeDeduction: row.Deduction.null(),
		})
	}
}

func (b *builder) creditRule(raw *creditDoc) *CreditRule {
	if raw == nil {
		return nil
	}

	formula := strings.TrimSpace(raw.Formula)
	b.ctx.formula = formula
	switch formula {
	case "":
		return nil
	case Placeholder:
		b.gaps = append(b.gaps, "credit.formula")
		return nil
	}

	rule, err := CompileCreditRule(formula)
	if err != nil {
		b.issuef("credit.formula: %v", err)
		return nil
	}
	return rule
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
