// Package report renders a GiftBreakdown for people: numbered notes, a
// plain-text summary, Markdown for documentation, or indented JSON.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coolbeans/gifttax/pkg/engine"
	"github.com/coolbeans/gifttax/pkg/gift"
	"github.com/coolbeans/gifttax/pkg/money"
)

// NotAvailable is shown in place of any figure that could not be derived.
const NotAvailable = "not available"

// row is one labelled figure of the summary table.
type row struct {
	label string
	value string
}

// Lines returns the breakdown's notes numbered for display.
func Lines(b *engine.GiftBreakdown) []string {
	if b == nil {
		return []string{NotAvailable}
	}
	lines := make([]string, len(b.Notes))
	for i, note := range b.Notes {
		lines[i] = fmt.Sprintf("%d. %s", i+1, note)
	}
	return lines
}

// Text renders an aligned summary followed by the numbered notes.
func Text(b *engine.GiftBreakdown) string {
	if b == nil {
		return NotAvailable + "\n"
	}

	rows := summary(b)
	width := 0
	for _, r := range rows {
		width = max(width, len(r.label))
	}

	var textBuilder strings.Builder
	textBuilder.WriteString(fmt.Sprintf("Gift tax computation (law %s)\n", orNotAvailable(b.LawVersion)))
	textBuilder.WriteString(strings.Repeat("=", 40) + "\n")
	for _, r := range rows {
		textBuilder.WriteString(fmt.Sprintf("%-*s  %s\n", width, r.label, r.value))
	}

	textBuilder.WriteString("\nNotes:\n")
	for _, line := range Lines(b) {
		textBuilder.WriteString("  " + line + "\n")
	}
	return textBuilder.String()
}

// Markdown renders the summary as a Markdown table with the notes as a list.
func Markdown(b *engine.GiftBreakdown) string {
	if b == nil {
		return NotAvailable + "\n"
	}

	var markdownBuilder strings.Builder

	status := "configured"
	if !b.LawConfigured {
		status = "unconfigured"
	}
	markdownBuilder.WriteString(fmt.Sprintf("# Gift Tax Computation (%s, %s)\n\n", orNotAvailable(b.LawVersion), status))
	if b.LawReference != "" {
		markdownBuilder.WriteString(fmt.Sprintf("_%s_\n\n", b.LawReference))
	}

	markdownBuilder.WriteString("## Summary\n\n")
	markdownBuilder.WriteString("| Item | Value |\n")
	markdownBuilder.WriteString("|------|-------|\n")
	for _, r := range summary(b) {
		markdownBuilder.WriteString(fmt.Sprintf("| **%s** | %s |\n", r.label, escapeMarkdownTable(r.value)))
	}
	markdownBuilder.WriteString("\n")

	if len(b.Notes) > 0 {
		markdownBuilder.WriteString("## Notes\n\n")
		for _, line := range Lines(b) {
			markdownBuilder.WriteString(line + "\n")
		}
		markdownBuilder.WriteString("\n")
	}

	return markdownBuilder.String()
}

// JSON renders the breakdown as indented JSON. A nil breakdown renders as
// null.
func JSON(b *engine.GiftBreakdown) ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding breakdown: %w", err)
	}
	return data, nil
}

func summary(b *engine.GiftBreakdown) []row {
	rows := []row{
		{"Residency", orNotAvailable(b.Residency.String())},
		{"Relationship", orNotAvailable(b.Relationship.String())},
	}
	if b.RecipientName != "" {
		rows = append(rows, row{"Recipient", b.RecipientName})
	}
	if b.PropertyType != "" {
		rows = append(rows, row{"Property type", b.PropertyType.String()})
	}

	rows = append(rows,
		row{"Gift date", formatDate(b.GiftDate)},
		row{"Amount", money.Format(b.Amount)},
	)
	if !b.DebtAssumed.IsZero() {
		rows = append(rows,
			row{"Debt assumed", money.Format(b.DebtAssumed)},
			row{"Net gift", money.Format(b.NetGift)},
		)
	}

	rows = append(rows,
		row{"Aggregation window", formatDate(b.WindowStart) + " to " + formatDate(b.WindowEnd)},
		row{"Prior gifts included", fmt.Sprintf("%d (%s)", b.IncludedPriorGifts, money.Format(b.PriorAggregate))},
		row{"Prior gifts excluded", fmt.Sprintf("%d", b.ExcludedPriorGifts)},
		row{"Aggregated base", money.Format(b.AggregatedBase)},
		row{"Basic deduction", money.FormatNull(b.BasicDeduction)},
		row{"Taxable base", money.FormatNull(b.TaxableBase)},
		row{"Bracket applied", formatBracket(b)},
		row{"Gross tax", money.FormatNull(b.GrossTax)},
		row{"Prior-tax credit", formatCredit(b)},
		row{"Tax due", money.FormatNull(b.TaxDue)},
	)
	return rows
}

func formatBracket(b *engine.GiftBreakdown) string {
	if b.Bracket == nil {
		return NotAvailable
	}
	return fmt.Sprintf("from %s at %s, progressive deduction %s",
		money.Format(b.Bracket.Threshold), money.FormatRate(b.Bracket.Rate),
		money.Format(b.Bracket.CumulativeDeduction))
}

func formatCredit(b *engine.GiftBreakdown) string {
	credit := money.FormatNull(b.PriorTaxCredit)
	if b.PriorTaxCredit.Valid && b.CreditMethod != "" && b.CreditMethod != engine.CreditNone {
		credit += " (" + b.CreditMethod + ")"
	}
	return credit
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return NotAvailable
	}
	return t.Format(gift.DateLayout)
}

func orNotAvailable(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}

func escapeMarkdownTable(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
