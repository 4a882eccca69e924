package lawtable

import (
	"fmt"
	"strings"

	"github.com/coolbeans/gifttax/pkg/money"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Placeholder is the sentinel that marks a value the table author has not supplied yet.
const Placeholder = "PLACEHOLDER"

// document is the on-disk YAML shape of a law table.
type document struct {
	Metadata         metadataDoc                `yaml:"metadata"`
	Deductions       map[string]map[string]cell `yaml:"deductions"`
	ProgressiveRates []bracketDoc               `yaml:"progressive_rates"`
	Credit           *creditDoc                 `yaml:"credit"`
}

type metadataDoc struct {
	Version   string `yaml:"version"`
	Reference string `yaml:"reference"`
}

type bracketDoc struct {
	Threshold cell `yaml:"threshold"`
	Rate      cell `yaml:"rate"`
	Deduction cell `yaml:"deduction"`
}

type creditDoc struct {
	Formula string `yaml:"formula"`
}

type cellState int

const (
	cellAbsent cellState = iota
	cellNumber
	cellPlaceholder
	cellMalformed
)

// cell is a numeric position in the table. It decodes a number, the
// placeholder sentinel or anything else, and never fails the decode so
// that every malformed position can be reported together.
type cell struct {
	state  cellState
	value  decimal.Decimal
	reason string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *cell) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		c.state = cellMalformed
		c.reason = fmt.Sprintf("expected a number or %q, got a %s", Placeholder, nodeKindName(node.Kind))
		return nil
	}

	switch node.ShortTag() {
	case "!!null":
		c.state = cellAbsent
	case "!!int", "!!float":
		c.setNumber(node.Value)
	case "!!str":
		if strings.TrimSpace(node.Value) == Placeholder {
			c.state = cellPlaceholder
			return nil
		}
		c.setNumber(node.Value)
	default:
		c.state = cellMalformed
		c.reason = fmt.Sprintf("expected a number or %q, got %s %q", Placeholder, node.ShortTag(), node.Value)
	}
	return nil
}

func (c *cell) setNumber(raw string) {
	cleaned := strings.NewReplacer("_", "", ",", "").Replace(strings.TrimSpace(raw))
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		c.state = cellMalformed
		c.reason = fmt.Sprintf("%q is not a number", raw)
		return
	}
	if err := money.CheckDigits(value); err != nil {
		c.state = cellMalformed
		c.reason = fmt.Sprintf("%q %s", raw, err)
		return
	}
	c.state = cellNumber
	c.value = value
}

func (c cell) null() decimal.NullDecimal {
	if c.state != cellNumber {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(c.value)
}

func nodeKindName(kind yaml.Kind) string {
	switch kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "scalar"
	}
}
