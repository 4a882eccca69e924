package lawtable

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration is matched by every *ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("law table configuration error")

// ConfigurationError reports a law table whose structure is unusable.
// Issues lists every structural problem found in a single pass.
type ConfigurationError struct {
	Source string
	Issues []string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("law table")
	if e.Source != "" {
		b.WriteString(" ")
		b.WriteString(e.Source)
	}
	b.WriteString(": ")

	switch {
	case e.Err != nil && len(e.Issues) == 0:
		b.WriteString(e.Err.Error())
	case len(e.Issues) == 1:
		b.WriteString(e.Issues[0])
	default:
		b.WriteString(fmt.Sprintf("%d structural problems: %s", len(e.Issues), strings.Join(e.Issues, "; ")))
	}
	return b.String()
}

// Unwrap returns the underlying read or decode error, if any.
func (e *ConfigurationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
