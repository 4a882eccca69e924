package gift

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is matched by every *ValidationError via errors.Is.
var ErrValidation = errors.New("invalid gift input")

// FieldProblem is one problem with one submitted field.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (p FieldProblem) String() string {
	return p.Field + ": " + p.Message
}

// ValidationError lists every problem found in a submission.
type ValidationError struct {
	Problems []FieldProblem `json:"problems"`
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("invalid gift input (%d problems): %s", len(e.Problems), strings.Join(parts, "; "))
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Fields returns the names of every field with a problem, in report order.
func (e *ValidationError) Fields() []string {
	fields := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		fields[i] = p.Field
	}
	return fields
}
