package engine

import (
	"errors"
	"fmt"

	"github.com/coolbeans/gifttax/pkg/types"
)

// ErrUnsupportedCategory is matched by every *UnsupportedCategoryError via errors.Is.
var ErrUnsupportedCategory = errors.New("unsupported deduction category")

// UnsupportedCategoryError reports a residency/relationship pair that the
// law table has no deduction entry for.
type UnsupportedCategoryError struct {
	Residency    types.Residency
	Relationship types.Relationship
	LawVersion   string
}

func (e *UnsupportedCategoryError) Error() string {
	return fmt.Sprintf("law table %s has no deduction for %s / %s", e.LawVersion, e.Residency, e.Relationship)
}

// Is reports whether target is ErrUnsupportedCategory.
func (e *UnsupportedCategoryError) Is(target error) bool {
	return target == ErrUnsupportedCategory
}
