// Package types defines the donor/donee categories shared by the law table,
// the input validator and the computation engine.
package types

import "strings"

// Residency is the donee's tax residency status.
type Residency string

// Recognized residency categories.
const (
	Resident    Residency = "resident"
	NonResident Residency = "non_resident"
)

// Residencies lists every recognized residency in display order.
var Residencies = []Residency{Resident, NonResident}

// Relationship is the donor/donee relationship used to look up the basic deduction.
type Relationship string

// Recognized relationship categories.
const (
	Spouse                Relationship = "spouse"
	LinealAscendant       Relationship = "lineal_ascendant"
	LinealDescendant      Relationship = "lineal_descendant"
	LinealDescendantAdult Relationship = "lineal_descendant_adult"
	LinealDescendantMinor Relationship = "lineal_descendant_minor"
	OtherRelative         Relationship = "other_relative"
	Others                Relationship = "others"
)

// Relationships lists every recognized relationship in display order.
var Relationships = []Relationship{
	Spouse,
	LinealAscendant,
	LinealDescendant,
	LinealDescendantAdult,
	LinealDescendantMinor,
	OtherRelative,
	Others,
}

// PropertyType classifies the transferred property.
type PropertyType string

// Recognized property types.
const (
	PropertyCash       PropertyType = "cash"
	PropertyRealEstate PropertyType = "real_estate"
	PropertyStock      PropertyType = "stock"
	PropertyOther      PropertyType = "other"
)

// PropertyTypes lists every recognized property type in display order.
var PropertyTypes = []PropertyType{PropertyCash, PropertyRealEstate, PropertyStock, PropertyOther}

var relationshipLabels = map[Relationship]string{
	Spouse:                "spouse",
	LinealAscendant:       "lineal ascendant",
	LinealDescendant:      "lineal descendant",
	LinealDescendantAdult: "lineal descendant (adult)",
	LinealDescendantMinor: "lineal descendant (minor)",
	OtherRelative:         "other relative",
	Others:                "others",
}

// Normalize canonicalizes a category token: surrounding space is trimmed,
// letters are lower-cased and '-' or inner spaces become '_'.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return '_'
		}
		return r
	}, s)
}

// ParseResidency returns the residency for s and whether it is recognized.
func ParseResidency(s string) (Residency, bool) {
	r := Residency(Normalize(s))
	for _, known := range Residencies {
		if r == known {
			return r, true
		}
	}
	return r, false
}

// ParseRelationship returns the relationship for s and whether it is recognized.
func ParseRelationship(s string) (Relationship, bool) {
	r := Relationship(Normalize(s))
	if _, ok := relationshipLabels[r]; ok {
		return r, true
	}
	return r, false
}

// ParsePropertyType returns the property type for s and whether it is recognized.
func ParsePropertyType(s string) (PropertyType, bool) {
	p := PropertyType(Normalize(s))
	for _, known := range PropertyTypes {
		if p == known {
			return p, true
		}
	}
	return p, false
}

// String returns a human-readable label for the residency.
func (r Residency) String() string {
	switch r {
	case Resident:
		return "resident"
	case NonResident:
		return "non-resident"
	default:
		return string(r)
	}
}

// String returns a human-readable label for the relationship.
func (r Relationship) String() string {
	if label, ok := relationshipLabels[r]; ok {
		return label
	}
	return string(r)
}

// String returns a human-readable label for the property type.
func (p PropertyType) String() string {
	return strings.ReplaceAll(string(p), "_", " ")
}
