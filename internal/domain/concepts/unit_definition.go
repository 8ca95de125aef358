package concepts

import (
	"encoding/json"
	"slices"
	"strings"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
)

const (
	FamilyUnitDefinition = "unit_definition"

	RelHasCTUnit      = "HAS_CT_UNIT"
	RelHasUnitSubset  = "HAS_UNIT_SUBSET"
	RelHasCTDimension = "HAS_CT_DIMENSION"
	RelHasUCUMTerm    = "HAS_UCUM_TERM"
)

// UnitDefinition is the content of one unit definition version.
type UnitDefinition struct {
	Name                     string   `json:"name"`
	Definition               string   `json:"definition,omitempty"`
	ConversionFactorToMaster *float64 `json:"conversion_factor_to_master,omitempty"`
	SIUnit                   bool     `json:"si_unit"`
	DisplayUnit              bool     `json:"display_unit"`
	MasterUnit               bool     `json:"master_unit"`
	ConvertibleUnit          bool     `json:"convertible_unit"`
	USConventionalUnit       bool     `json:"us_conventional_unit"`
	LegacyCode               string   `json:"legacy_code,omitempty"`
	Order                    *int     `json:"order,omitempty"`
	Comment                  string   `json:"comment,omitempty"`
	CTUnits                  []string `json:"ct_units,omitempty"`
	UnitSubsets              []string `json:"unit_subsets,omitempty"`
	UnitDimensionUID         string   `json:"unit_dimension_uid,omitempty"`
	UCUMUID                  string   `json:"ucum_uid,omitempty"`
}

type unitDefinitionAdapter struct{}

func NewUnitDefinitionAdapter() domainagg.Adapter[UnitDefinition] {
	return unitDefinitionAdapter{}
}

func (unitDefinitionAdapter) Family() string    { return FamilyUnitDefinition }
func (unitDefinitionAdapter) UIDPrefix() string { return "UnitDefinition" }

// Equal ignores the order of the CT unit and subset lists.
func (unitDefinitionAdapter) Equal(a, b UnitDefinition) bool {
	if !sameSet(a.CTUnits, b.CTUnits) || !sameSet(a.UnitSubsets, b.UnitSubsets) {
		return false
	}
	a.CTUnits, b.CTUnits = nil, nil
	a.UnitSubsets, b.UnitSubsets = nil, nil
	return a.Name == b.Name &&
		a.Definition == b.Definition &&
		equalPtr(a.ConversionFactorToMaster, b.ConversionFactorToMaster) &&
		a.SIUnit == b.SIUnit &&
		a.DisplayUnit == b.DisplayUnit &&
		a.MasterUnit == b.MasterUnit &&
		a.ConvertibleUnit == b.ConvertibleUnit &&
		a.USConventionalUnit == b.USConventionalUnit &&
		a.LegacyCode == b.LegacyCode &&
		equalPtr(a.Order, b.Order) &&
		a.Comment == b.Comment &&
		a.UnitDimensionUID == b.UnitDimensionUID &&
		a.UCUMUID == b.UCUMUID
}

func (unitDefinitionAdapter) IdentityKey(c UnitDefinition) string {
	return normalizeName(c.Name)
}

func (unitDefinitionAdapter) Validate(c UnitDefinition) error {
	const op = "unit_definition.validate"
	if strings.TrimSpace(c.Name) == "" {
		return domainagg.NewError(domainagg.CodeValidation, op, "name is required", nil)
	}
	if f := c.ConversionFactorToMaster; f != nil && *f <= 0 {
		return domainagg.NewError(domainagg.CodeValidation, op, "conversion_factor_to_master must be positive", nil)
	}
	if c.MasterUnit && c.ConversionFactorToMaster != nil && *c.ConversionFactorToMaster != 1 {
		return domainagg.NewError(domainagg.CodeValidation, op, "a master unit converts to itself with factor 1", nil)
	}
	return nil
}

func (unitDefinitionAdapter) References(c UnitDefinition) []domainagg.Reference {
	var out []domainagg.Reference
	for _, uid := range c.CTUnits {
		out = appendRef(out, RelHasCTUnit, uid)
	}
	for _, uid := range c.UnitSubsets {
		out = appendRef(out, RelHasUnitSubset, uid)
	}
	out = appendRef(out, RelHasCTDimension, c.UnitDimensionUID)
	out = appendRef(out, RelHasUCUMTerm, c.UCUMUID)
	return out
}

func (unitDefinitionAdapter) Encode(c UnitDefinition) ([]byte, error) { return json.Marshal(c) }

func (unitDefinitionAdapter) Decode(raw []byte) (UnitDefinition, error) {
	var c UnitDefinition
	err := json.Unmarshal(raw, &c)
	return c, err
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func appendRef(out []domainagg.Reference, relType, uid string) []domainagg.Reference {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return out
	}
	return append(out, domainagg.Reference{Type: relType, TargetUID: uid})
}

func sameSet(a, b []string) bool {
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(slices.Compact(as), slices.Compact(bs))
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
