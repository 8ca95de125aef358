package concepts

import (
	"encoding/json"
	"strings"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
)

const (
	FamilyCodelistAttributes = "ct_codelist_attributes"
	RelHasTerm               = "HAS_TERM"

	// CDISCLibrary is read-only for most families but codelist attributes
	// may still be maintained there.
	CDISCLibrary = "CDISC"
)

// CodelistAttributes is the attribute set of a controlled terminology codelist.
type CodelistAttributes struct {
	Name             string   `json:"name"`
	SubmissionValue  string   `json:"submission_value"`
	NCIPreferredName string   `json:"nci_preferred_name,omitempty"`
	Definition       string   `json:"definition,omitempty"`
	Extensible       bool     `json:"extensible"`
	TermUIDs         []string `json:"term_uids,omitempty"`
}

type codelistAttributesAdapter struct{}

func NewCodelistAttributesAdapter() domainagg.Adapter[CodelistAttributes] {
	return codelistAttributesAdapter{}
}

func (codelistAttributesAdapter) Family() string    { return FamilyCodelistAttributes }
func (codelistAttributesAdapter) UIDPrefix() string { return "CTCodelist" }

func (codelistAttributesAdapter) Equal(a, b CodelistAttributes) bool {
	if !sameSet(a.TermUIDs, b.TermUIDs) {
		return false
	}
	return a.Name == b.Name &&
		a.SubmissionValue == b.SubmissionValue &&
		a.NCIPreferredName == b.NCIPreferredName &&
		a.Definition == b.Definition &&
		a.Extensible == b.Extensible
}

// IdentityKey keys on the submission value, which must be unique across codelists.
func (codelistAttributesAdapter) IdentityKey(c CodelistAttributes) string {
	return strings.ToUpper(strings.TrimSpace(c.SubmissionValue))
}

func (codelistAttributesAdapter) Validate(c CodelistAttributes) error {
	const op = "ct_codelist_attributes.validate"
	if strings.TrimSpace(c.Name) == "" {
		return domainagg.NewError(domainagg.CodeValidation, op, "name is required", nil)
	}
	if strings.TrimSpace(c.SubmissionValue) == "" {
		return domainagg.NewError(domainagg.CodeValidation, op, "submission_value is required", nil)
	}
	return nil
}

func (codelistAttributesAdapter) References(c CodelistAttributes) []domainagg.Reference {
	var out []domainagg.Reference
	for _, uid := range c.TermUIDs {
		out = appendRef(out, RelHasTerm, uid)
	}
	return out
}

func (codelistAttributesAdapter) Encode(c CodelistAttributes) ([]byte, error) {
	return json.Marshal(c)
}

func (codelistAttributesAdapter) Decode(raw []byte) (CodelistAttributes, error) {
	var c CodelistAttributes
	err := json.Unmarshal(raw, &c)
	return c, err
}

// CDISCCodelistOverride lets codelist attributes be created and edited in the
// CDISC library. Deletion stays governed by the library flag.
func CDISCCodelistOverride() domainagg.GateOverride {
	yes := true
	return domainagg.GateOverride{
		Library: CDISCLibrary,
		Family:  FamilyCodelistAttributes,
		Create:  &yes,
		Edit:    &yes,
	}
}
