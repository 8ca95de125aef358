package aggregates

import (
	"fmt"
	"strings"
)

// Status is the lifecycle status of a single version record.
type Status string

const (
	StatusDraft   Status = "Draft"
	StatusFinal   Status = "Final"
	StatusRetired Status = "Retired"
)

// ParseStatus accepts any casing of Draft/Final/Retired.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "draft":
		return StatusDraft, nil
	case "final":
		return StatusFinal, nil
	case "retired":
		return StatusRetired, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusFinal, StatusRetired:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// ObjectAction names a lifecycle operation exposed to callers.
type ObjectAction string

const (
	ActionApprove    ObjectAction = "approve"
	ActionEdit       ObjectAction = "edit"
	ActionDelete     ObjectAction = "delete"
	ActionNewVersion ObjectAction = "new_version"
	ActionInactivate ObjectAction = "inactivate"
	ActionReactivate ObjectAction = "reactivate"

	// ActionCreate is reported on lifecycle events only; it is never a possible action.
	ActionCreate ObjectAction = "create"
)

// PossibleActions lists the operations a version in the given state accepts.
// records is the chain length; only a lone 0.x draft may also be deleted.
func PossibleActions(status Status, major, records int) []ObjectAction {
	switch status {
	case StatusDraft:
		if major == 0 && records == 1 {
			return []ObjectAction{ActionApprove, ActionEdit, ActionDelete}
		}
		return []ObjectAction{ActionApprove, ActionEdit}
	case StatusFinal:
		return []ObjectAction{ActionNewVersion, ActionInactivate}
	case StatusRetired:
		return []ObjectAction{ActionReactivate, ActionNewVersion}
	default:
		return nil
	}
}

// Default change descriptions written by the non-edit transitions.
const (
	DescriptionInitial     = "Initial version"
	DescriptionNewDraft    = "New draft created"
	DescriptionApproved    = "Approved version"
	DescriptionInactivated = "Inactivated version"
	DescriptionReactivated = "Reactivated version"
)
