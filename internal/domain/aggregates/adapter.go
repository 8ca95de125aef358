package aggregates

import "time"

// Reference is an outgoing relationship from an item's content to another entity,
// e.g. a unit definition pointing at a CT term.
type Reference struct {
	Type      string `json:"type"`
	TargetUID string `json:"target_uid"`
}

// Adapter specialises the generic lifecycle for one entity family.
type Adapter[C any] interface {
	// Family is the stable name of the entity family ("unit_definition").
	Family() string
	// UIDPrefix prefixes generated uids ("UnitDefinition").
	UIDPrefix() string
	Equal(a, b C) bool
	// IdentityKey is the normalized value that must be unique within the family.
	IdentityKey(c C) string
	Validate(c C) error
	References(c C) []Reference
	Encode(c C) ([]byte, error)
	Decode(raw []byte) (C, error)
}

// LifecycleEvent is published after a lifecycle transition commits.
type LifecycleEvent struct {
	Family   string       `json:"family"`
	UID      string       `json:"uid"`
	Action   ObjectAction `json:"action"`
	Library  string       `json:"library"`
	Version  string       `json:"version,omitempty"`
	Status   Status       `json:"status,omitempty"`
	AuthorID string       `json:"author_id,omitempty"`
	At       time.Time    `json:"at"`
}
