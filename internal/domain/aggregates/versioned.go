package aggregates

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Options carries the per-family collaborators of a VersionedAggregate.
type Options[C any] struct {
	Family string
	Equal  func(a, b C) bool
	Gate   LibraryGate
	Now    func() time.Time
}

// VersionedAggregate is the full version history of one library item.
// It holds no locks and must not be shared between goroutines.
type VersionedAggregate[C any] struct {
	uid     string
	library Library
	chain   []Entry[C]
	opts    Options[C]

	revision  int64
	persisted int
	deleted   bool
}

// NewDraft starts a new aggregate at 0.1 Draft. Uniqueness of the content is
// checked by the caller before this call.
func NewDraft[C any](uid string, lib Library, value C, authorID string, opts Options[C]) (*VersionedAggregate[C], error) {
	const op = "aggregate.create_draft"
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, NewError(CodeValidation, op, "uid is required", nil)
	}
	a := &VersionedAggregate[C]{uid: uid, library: lib, opts: opts.withDefaults()}
	if !a.opts.Gate.CanCreate(a.opts.Family, lib) {
		return nil, LibraryNotEditable(op, uid, lib.Name)
	}
	a.chain = []Entry[C]{{
		Meta: VersionMetadata{
			Major:             0,
			Minor:             1,
			Status:            StatusDraft,
			StartDate:         a.opts.Now(),
			AuthorID:          strings.TrimSpace(authorID),
			ChangeDescription: DescriptionInitial,
		},
		Value: value,
	}}
	return a, nil
}

// Rehydrate rebuilds an aggregate from persisted entries. revision is the
// storage head revision observed while loading.
func Rehydrate[C any](uid string, lib Library, entries []Entry[C], revision int64, opts Options[C]) (*VersionedAggregate[C], error) {
	const op = "aggregate.rehydrate"
	if len(entries) == 0 {
		return nil, NotFound(op, uid, "no version records")
	}
	chain := make([]Entry[C], len(entries))
	copy(chain, entries)
	sort.SliceStable(chain, func(i, j int) bool { return lessEntry(chain[i].Meta, chain[j].Meta) })

	open := 0
	for i, e := range chain {
		if !e.Meta.Status.Valid() {
			return nil, &Error{Code: CodeInvariantViolation, Op: op, UID: uid, Message: fmt.Sprintf("record %d has status %q", i, e.Meta.Status)}
		}
		if e.Meta.IsOpen() {
			open++
			if i != len(chain)-1 {
				return nil, &Error{Code: CodeInvariantViolation, Op: op, UID: uid, Message: "open record is not the latest"}
			}
		}
	}
	if open != 1 {
		return nil, &Error{Code: CodeInvariantViolation, Op: op, UID: uid, Message: fmt.Sprintf("expected exactly one open record, found %d", open)}
	}
	return &VersionedAggregate[C]{
		uid:       uid,
		library:   lib,
		chain:     chain,
		opts:      opts.withDefaults(),
		revision:  revision,
		persisted: len(chain),
	}, nil
}

func (o Options[C]) withDefaults() Options[C] {
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

func (a *VersionedAggregate[C]) UID() string      { return a.uid }
func (a *VersionedAggregate[C]) Library() Library { return a.library }
func (a *VersionedAggregate[C]) Family() string   { return a.opts.Family }

// Current returns the open record.
func (a *VersionedAggregate[C]) Current() Entry[C] { return a.chain[len(a.chain)-1] }

// Chain returns a copy of the chain, oldest first.
func (a *VersionedAggregate[C]) Chain() []Entry[C] {
	out := make([]Entry[C], len(a.chain))
	copy(out, a.chain)
	return out
}

// VersionHistory returns the chain most recent first.
func (a *VersionedAggregate[C]) VersionHistory() []Entry[C] {
	return a.AuditTrail().History()
}

func (a *VersionedAggregate[C]) AuditTrail() AuditTrail[C] {
	return AuditTrail[C]{chain: a.Chain()}
}

func (a *VersionedAggregate[C]) PossibleActions() []ObjectAction {
	if a.deleted {
		return nil
	}
	cur := a.Current().Meta
	return PossibleActions(cur.Status, cur.Major, len(a.chain))
}

// Revision is the storage head revision this aggregate was loaded at (0 when never saved).
func (a *VersionedAggregate[C]) Revision() int64 { return a.revision }

// PersistedLen is the number of chain records already in storage.
func (a *VersionedAggregate[C]) PersistedLen() int { return a.persisted }

func (a *VersionedAggregate[C]) IsNew() bool     { return a.persisted == 0 }
func (a *VersionedAggregate[C]) IsDeleted() bool { return a.deleted }

// HasChanges reports whether a save would write anything.
func (a *VersionedAggregate[C]) HasChanges() bool {
	return a.deleted || len(a.chain) > a.persisted
}

// MarkPersisted records a successful save at the given storage revision.
func (a *VersionedAggregate[C]) MarkPersisted(revision int64) {
	a.revision = revision
	a.persisted = len(a.chain)
}

// EditDraft replaces the draft content, bumping the minor version.
func (a *VersionedAggregate[C]) EditDraft(value C, changeDescription, authorID string) error {
	const op = "aggregate.edit_draft"
	if err := a.requireMutable(op, a.opts.Gate.CanEdit); err != nil {
		return err
	}
	cur := a.Current()
	if cur.Meta.Status != StatusDraft {
		return InvalidTransition(op, a.uid, cur.Meta.Status, "only a draft can be edited")
	}
	if a.opts.Equal != nil && a.opts.Equal(cur.Value, value) {
		return &Error{Code: CodeValidation, Op: op, UID: a.uid, Message: "content is identical to the current draft", Cause: ErrNoChanges}
	}
	a.append(VersionMetadata{
		Major:             cur.Meta.Major,
		Minor:             cur.Meta.Minor + 1,
		Status:            StatusDraft,
		AuthorID:          authorID,
		ChangeDescription: changeDescription,
	}, value)
	return nil
}

// Approve promotes the draft to the next major Final version.
func (a *VersionedAggregate[C]) Approve(authorID string) error {
	const op = "aggregate.approve"
	if err := a.requireMutable(op, a.opts.Gate.CanEdit); err != nil {
		return err
	}
	cur := a.Current()
	if cur.Meta.Status != StatusDraft {
		return InvalidTransition(op, a.uid, cur.Meta.Status, "only a draft can be approved")
	}
	a.append(VersionMetadata{
		Major:             cur.Meta.Major + 1,
		Minor:             0,
		Status:            StatusFinal,
		AuthorID:          authorID,
		ChangeDescription: DescriptionApproved,
	}, cur.Value)
	return nil
}

// CreateNewVersion opens a draft off the latest Final or Retired version.
func (a *VersionedAggregate[C]) CreateNewVersion(authorID string) error {
	const op = "aggregate.create_new_version"
	if err := a.requireMutable(op, a.opts.Gate.CanEdit); err != nil {
		return err
	}
	cur := a.Current()
	if cur.Meta.Status != StatusFinal && cur.Meta.Status != StatusRetired {
		return InvalidTransition(op, a.uid, cur.Meta.Status, "a draft already exists")
	}
	a.append(VersionMetadata{
		Major:             cur.Meta.Major,
		Minor:             cur.Meta.Minor + 1,
		Status:            StatusDraft,
		AuthorID:          authorID,
		ChangeDescription: DescriptionNewDraft,
	}, cur.Value)
	return nil
}

// Inactivate retires the current Final version without changing its number.
func (a *VersionedAggregate[C]) Inactivate(authorID string) error {
	const op = "aggregate.inactivate"
	if err := a.requireMutable(op, a.opts.Gate.CanEdit); err != nil {
		return err
	}
	cur := a.Current()
	if cur.Meta.Status != StatusFinal {
		return InvalidTransition(op, a.uid, cur.Meta.Status, "only a final version can be inactivated")
	}
	a.append(VersionMetadata{
		Major:             cur.Meta.Major,
		Minor:             cur.Meta.Minor,
		Status:            StatusRetired,
		AuthorID:          authorID,
		ChangeDescription: DescriptionInactivated,
	}, cur.Value)
	return nil
}

// Reactivate returns a Retired version to Final without changing its number.
func (a *VersionedAggregate[C]) Reactivate(authorID string) error {
	const op = "aggregate.reactivate"
	if err := a.requireMutable(op, a.opts.Gate.CanEdit); err != nil {
		return err
	}
	cur := a.Current()
	if cur.Meta.Status != StatusRetired {
		return InvalidTransition(op, a.uid, cur.Meta.Status, "only a retired version can be reactivated")
	}
	a.append(VersionMetadata{
		Major:             cur.Meta.Major,
		Minor:             cur.Meta.Minor,
		Status:            StatusFinal,
		AuthorID:          authorID,
		ChangeDescription: DescriptionReactivated,
	}, cur.Value)
	return nil
}

// Delete marks a never-approved single-draft aggregate for removal.
func (a *VersionedAggregate[C]) Delete() error {
	const op = "aggregate.delete"
	if err := a.requireMutable(op, a.opts.Gate.CanDelete); err != nil {
		return err
	}
	cur := a.Current().Meta
	if len(a.chain) != 1 || cur.Status != StatusDraft || cur.Major != 0 {
		return InvalidTransition(op, a.uid, cur.Status, fmt.Sprintf("version %s cannot be deleted, only a never-edited 0.1 draft can be deleted", cur.Version()))
	}
	a.deleted = true
	return nil
}

func (a *VersionedAggregate[C]) requireMutable(op string, allowed func(string, Library) bool) error {
	if a.deleted {
		return InvalidTransition(op, a.uid, a.Current().Meta.Status, "aggregate is deleted")
	}
	if !allowed(a.opts.Family, a.library) {
		return LibraryNotEditable(op, a.uid, a.library.Name)
	}
	return nil
}

// append closes the open record and appends a new one starting at the same instant.
// Start dates never move backwards even if the clock does.
func (a *VersionedAggregate[C]) append(meta VersionMetadata, value C) {
	last := len(a.chain) - 1
	now := a.opts.Now()
	if prev := a.chain[last].Meta.StartDate; now.Before(prev) {
		now = prev
	}
	end := now
	a.chain[last].Meta.EndDate = &end
	meta.StartDate = now
	meta.EndDate = nil
	meta.AuthorID = strings.TrimSpace(meta.AuthorID)
	meta.ChangeDescription = strings.TrimSpace(meta.ChangeDescription)
	a.chain = append(a.chain, Entry[C]{Meta: meta, Value: value})
}
