package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/clinical-mdr/internal/data/aggregates"
	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/observability"
	"github.com/yungbote/clinical-mdr/internal/platform/ctxutil"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

// AggregateSnapshot is one version record of a library item as returned to callers.
type AggregateSnapshot[C any] struct {
	UID               string                   `json:"uid"`
	LibraryName       string                   `json:"library_name"`
	Version           string                   `json:"version"`
	MajorVersion      int                      `json:"major_version"`
	MinorVersion      int                      `json:"minor_version"`
	Status            domainagg.Status         `json:"status"`
	StartDate         time.Time                `json:"start_date"`
	EndDate           *time.Time               `json:"end_date,omitempty"`
	AuthorID          string                   `json:"author_id"`
	ChangeDescription string                   `json:"change_description"`
	Content           C                        `json:"content"`
	PossibleActions   []domainagg.ObjectAction `json:"possible_actions"`
}

// VersionHistoryItem is a snapshot plus the content fields changed against
// the previous record.
type VersionHistoryItem[C any] struct {
	AggregateSnapshot[C]
	Changes []string `json:"changes"`
}

// Selector picks one record of a chain. AsOfTime wins over Version, which
// wins over Status; an empty selector returns the current record.
type Selector struct {
	Version  string
	Status   domainagg.Status
	AsOfTime *time.Time
}

type ListQuery struct {
	Library string
	Status  domainagg.Status
	Page    int
	Size    int
}

type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type LibraryItemService[C any] interface {
	Family() string

	CreateDraft(ctx context.Context, content C, libraryName, authorID string) (AggregateSnapshot[C], error)
	EditDraft(ctx context.Context, uid string, content C, changeDescription, authorID string) (AggregateSnapshot[C], error)
	Approve(ctx context.Context, uid, authorID string) (AggregateSnapshot[C], error)
	CreateNewVersion(ctx context.Context, uid, authorID string) (AggregateSnapshot[C], error)
	Inactivate(ctx context.Context, uid, authorID string) (AggregateSnapshot[C], error)
	Reactivate(ctx context.Context, uid, authorID string) (AggregateSnapshot[C], error)
	Delete(ctx context.Context, uid string) error

	GetVersionHistory(ctx context.Context, uid string) ([]VersionHistoryItem[C], error)
	GetByUidAndVersionOrStatusOrAsOfTime(ctx context.Context, uid string, sel Selector) (AggregateSnapshot[C], error)
	PossibleActions(ctx context.Context, uid string) ([]domainagg.ObjectAction, error)
	List(ctx context.Context, q ListQuery) (Page[AggregateSnapshot[C]], error)
	AuditTrail(ctx context.Context, page, size int) (Page[AggregateSnapshot[C]], error)
	Counts(ctx context.Context, library string) (domainagg.StatusCounts, error)
	Relations(ctx context.Context, uid string) ([]domainagg.Reference, error)
}

type libraryItemService[C any] struct {
	log       *logger.Logger
	repo      *aggregates.VersionRepository[C]
	adapter   domainagg.Adapter[C]
	publisher EventPublisher
	metrics   *observability.Metrics
	newUID    func(prefix string) string
}

func NewLibraryItemService[C any](
	log *logger.Logger,
	repo *aggregates.VersionRepository[C],
	publisher EventPublisher,
	metrics *observability.Metrics,
) LibraryItemService[C] {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &libraryItemService[C]{
		log:       log.With("service", "LibraryItemService", "family", repo.Family()),
		repo:      repo,
		adapter:   repo.Adapter(),
		publisher: publisher,
		metrics:   metrics,
		newUID:    func(prefix string) string { return prefix + "_" + uuid.NewString() },
	}
}

func (s *libraryItemService[C]) Family() string { return s.repo.Family() }

func (s *libraryItemService[C]) CreateDraft(ctx context.Context, content C, libraryName, authorID string) (out AggregateSnapshot[C], err error) {
	ctx, end := s.span(ctx, "create_draft", "")
	defer func() { end(err) }()

	op := s.Family() + ".create_draft"
	if err := s.adapter.Validate(content); err != nil {
		return out, err
	}
	libraryName = strings.TrimSpace(libraryName)
	if libraryName == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "library_name is required", nil)
	}
	key := s.adapter.IdentityKey(content)
	uid := s.newUID(s.adapter.UIDPrefix())

	var agg *domainagg.VersionedAggregate[C]
	err = s.repo.InTx(ctx, op, func(sess *aggregates.Session[C]) error {
		lib, err := sess.Tx().GetLibrary(libraryName)
		if err != nil {
			return err
		}
		if err := s.requireUnique(sess, op, key, ""); err != nil {
			return err
		}
		agg, err = domainagg.NewDraft(uid, lib, content, authorID, s.repo.Options())
		if err != nil {
			return err
		}
		return sess.Save(agg)
	})
	if err != nil {
		return out, err
	}
	s.publish(ctx, agg, domainagg.ActionCreate)
	return current(agg), nil
}

func (s *libraryItemService[C]) EditDraft(ctx context.Context, uid string, content C, changeDescription, authorID string) (out AggregateSnapshot[C], err error) {
	ctx, end := s.span(ctx, "edit_draft", uid)
	defer func() { end(err) }()

	op := s.Family() + ".edit_draft"
	if err := s.adapter.Validate(content); err != nil {
		return out, err
	}
	if strings.TrimSpace(changeDescription) == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "change_description is required", nil)
	}
	key := s.adapter.IdentityKey(content)
	return s.mutate(ctx, op, uid, domainagg.ActionEdit, func(sess *aggregates.Session[C], agg *domainagg.VersionedAggregate[C]) error {
		if err := agg.EditDraft(content, changeDescription, authorID); err != nil {
			return err
		}
		return s.requireUnique(sess, op, key, agg.UID())
	})
}

func (s *libraryItemService[C]) Approve(ctx context.Context, uid, authorID string) (out AggregateSnapshot[C], err error) {
	ctx, end := s.span(ctx, "approve", uid)
	defer func() { end(err) }()
	return s.transition(ctx, "approve", uid, domainagg.ActionApprove, func(a *domainagg.VersionedAggregate[C]) error {
		return a.Approve(authorID)
	})
}

func (s *libraryItemService[C]) CreateNewVersion(ctx context.Context, uid, authorID string) (out AggregateSnapshot[C], err error) {
	ctx, end := s.span(ctx, "create_new_version", uid)
	defer func() { end(err) }()
	return s.transition(ctx, "create_new_version", uid, domainagg.ActionNewVersion, func(a *domainagg.VersionedAggregate[C]) error {
		return a.CreateNewVersion(authorID)
	})
}

func (s *libraryItemService[C]) Inactivate(ctx context.Context, uid, authorID string) (out AggregateSnapshot[C], err error) {
	ctx, end := s.span(ctx, "inactivate", uid)
	defer func() { end(err) }()
	return s.transition(ctx, "inactivate", uid, domainagg.ActionInactivate, func(a *domainagg.VersionedAggregate[C]) error {
		return a.Inactivate(authorID)
	})
}

func (s *libraryItemService[C]) Reactivate(ctx context.Context, uid, authorID string) (out AggregateSnapshot[C], err error) {
	ctx, end := s.span(ctx, "reactivate", uid)
	defer func() { end(err) }()
	return s.transition(ctx, "reactivate", uid, domainagg.ActionReactivate, func(a *domainagg.VersionedAggregate[C]) error {
		return a.Reactivate(authorID)
	})
}

func (s *libraryItemService[C]) Delete(ctx context.Context, uid string) (err error) {
	ctx, end := s.span(ctx, "delete", uid)
	defer func() { end(err) }()

	agg, err := s.repo.Update(ctx, uid, s.Family()+".delete", func(a *domainagg.VersionedAggregate[C]) error {
		return a.Delete()
	})
	if err != nil {
		return err
	}
	s.publish(ctx, agg, domainagg.ActionDelete)
	return nil
}

func (s *libraryItemService[C]) GetVersionHistory(ctx context.Context, uid string) (out []VersionHistoryItem[C], err error) {
	ctx, end := s.span(ctx, "get_version_history", uid)
	defer func() { end(err) }()

	agg, err := s.repo.Load(ctx, uid)
	if err != nil {
		return nil, err
	}
	chain := agg.Chain()
	encoded := make([][]byte, len(chain))
	for i, e := range chain {
		if encoded[i], err = s.adapter.Encode(e.Value); err != nil {
			return nil, domainagg.Wrap(domainagg.CodeInternal, s.Family()+".get_version_history", err)
		}
	}
	out = make([]VersionHistoryItem[C], 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		item := VersionHistoryItem[C]{AggregateSnapshot: snapshot(agg, chain[i]), Changes: []string{}}
		if i > 0 {
			changes, err := domainagg.Diff(encoded[i-1], encoded[i])
			if err != nil {
				return nil, domainagg.Wrap(domainagg.CodeInternal, s.Family()+".get_version_history", err)
			}
			item.Changes = changes
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *libraryItemService[C]) GetByUidAndVersionOrStatusOrAsOfTime(ctx context.Context, uid string, sel Selector) (out AggregateSnapshot[C], err error) {
	ctx, end := s.span(ctx, "get", uid)
	defer func() { end(err) }()

	op := s.Family() + ".get"
	agg, err := s.repo.Load(ctx, uid)
	if err != nil {
		return out, err
	}
	trail := agg.AuditTrail()
	var (
		entry domainagg.Entry[C]
		ok    bool
		what  string
	)
	switch {
	case sel.AsOfTime != nil:
		entry, ok = trail.AsOfTime(*sel.AsOfTime)
		what = "no version at " + sel.AsOfTime.UTC().Format(time.RFC3339)
	case strings.TrimSpace(sel.Version) != "":
		v, perr := domainagg.ParseVersion(sel.Version)
		if perr != nil {
			return out, domainagg.NewError(domainagg.CodeValidation, op, perr.Error(), nil)
		}
		entry, ok = trail.AsOfVersion(v)
		what = "no version " + v.String()
	case sel.Status != "":
		if !sel.Status.Valid() {
			return out, domainagg.NewError(domainagg.CodeValidation, op, "unknown status "+string(sel.Status), nil)
		}
		entry, ok = trail.AsOfStatus(sel.Status)
		what = "no version with status " + string(sel.Status)
	default:
		entry, ok = trail.CurrentState()
		what = "no current version"
	}
	if !ok {
		return out, domainagg.NotFound(op, agg.UID(), what)
	}
	return snapshot(agg, entry), nil
}

func (s *libraryItemService[C]) PossibleActions(ctx context.Context, uid string) ([]domainagg.ObjectAction, error) {
	agg, err := s.repo.Load(ctx, uid)
	if err != nil {
		return nil, err
	}
	return agg.PossibleActions(), nil
}

func (s *libraryItemService[C]) List(ctx context.Context, q ListQuery) (out Page[AggregateSnapshot[C]], err error) {
	ctx, end := s.span(ctx, "list", "")
	defer func() { end(err) }()

	if q.Status != "" && !q.Status.Valid() {
		return out, domainagg.NewError(domainagg.CodeValidation, s.Family()+".list", "unknown status "+string(q.Status), nil)
	}
	page, err := s.repo.List(ctx, aggregates.ListFilter{Library: q.Library, Status: q.Status, Page: q.Page, Size: q.Size})
	if err != nil {
		return out, err
	}
	out.Total = page.Total
	out.Items = make([]AggregateSnapshot[C], 0, len(page.Items))
	for _, agg := range page.Items {
		out.Items = append(out.Items, current(agg))
	}
	return out, nil
}

func (s *libraryItemService[C]) AuditTrail(ctx context.Context, page, size int) (out Page[AggregateSnapshot[C]], err error) {
	ctx, end := s.span(ctx, "audit_trail", "")
	defer func() { end(err) }()

	res, err := s.repo.AuditTrail(ctx, page, size)
	if err != nil {
		return out, err
	}
	out.Total = res.Total
	out.Items = make([]AggregateSnapshot[C], 0, len(res.Items))
	for _, rec := range res.Items {
		out.Items = append(out.Items, entrySnapshot(rec.UID, rec.Library, rec.Entry, nil))
	}
	return out, nil
}

// Counts tallies items by their current status, optionally within one library.
func (s *libraryItemService[C]) Counts(ctx context.Context, library string) (out domainagg.StatusCounts, err error) {
	ctx, end := s.span(ctx, "counts", "")
	defer func() { end(err) }()
	return s.repo.Counts(ctx, library)
}

func (s *libraryItemService[C]) Relations(ctx context.Context, uid string) (out []domainagg.Reference, err error) {
	ctx, end := s.span(ctx, "relations", uid)
	defer func() { end(err) }()
	return s.repo.Relations(ctx, uid)
}

func (s *libraryItemService[C]) transition(ctx context.Context, name, uid string, action domainagg.ObjectAction, fn func(a *domainagg.VersionedAggregate[C]) error) (AggregateSnapshot[C], error) {
	return s.mutate(ctx, s.Family()+"."+name, uid, action, func(_ *aggregates.Session[C], agg *domainagg.VersionedAggregate[C]) error {
		return fn(agg)
	})
}

// mutate loads uid for update, applies fn and saves in one transaction, then
// publishes the lifecycle event once the write has committed.
func (s *libraryItemService[C]) mutate(ctx context.Context, op, uid string, action domainagg.ObjectAction, fn func(sess *aggregates.Session[C], agg *domainagg.VersionedAggregate[C]) error) (AggregateSnapshot[C], error) {
	var agg *domainagg.VersionedAggregate[C]
	err := s.repo.InTx(ctx, op, func(sess *aggregates.Session[C]) error {
		loaded, err := sess.Load(uid, true)
		if err != nil {
			return err
		}
		if err := fn(sess, loaded); err != nil {
			return err
		}
		agg = loaded
		return sess.Save(loaded)
	})
	if err != nil {
		return AggregateSnapshot[C]{}, err
	}
	s.publish(ctx, agg, action)
	return current(agg), nil
}

func (s *libraryItemService[C]) requireUnique(sess *aggregates.Session[C], op, key, excludeUID string) error {
	if key == "" {
		return nil
	}
	exists, err := sess.ExistsByContent(key, excludeUID)
	if err != nil {
		return err
	}
	if exists {
		return domainagg.DuplicateContent(op, s.Family(), key)
	}
	return nil
}

func (s *libraryItemService[C]) publish(ctx context.Context, agg *domainagg.VersionedAggregate[C], action domainagg.ObjectAction) {
	s.metrics.IncTransition(s.Family(), string(action))
	cur := agg.Current().Meta
	ev := domainagg.LifecycleEvent{
		Family:   s.Family(),
		UID:      agg.UID(),
		Action:   action,
		Library:  agg.Library().Name,
		Version:  cur.Version().String(),
		Status:   cur.Status,
		AuthorID: cur.AuthorID,
		At:       cur.StartDate,
	}
	if action == domainagg.ActionDelete {
		ev.Version, ev.Status, ev.At = "", "", time.Now().UTC()
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		fields := append([]interface{}{"uid", ev.UID, "action", string(action), "error", err}, ctxutil.LogFields(ctx)...)
		s.log.Warn("lifecycle event publish failed", fields...)
	}
}

func (s *libraryItemService[C]) span(ctx context.Context, name, uid string) (context.Context, func(error)) {
	ctx, span := observability.StartSpan(ctx, "mdr."+s.Family()+"."+name,
		attribute.String("mdr.family", s.Family()),
		attribute.String("mdr.uid", uid),
	)
	return ctx, func(err error) {
		if err != nil {
			span.SetAttributes(attribute.String("mdr.error_code", string(domainagg.CodeOf(err))))
			if !errors.Is(err, domainagg.ErrNotFound) {
				observability.RecordError(span, err)
			}
		}
		span.End()
	}
}

func current[C any](agg *domainagg.VersionedAggregate[C]) AggregateSnapshot[C] {
	return snapshot(agg, agg.Current())
}

// snapshot reports possible actions only for the open record.
func snapshot[C any](agg *domainagg.VersionedAggregate[C], e domainagg.Entry[C]) AggregateSnapshot[C] {
	var actions []domainagg.ObjectAction
	if e.Meta.IsOpen() {
		actions = agg.PossibleActions()
	}
	return entrySnapshot(agg.UID(), agg.Library().Name, e, actions)
}

func entrySnapshot[C any](uid, library string, e domainagg.Entry[C], actions []domainagg.ObjectAction) AggregateSnapshot[C] {
	if actions == nil {
		actions = []domainagg.ObjectAction{}
	}
	return AggregateSnapshot[C]{
		UID:               uid,
		LibraryName:       library,
		Version:           e.Meta.Version().String(),
		MajorVersion:      e.Meta.Major,
		MinorVersion:      e.Meta.Minor,
		Status:            e.Meta.Status,
		StartDate:         e.Meta.StartDate,
		EndDate:           e.Meta.EndDate,
		AuthorID:          e.Meta.AuthorID,
		ChangeDescription: e.Meta.ChangeDescription,
		Content:           e.Value,
		PossibleActions:   actions,
	}
}
