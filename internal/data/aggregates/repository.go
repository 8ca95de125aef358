package aggregates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
)

// VersionRepository persists VersionedAggregates of one entity family on top of a
// ChainStore. All writes run through executeWrite.
type VersionRepository[C any] struct {
	deps    BaseDeps
	adapter domainagg.Adapter[C]
	gate    domainagg.LibraryGate
	now     func() time.Time
}

func NewVersionRepository[C any](deps BaseDeps, adapter domainagg.Adapter[C], gate domainagg.LibraryGate, now func() time.Time) *VersionRepository[C] {
	return &VersionRepository[C]{deps: deps.withDefaults(), adapter: adapter, gate: gate, now: now}
}

func (r *VersionRepository[C]) Family() string { return r.adapter.Family() }

func (r *VersionRepository[C]) Adapter() domainagg.Adapter[C] { return r.adapter }

// Options returns the aggregate options new and rehydrated aggregates are built with.
func (r *VersionRepository[C]) Options() domainagg.Options[C] {
	return domainagg.Options[C]{
		Family: r.adapter.Family(),
		Equal:  r.adapter.Equal,
		Gate:   r.gate,
		Now:    r.now,
	}
}

// Session is one write transaction. Locks taken by Load(forUpdate) are held
// until the transaction has committed or rolled back.
type Session[C any] struct {
	repo     *VersionRepository[C]
	op       string
	tx       ChainTx
	locked   map[string]struct{}
	releases []func()
	saved    []savedAggregate[C]
}

type savedAggregate[C any] struct {
	agg      *domainagg.VersionedAggregate[C]
	revision int64
}

// InTx runs fn inside one storage transaction. Aggregates saved through the
// session are marked persisted only after commit.
func (r *VersionRepository[C]) InTx(ctx context.Context, op string, fn func(s *Session[C]) error) error {
	s := &Session[C]{repo: r, op: normalizeOp(op, r.Family()+".write"), locked: map[string]struct{}{}}
	defer s.release()

	err := executeWrite(ctx, r.deps, s.op, func(tx ChainTx) error {
		s.tx = tx
		s.saved = s.saved[:0]
		return fn(s)
	})
	if err != nil {
		return err
	}
	for _, sv := range s.saved {
		sv.agg.MarkPersisted(sv.revision)
	}
	return nil
}

func (s *Session[C]) Tx() ChainTx { return s.tx }

// ExistsByContent reports whether another item of the family already has
// identityKey, as seen by this transaction.
func (s *Session[C]) ExistsByContent(identityKey, excludeUID string) (bool, error) {
	return s.tx.ExistsByIdentity(s.repo.Family(), strings.TrimSpace(identityKey), strings.TrimSpace(excludeUID))
}

func (s *Session[C]) release() {
	for i := len(s.releases) - 1; i >= 0; i-- {
		s.releases[i]()
	}
	s.releases = nil
}

func (s *Session[C]) lock(uid string) error {
	key := LockKey(s.repo.Family(), uid)
	if _, ok := s.locked[key]; ok {
		return nil
	}
	deps := s.repo.deps
	ctx, cancel := context.WithTimeout(s.tx.Context(), deps.LockTimeout)
	defer cancel()

	start := time.Now()
	release, err := deps.Locker.Acquire(ctx, key)
	deps.Hooks.ObserveLockWait(s.repo.Family(), time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return domainagg.NewError(domainagg.CodeRetryable, s.op, "timed out waiting for lock on "+uid, err)
		}
		return err
	}
	s.locked[key] = struct{}{}
	s.releases = append(s.releases, release)
	return nil
}

// Load reads one aggregate. forUpdate takes the per-aggregate lock and the
// storage write lock for the rest of the transaction.
func (s *Session[C]) Load(uid string, forUpdate bool) (*domainagg.VersionedAggregate[C], error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, domainagg.NewError(domainagg.CodeValidation, s.op, "uid is required", nil)
	}
	if forUpdate {
		if err := s.lock(uid); err != nil {
			return nil, err
		}
	}
	rec, err := s.tx.LoadChain(s.repo.Family(), uid, forUpdate)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domainagg.NotFound(s.op, uid, "")
	}
	return s.repo.rehydrate(rec)
}

// Save writes the unsaved tail of agg. A save without changes is a no-op.
func (s *Session[C]) Save(agg *domainagg.VersionedAggregate[C]) error {
	if agg == nil {
		return domainagg.NewError(domainagg.CodeValidation, s.op, "aggregate is required", nil)
	}
	if !agg.HasChanges() {
		return nil
	}
	family, uid := s.repo.Family(), agg.UID()
	if !agg.IsNew() {
		if err := s.lock(uid); err != nil {
			return err
		}
	}

	if agg.IsDeleted() {
		if agg.IsNew() {
			return nil
		}
		next := agg.Revision() + 1
		ok, err := s.tx.AdvanceRoot(family, uid, agg.Revision(), RootUpdate{Revision: next})
		if err != nil {
			return err
		}
		if !ok {
			return domainagg.ConcurrentModification(s.op, uid, "item changed since it was loaded")
		}
		if err := s.tx.DeleteChain(family, uid); err != nil {
			return err
		}
		s.saved = append(s.saved, savedAggregate[C]{agg: agg, revision: next})
		return nil
	}

	chain := agg.Chain()
	current := chain[len(chain)-1]
	identity := s.repo.adapter.IdentityKey(current.Value)
	pointers := headPointers(chain)
	persisted := agg.PersistedLen()

	var next int64
	if agg.IsNew() {
		next = 1
		err := s.tx.CreateRoot(RootRecord{
			UID:         uid,
			Family:      family,
			Library:     agg.Library().Name,
			IdentityKey: identity,
			Revision:    next,
			Pointers:    pointers,
		})
		if err != nil {
			return err
		}
	} else {
		next = agg.Revision() + 1
		ok, err := s.tx.AdvanceRoot(family, uid, agg.Revision(), RootUpdate{
			Revision:    next,
			IdentityKey: identity,
			Pointers:    pointers,
		})
		if err != nil {
			return err
		}
		if !ok {
			return domainagg.ConcurrentModification(s.op, uid, "item changed since it was loaded")
		}
		closed := chain[persisted-1].Meta.EndDate
		if closed == nil {
			return domainagg.NewError(domainagg.CodeInvariantViolation, s.op, "superseded record is still open", nil)
		}
		if err := s.tx.CloseVersion(uid, persisted, *closed); err != nil {
			return err
		}
	}

	records := make([]VersionRecord, 0, len(chain)-persisted)
	for i := persisted; i < len(chain); i++ {
		rec, err := s.repo.encode(i+1, chain[i])
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if err := s.tx.InsertVersions(family, uid, records); err != nil {
		return err
	}
	if err := s.tx.SyncRelations(uid, s.repo.adapter.References(current.Value)); err != nil {
		return err
	}
	s.saved = append(s.saved, savedAggregate[C]{agg: agg, revision: next})
	return nil
}

// Load reads the committed state of one aggregate.
func (r *VersionRepository[C]) Load(ctx context.Context, uid string) (*domainagg.VersionedAggregate[C], error) {
	var out *domainagg.VersionedAggregate[C]
	op := r.Family() + ".load"
	err := executeRead(ctx, r.deps, op, func(tx ChainTx) error {
		rec, err := tx.LoadChain(r.Family(), strings.TrimSpace(uid), false)
		if err != nil {
			return err
		}
		if rec == nil {
			return domainagg.NotFound(op, uid, "")
		}
		out, err = r.rehydrate(rec)
		return err
	})
	return out, err
}

// Save persists agg in its own transaction.
func (r *VersionRepository[C]) Save(ctx context.Context, agg *domainagg.VersionedAggregate[C]) error {
	return r.InTx(ctx, r.Family()+".save", func(s *Session[C]) error {
		return s.Save(agg)
	})
}

// Update loads uid for update, applies fn and saves the result in one transaction.
func (r *VersionRepository[C]) Update(ctx context.Context, uid, op string, fn func(agg *domainagg.VersionedAggregate[C]) error) (*domainagg.VersionedAggregate[C], error) {
	var out *domainagg.VersionedAggregate[C]
	err := r.InTx(ctx, op, func(s *Session[C]) error {
		agg, err := s.Load(uid, true)
		if err != nil {
			return err
		}
		if err := fn(agg); err != nil {
			return err
		}
		if err := s.Save(agg); err != nil {
			return err
		}
		out = agg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Relations lists the reference edges of uid's current version.
func (r *VersionRepository[C]) Relations(ctx context.Context, uid string) ([]domainagg.Reference, error) {
	var out []domainagg.Reference
	op := r.Family() + ".relations"
	uid = strings.TrimSpace(uid)
	err := executeRead(ctx, r.deps, op, func(tx ChainTx) error {
		rec, err := tx.LoadChain(r.Family(), uid, false)
		if err != nil {
			return err
		}
		if rec == nil {
			return domainagg.NotFound(op, uid, "")
		}
		out, err = tx.Relations(uid)
		return err
	})
	return out, err
}

type ListFilter struct {
	Library string
	Status  domainagg.Status
	// Page is 1-based; Size 0 returns everything.
	Page int
	Size int
}

type ListPage[C any] struct {
	Items []*domainagg.VersionedAggregate[C]
	Total int
}

// List returns aggregates whose current record matches the filter, ordered by uid.
func (r *VersionRepository[C]) List(ctx context.Context, f ListFilter) (ListPage[C], error) {
	var page ListPage[C]
	err := executeRead(ctx, r.deps, r.Family()+".list", func(tx ChainTx) error {
		recs, err := tx.ListChains(r.Family(), strings.TrimSpace(f.Library))
		if err != nil {
			return err
		}
		items := make([]*domainagg.VersionedAggregate[C], 0, len(recs))
		for _, rec := range recs {
			agg, err := r.rehydrate(rec)
			if err != nil {
				return err
			}
			if f.Status != "" && agg.Current().Meta.Status != f.Status {
				continue
			}
			items = append(items, agg)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].UID() < items[j].UID() })
		page.Total = len(items)
		lo, hi := pageBounds(len(items), f.Page, f.Size)
		page.Items = items[lo:hi]
		return nil
	})
	return page, err
}

// AuditRecord is one chain entry of any item in the family.
type AuditRecord[C any] struct {
	UID     string
	Library string
	Entry   domainagg.Entry[C]
}

type AuditPage[C any] struct {
	Items []AuditRecord[C]
	Total int
}

// AuditTrail lists every record of the family, most recent start date first.
func (r *VersionRepository[C]) AuditTrail(ctx context.Context, page, size int) (AuditPage[C], error) {
	var out AuditPage[C]
	err := executeRead(ctx, r.deps, r.Family()+".audit_trail", func(tx ChainTx) error {
		recs, err := tx.ListChains(r.Family(), "")
		if err != nil {
			return err
		}
		var all []AuditRecord[C]
		for _, rec := range recs {
			agg, err := r.rehydrate(rec)
			if err != nil {
				return err
			}
			for _, e := range agg.Chain() {
				all = append(all, AuditRecord[C]{UID: agg.UID(), Library: agg.Library().Name, Entry: e})
			}
		}
		sort.SliceStable(all, func(i, j int) bool {
			a, b := all[i].Entry.Meta, all[j].Entry.Meta
			if !a.StartDate.Equal(b.StartDate) {
				return a.StartDate.After(b.StartDate)
			}
			if all[i].UID != all[j].UID {
				return all[i].UID < all[j].UID
			}
			return b.Version().Compare(a.Version()) < 0
		})
		out.Total = len(all)
		lo, hi := pageBounds(len(all), page, size)
		out.Items = all[lo:hi]
		return nil
	})
	return out, err
}

// Counts tallies the current status of every item, optionally within one library.
func (r *VersionRepository[C]) Counts(ctx context.Context, library string) (domainagg.StatusCounts, error) {
	var counts domainagg.StatusCounts
	err := executeRead(ctx, r.deps, r.Family()+".counts", func(tx ChainTx) error {
		recs, err := tx.ListChains(r.Family(), strings.TrimSpace(library))
		if err != nil {
			return err
		}
		statuses := make([]domainagg.Status, 0, len(recs))
		for _, rec := range recs {
			if len(rec.Versions) == 0 {
				continue
			}
			statuses = append(statuses, domainagg.Status(latestRecord(rec.Versions).Status))
		}
		counts = domainagg.CountStatuses(statuses...)
		return nil
	})
	return counts, err
}

func (r *VersionRepository[C]) rehydrate(rec *ChainRecord) (*domainagg.VersionedAggregate[C], error) {
	entries := make([]domainagg.Entry[C], 0, len(rec.Versions))
	for _, v := range rec.Versions {
		value, err := r.adapter.Decode(v.Payload)
		if err != nil {
			return nil, domainagg.NewError(domainagg.CodeInternal, r.Family()+".decode", "decode version "+rec.Root.UID, err)
		}
		entries = append(entries, domainagg.Entry[C]{
			Meta: domainagg.VersionMetadata{
				Major:             v.Major,
				Minor:             v.Minor,
				Status:            domainagg.Status(v.Status),
				StartDate:         v.StartDate,
				EndDate:           v.EndDate,
				AuthorID:          v.AuthorID,
				ChangeDescription: v.ChangeDescription,
			},
			Value: value,
		})
	}
	lib := rec.Library
	if lib.Name == "" {
		lib.Name = rec.Root.Library
	}
	return domainagg.Rehydrate(rec.Root.UID, lib, entries, rec.Root.Revision, r.Options())
}

func (r *VersionRepository[C]) encode(seq int, e domainagg.Entry[C]) (VersionRecord, error) {
	payload, err := r.adapter.Encode(e.Value)
	if err != nil {
		return VersionRecord{}, domainagg.NewError(domainagg.CodeValidation, r.Family()+".encode", "encode content", err)
	}
	return VersionRecord{
		Seq:               seq,
		Major:             e.Meta.Major,
		Minor:             e.Meta.Minor,
		Status:            string(e.Meta.Status),
		StartDate:         e.Meta.StartDate,
		EndDate:           e.Meta.EndDate,
		AuthorID:          e.Meta.AuthorID,
		ChangeDescription: e.Meta.ChangeDescription,
		ValueHash:         ValueHash(payload),
		Payload:           payload,
	}, nil
}

// ValueHash keys a content record; identical payloads share one record.
func ValueHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func headPointers[C any](chain []domainagg.Entry[C]) HeadPointers {
	p := HeadPointers{Latest: len(chain)}
	for i, e := range chain {
		switch e.Meta.Status {
		case domainagg.StatusDraft:
			p.LatestDraft = i + 1
		case domainagg.StatusFinal:
			p.LatestFinal = i + 1
		case domainagg.StatusRetired:
			p.LatestRetired = i + 1
		}
	}
	return p
}

func latestRecord(versions []VersionRecord) VersionRecord {
	latest := versions[0]
	for _, v := range versions[1:] {
		if v.Seq > latest.Seq {
			latest = v
		}
	}
	return latest
}

func pageBounds(n, page, size int) (int, int) {
	if size <= 0 {
		return 0, n
	}
	if page < 1 {
		page = 1
	}
	lo := (page - 1) * size
	if lo > n {
		lo = n
	}
	hi := lo + size
	if hi > n {
		hi = n
	}
	return lo, hi
}
