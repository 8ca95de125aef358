package aggregates

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
)

type note struct {
	Name string   `json:"name"`
	Refs []string `json:"refs,omitempty"`
}

type noteAdapter struct{}

func (noteAdapter) Family() string    { return "note" }
func (noteAdapter) UIDPrefix() string { return "Note" }
func (noteAdapter) Equal(a, b note) bool {
	return a.Name == b.Name && slices.Equal(a.Refs, b.Refs)
}
func (noteAdapter) IdentityKey(c note) string { return strings.ToLower(strings.TrimSpace(c.Name)) }
func (noteAdapter) Validate(c note) error {
	if strings.TrimSpace(c.Name) == "" {
		return ValidationError("name is required")
	}
	return nil
}
func (noteAdapter) References(c note) []domainagg.Reference {
	out := make([]domainagg.Reference, 0, len(c.Refs))
	for _, r := range c.Refs {
		out = append(out, domainagg.Reference{Type: "HAS_TERM", TargetUID: r})
	}
	return out
}
func (noteAdapter) Encode(c note) ([]byte, error) { return json.Marshal(c) }
func (noteAdapter) Decode(raw []byte) (note, error) {
	var c note
	err := json.Unmarshal(raw, &c)
	return c, err
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

var sponsor = domainagg.Library{Name: "Sponsor", IsEditable: true}

type repoFixture struct {
	store  *MemoryStore
	repo   *VersionRepository[note]
	hooks  *spyHooks
	locker *KeyedLocker
}

func newRepoFixture(t *testing.T, lockTimeout time.Duration) repoFixture {
	t.Helper()
	store := NewMemoryStore()
	if err := store.InTx(context.Background(), func(tx ChainTx) error { return tx.PutLibrary(sponsor) }); err != nil {
		t.Fatalf("seed library: %v", err)
	}
	clock := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	hooks := &spyHooks{}
	locker := NewKeyedLocker()
	repo := NewVersionRepository[note](BaseDeps{
		Store:       store,
		Hooks:       &lockedHooks{inner: hooks},
		Locker:      locker,
		LockTimeout: lockTimeout,
	}, noteAdapter{}, domainagg.NewLibraryGate(), clock.Now)
	return repoFixture{store: store, repo: repo, hooks: hooks, locker: locker}
}

func (f repoFixture) create(t *testing.T, uid string, c note) *domainagg.VersionedAggregate[note] {
	t.Helper()
	agg, err := domainagg.NewDraft(uid, sponsor, c, "author-1", f.repo.Options())
	if err != nil {
		t.Fatalf("new draft: %v", err)
	}
	if err := f.repo.Save(context.Background(), agg); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	return agg
}

func TestRepositoryLifecycleRoundTrip(t *testing.T) {
	f := newRepoFixture(t, time.Second)
	ctx := context.Background()
	created := f.create(t, "Note_1", note{Name: "Height"})
	if created.Revision() != 1 || created.HasChanges() {
		t.Fatalf("created aggregate should be persisted at revision 1, got rev=%d changes=%v", created.Revision(), created.HasChanges())
	}

	steps := []func(a *domainagg.VersionedAggregate[note]) error{
		func(a *domainagg.VersionedAggregate[note]) error {
			return a.EditDraft(note{Name: "Body Height"}, "rename", "author-2")
		},
		func(a *domainagg.VersionedAggregate[note]) error {
			return a.Approve("author-2")
		},
		func(a *domainagg.VersionedAggregate[note]) error {
			return a.CreateNewVersion("author-3")
		},
		func(a *domainagg.VersionedAggregate[note]) error {
			return a.Approve("author-3")
		},
		func(a *domainagg.VersionedAggregate[note]) error {
			return a.Inactivate("author-4")
		},
		func(a *domainagg.VersionedAggregate[note]) error {
			return a.Reactivate("author-4")
		},
	}
	for i, step := range steps {
		if _, err := f.repo.Update(ctx, "Note_1", "note.step", step); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	loaded, err := f.repo.Load(ctx, "Note_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	chain := loaded.Chain()
	want := []string{"0.1/Draft", "0.2/Draft", "1.0/Final", "1.1/Draft", "2.0/Final", "2.0/Retired", "2.0/Final"}
	if len(chain) != len(want) {
		t.Fatalf("chain length: want=%d got=%d", len(want), len(chain))
	}
	for i, e := range chain {
		got := e.Meta.Version().String() + "/" + string(e.Meta.Status)
		if got != want[i] {
			t.Fatalf("entry %d: want=%s got=%s", i, want[i], got)
		}
		if open := e.Meta.IsOpen(); open != (i == len(chain)-1) {
			t.Fatalf("entry %d open=%v", i, open)
		}
	}
	if loaded.Revision() != int64(len(steps)+1) {
		t.Fatalf("revision: want=%d got=%d", len(steps)+1, loaded.Revision())
	}
	if loaded.Current().Value.Name != "Body Height" {
		t.Fatalf("current content: %+v", loaded.Current().Value)
	}
	if v, ok := loaded.AuditTrail().AsOfVersion(domainagg.Version{Major: 0, Minor: 1}); !ok || v.Value.Name != "Height" {
		t.Fatalf("as of 0.1: ok=%v value=%+v", ok, v.Value)
	}
}

func TestRepositoryLoadUnknownUID(t *testing.T) {
	f := newRepoFixture(t, time.Second)
	_, err := f.repo.Load(context.Background(), "Note_missing")
	if !errors.Is(err, domainagg.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = f.repo.Update(context.Background(), "Note_missing", "note.approve", func(a *domainagg.VersionedAggregate[note]) error {
		return a.Approve("x")
	})
	if !errors.Is(err, domainagg.ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}

func TestRepositorySaveWithoutChangesIsNoop(t *testing.T) {
	f := newRepoFixture(t, time.Second)
	ctx := context.Background()
	f.create(t, "Note_1", note{Name: "Weight"})

	loaded, err := f.repo.Load(ctx, "Note_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := f.repo.Save(ctx, loaded); err != nil {
			t.Fatalf("no-op save %d: %v", i, err)
		}
	}
	again, err := f.repo.Load(ctx, "Note_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Revision() != 1 || len(again.Chain()) != 1 {
		t.Fatalf("no-op save changed storage: rev=%d len=%d", again.Revision(), len(again.Chain()))
	}
}

func TestRepositoryConcurrentEditsOneWins(t *testing.T) {
	f := newRepoFixture(t, time.Second)
	ctx := context.Background()
	f.create(t, "Note_1", note{Name: "Pulse"})

	first, err := f.repo.Load(ctx, "Note_1")
	if err != nil {
		t.Fatalf("load first: %v", err)
	}
	second, err := f.repo.Load(ctx, "Note_1")
	if err != nil {
		t.Fatalf("load second: %v", err)
	}
	if err := first.EditDraft(note{Name: "Pulse Rate"}, "edit a", "a"); err != nil {
		t.Fatalf("edit first: %v", err)
	}
	if err := second.EditDraft(note{Name: "Heart Rate"}, "edit b", "b"); err != nil {
		t.Fatalf("edit second: %v", err)
	}

	var (
		mu        sync.Mutex
		conflicts int
	)
	var g errgroup.Group
	for _, agg := range []*domainagg.VersionedAggregate[note]{first, second} {
		agg := agg
		g.Go(func() error {
			err := f.repo.Save(ctx, agg)
			if errors.Is(err, domainagg.ErrConcurrentModification) {
				mu.Lock()
				conflicts++
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if conflicts != 1 {
		t.Fatalf("expected exactly one conflict, got %d", conflicts)
	}

	final, err := f.repo.Load(ctx, "Note_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(final.Chain()) != 2 || final.Revision() != 2 {
		t.Fatalf("expected one winning edit, got len=%d rev=%d", len(final.Chain()), final.Revision())
	}
	if len(f.hooks.Conflicts) != 1 {
		t.Fatalf("conflict hook count: %d", len(f.hooks.Conflicts))
	}
}

func TestRepositoryLockTimeoutRollsBack(t *testing.T) {
	f := newRepoFixture(t, 20*time.Millisecond)
	ctx := context.Background()
	f.create(t, "Note_1", note{Name: "Temperature"})

	release, err := f.locker.Acquire(ctx, LockKey("note", "Note_1"))
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	defer release()

	_, err = f.repo.Update(ctx, "Note_1", "note.approve", func(a *domainagg.VersionedAggregate[note]) error {
		return a.Approve("x")
	})
	if !domainagg.IsCode(err, domainagg.CodeRetryable) {
		t.Fatalf("expected retryable, got %v", err)
	}
	loaded, err := f.repo.Load(ctx, "Note_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Current().Meta.Status != domainagg.StatusDraft || loaded.Revision() != 1 {
		t.Fatalf("timed out update must not write, got status=%s rev=%d", loaded.Current().Meta.Status, loaded.Revision())
	}
	if len(f.hooks.Retries) != 1 {
		t.Fatalf("retry hook count: %d", len(f.hooks.Retries))
	}
}

func TestRepositoryFailedCommitKeepsAggregateDirty(t *testing.T) {
	store := NewMemoryStore()
	boom := errors.New("commit failed")
	repo := NewVersionRepository[note](BaseDeps{
		Store:  store,
		Runner: failingRunner{store: store, err: boom},
	}, noteAdapter{}, domainagg.NewLibraryGate(), nil)

	agg, err := domainagg.NewDraft("Note_1", sponsor, note{Name: "BMI"}, "a", repo.Options())
	if err != nil {
		t.Fatalf("new draft: %v", err)
	}
	if err := repo.Save(context.Background(), agg); err == nil {
		t.Fatalf("expected commit failure")
	}
	if !agg.IsNew() || !agg.HasChanges() {
		t.Fatalf("aggregate must stay unsaved after a failed commit")
	}
	if _, err := repo.Load(context.Background(), "Note_1"); !errors.Is(err, domainagg.ErrNotFound) {
		t.Fatalf("nothing should be stored, got %v", err)
	}
}

func TestRepositoryDeleteRemovesOrphanedContent(t *testing.T) {
	f := newRepoFixture(t, time.Second)
	ctx := context.Background()
	f.create(t, "Note_1", note{Name: "Shared"})
	f.create(t, "Note_2", note{Name: "Shared"})
	if got := f.store.ValueCount(); got != 1 {
		t.Fatalf("identical content should share one record, got %d", got)
	}

	del := func(uid string) {
		t.Helper()
		if _, err := f.repo.Update(ctx, uid, "note.delete", func(a *domainagg.VersionedAggregate[note]) error {
			return a.Delete()
		}); err != nil {
			t.Fatalf("delete %s: %v", uid, err)
		}
	}
	del("Note_1")
	if got := f.store.ValueCount(); got != 1 {
		t.Fatalf("content still referenced by Note_2, got %d records", got)
	}
	del("Note_2")
	if got := f.store.ValueCount(); got != 0 {
		t.Fatalf("orphaned content should be removed, got %d records", got)
	}
	if _, err := f.repo.Load(ctx, "Note_1"); !errors.Is(err, domainagg.ErrNotFound) {
		t.Fatalf("deleted item should be gone, got %v", err)
	}
}

func TestRepositorySyncsRelations(t *testing.T) {
	f := newRepoFixture(t, time.Second)
	ctx := context.Background()
	f.create(t, "Note_1", note{Name: "Unit", Refs: []string{"CT_1", "CT_2"}})

	relations := func() []domainagg.Reference {
		t.Helper()
		refs, err := f.repo.Relations(ctx, "Note_1")
		if err != nil {
			t.Fatalf("relations: %v", err)
		}
		return refs
	}
	if _, err := f.repo.Relations(ctx, "Note_404"); !errors.Is(err, domainagg.ErrNotFound) {
		t.Fatalf("want not found for unknown uid, got %v", err)
	}
	if got := relations(); len(got) != 2 {
		t.Fatalf("expected 2 relations, got %+v", got)
	}

	if _, err := f.repo.Update(ctx, "Note_1", "note.edit", func(a *domainagg.VersionedAggregate[note]) error {
		return a.EditDraft(note{Name: "Unit", Refs: []string{"CT_3"}}, "swap term", "a")
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	got := relations()
	if len(got) != 1 || got[0].TargetUID != "CT_3" {
		t.Fatalf("expected relation to CT_3 only, got %+v", got)
	}
}

func TestRepositoryQueries(t *testing.T) {
	f := newRepoFixture(t, time.Second)
	ctx := context.Background()
	f.create(t, "Note_1", note{Name: "Alpha"})
	f.create(t, "Note_2", note{Name: "Beta"})
	f.create(t, "Note_3", note{Name: "Gamma"})
	if _, err := f.repo.Update(ctx, "Note_2", "note.approve", func(a *domainagg.VersionedAggregate[note]) error {
		return a.Approve("a")
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	var withOwn, withoutOwn bool
	err := f.repo.InTx(ctx, "note.exists", func(s *Session[note]) error {
		var err error
		if withOwn, err = s.ExistsByContent("alpha", ""); err != nil {
			return err
		}
		withoutOwn, err = s.ExistsByContent("alpha", "Note_1")
		return err
	})
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !withOwn || withoutOwn {
		t.Fatalf("alpha exists=%v, excluding Note_1=%v", withOwn, withoutOwn)
	}

	drafts, err := f.repo.List(ctx, ListFilter{Status: domainagg.StatusDraft, Page: 1, Size: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if drafts.Total != 2 || len(drafts.Items) != 1 || drafts.Items[0].UID() != "Note_1" {
		t.Fatalf("unexpected draft page: total=%d items=%d", drafts.Total, len(drafts.Items))
	}

	counts, err := f.repo.Counts(ctx, "Sponsor")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Draft != 2 || counts.Final != 1 || counts.Total() != 3 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	trail, err := f.repo.AuditTrail(ctx, 1, 2)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if trail.Total != 4 || len(trail.Items) != 2 {
		t.Fatalf("unexpected audit page: total=%d items=%d", trail.Total, len(trail.Items))
	}
	if trail.Items[0].UID != "Note_2" || trail.Items[0].Entry.Meta.Status != domainagg.StatusFinal {
		t.Fatalf("most recent record should be Note_2 approval, got %s %s", trail.Items[0].UID, trail.Items[0].Entry.Meta.Status)
	}
}

type failingRunner struct {
	store *MemoryStore
	err   error
}

func (r failingRunner) InTx(ctx context.Context, fn func(tx ChainTx) error) error {
	return r.store.InTx(ctx, func(tx ChainTx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return r.err
	})
}

type lockedHooks struct {
	mu    sync.Mutex
	inner *spyHooks
}

func (h *lockedHooks) ObserveOperation(name, status string, dur time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inner.ObserveOperation(name, status, dur)
}

func (h *lockedHooks) ObserveLockWait(family string, dur time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inner.ObserveLockWait(family, dur)
}

func (h *lockedHooks) IncConflict(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inner.IncConflict(name)
}

func (h *lockedHooks) IncRetry(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inner.IncRetry(name)
}
