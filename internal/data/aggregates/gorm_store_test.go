package aggregates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	mdrdb "github.com/yungbote/clinical-mdr/internal/data/db"
	"github.com/yungbote/clinical-mdr/internal/data/repos/testutil"
	types "github.com/yungbote/clinical-mdr/internal/domain"
	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
)

func newGormRepo(t *testing.T, db *gorm.DB) (*GormStore, *VersionRepository[note]) {
	t.Helper()
	if err := mdrdb.EnsureVersionIndexes(db); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	store := NewGormStore(db, testutil.Logger(t))
	if err := store.InTx(context.Background(), func(tx ChainTx) error { return tx.PutLibrary(sponsor) }); err != nil {
		t.Fatalf("seed library: %v", err)
	}
	clock := &testClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	repo := NewVersionRepository[note](BaseDeps{
		Store:       store,
		Log:         testutil.Logger(t),
		Locker:      NewKeyedLocker(),
		LockTimeout: time.Second,
	}, noteAdapter{}, domainagg.NewLibraryGate(), clock.Now)
	return store, repo
}

func exerciseGormLifecycle(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	_, repo := newGormRepo(t, db)
	uid := "Note_" + uuid.NewString()

	agg, err := domainagg.NewDraft(uid, sponsor, note{Name: "Glucose " + uid, Refs: []string{"CT_1"}}, "a", repo.Options())
	if err != nil {
		t.Fatalf("new draft: %v", err)
	}
	if err := repo.Save(ctx, agg); err != nil {
		t.Fatalf("save: %v", err)
	}
	steps := []func(a *domainagg.VersionedAggregate[note]) error{
		func(a *domainagg.VersionedAggregate[note]) error { return a.Approve("a") },
		func(a *domainagg.VersionedAggregate[note]) error { return a.Inactivate("a") },
		func(a *domainagg.VersionedAggregate[note]) error { return a.CreateNewVersion("b") },
	}
	for i, step := range steps {
		if _, err := repo.Update(ctx, uid, "note.step", step); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	loaded, err := repo.Load(ctx, uid)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	chain := loaded.Chain()
	if len(chain) != 4 {
		t.Fatalf("chain length: want=4 got=%d", len(chain))
	}
	cur := loaded.Current().Meta
	if cur.Status != domainagg.StatusDraft || cur.Version().String() != "1.1" || !cur.IsOpen() {
		t.Fatalf("unexpected current entry: %+v", cur)
	}
	for _, e := range chain[:3] {
		if e.Meta.IsOpen() {
			t.Fatalf("superseded entry %s still open", e.Meta.Version())
		}
	}
	if loaded.Revision() != 4 {
		t.Fatalf("revision: want=4 got=%d", loaded.Revision())
	}
	if loaded.Library().Name != sponsor.Name || !loaded.Library().IsEditable {
		t.Fatalf("library not loaded: %+v", loaded.Library())
	}
}

func TestGormStoreLifecycleSQLite(t *testing.T) {
	exerciseGormLifecycle(t, testutil.SQLite(t))
}

func TestGormStoreLifecyclePostgres(t *testing.T) {
	exerciseGormLifecycle(t, testutil.DB(t))
}

func TestGormStoreStaleSaveConflicts(t *testing.T) {
	ctx := context.Background()
	_, repo := newGormRepo(t, testutil.SQLite(t))
	agg, err := domainagg.NewDraft("Note_1", sponsor, note{Name: "Sodium"}, "a", repo.Options())
	if err != nil {
		t.Fatalf("new draft: %v", err)
	}
	if err := repo.Save(ctx, agg); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, err := repo.Load(ctx, "Note_1")
	if err != nil {
		t.Fatalf("load first: %v", err)
	}
	second, err := repo.Load(ctx, "Note_1")
	if err != nil {
		t.Fatalf("load second: %v", err)
	}
	if err := first.Approve("a"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := second.EditDraft(note{Name: "Sodium, serum"}, "rename", "b"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := repo.Save(ctx, second); !errors.Is(err, domainagg.ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}

	loaded, err := repo.Load(ctx, "Note_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Current().Meta.Status != domainagg.StatusFinal || len(loaded.Chain()) != 2 {
		t.Fatalf("losing save must not write, got status=%s len=%d", loaded.Current().Meta.Status, len(loaded.Chain()))
	}
}

func TestGormStoreDeleteAndRelations(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLite(t)
	_, repo := newGormRepo(t, db)

	for uid, name := range map[string]string{"Note_1": "Shared", "Note_2": "Scratch"} {
		agg, err := domainagg.NewDraft(uid, sponsor, note{Name: name, Refs: []string{"CT_9", "CT_9", "CT_8"}}, "a", repo.Options())
		if err != nil {
			t.Fatalf("new draft %s: %v", uid, err)
		}
		if err := repo.Save(ctx, agg); err != nil {
			t.Fatalf("save %s: %v", uid, err)
		}
	}
	if _, err := repo.Update(ctx, "Note_1", "note.approve", func(a *domainagg.VersionedAggregate[note]) error {
		return a.Approve("a")
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	countValues := func() int64 {
		t.Helper()
		var n int64
		if err := db.Model(&types.VersionValue{}).Count(&n).Error; err != nil {
			t.Fatalf("count values: %v", err)
		}
		return n
	}
	countRelations := func() int64 {
		t.Helper()
		var n int64
		if err := db.Model(&types.VersionRelation{}).Count(&n).Error; err != nil {
			t.Fatalf("count relations: %v", err)
		}
		return n
	}
	if n := countValues(); n != 2 {
		t.Fatalf("approved copy should reuse its draft's value, got %d values", n)
	}

	refs, err := repo.Relations(ctx, "Note_1")
	if err != nil {
		t.Fatalf("relations: %v", err)
	}
	if len(refs) != 2 || refs[0].TargetUID != "CT_8" || refs[1].TargetUID != "CT_9" {
		t.Fatalf("unexpected relations: %+v", refs)
	}
	if n := countRelations(); n != 4 {
		t.Fatalf("want 4 relations before delete, got %d", n)
	}

	if _, err := repo.Update(ctx, "Note_2", "note.delete", func(a *domainagg.VersionedAggregate[note]) error {
		return a.Delete()
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := countValues(); n != 1 {
		t.Fatalf("orphaned value should be removed, got %d", n)
	}
	if n := countRelations(); n != 2 {
		t.Fatalf("deleted item's relations should be removed, got %d", n)
	}
}

func TestGormStoreRejectsDuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	_, repo := newGormRepo(t, testutil.SQLite(t))

	first, err := domainagg.NewDraft("Note_1", sponsor, note{Name: "Potassium"}, "a", repo.Options())
	if err != nil {
		t.Fatalf("new draft: %v", err)
	}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	second, err := domainagg.NewDraft("Note_2", sponsor, note{Name: " potassium"}, "b", repo.Options())
	if err != nil {
		t.Fatalf("new draft: %v", err)
	}
	err = repo.Save(ctx, second)
	if !errors.Is(err, domainagg.ErrDuplicateContent) {
		t.Fatalf("want duplicate content, got %v", err)
	}
	if _, err := repo.Load(ctx, "Note_2"); !errors.Is(err, domainagg.ErrNotFound) {
		t.Fatalf("rejected create must not be stored, got %v", err)
	}
}
