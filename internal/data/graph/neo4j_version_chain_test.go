package graph

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/clinical-mdr/internal/data/aggregates"
	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
	"github.com/yungbote/clinical-mdr/internal/platform/neo4jdb"
)

type term struct {
	Name   string `json:"name"`
	Target string `json:"target,omitempty"`
}

type termAdapter struct{}

func (termAdapter) Family() string            { return "graph_test_term" }
func (termAdapter) UIDPrefix() string         { return "Term" }
func (termAdapter) Equal(a, b term) bool      { return a == b }
func (termAdapter) IdentityKey(c term) string { return c.Name }
func (termAdapter) Validate(term) error       { return nil }
func (termAdapter) References(c term) []domainagg.Reference {
	if c.Target == "" {
		return nil
	}
	return []domainagg.Reference{{Type: "HAS_TERM", TargetUID: c.Target}}
}
func (termAdapter) Encode(c term) ([]byte, error) { return json.Marshal(c) }
func (termAdapter) Decode(raw []byte) (term, error) {
	var c term
	err := json.Unmarshal(raw, &c)
	return c, err
}

func newNeo4jRepo(t *testing.T) (*Neo4jChainStore, *aggregates.VersionRepository[term]) {
	t.Helper()
	if os.Getenv("NEO4J_URI") == "" {
		t.Skip("set NEO4J_URI to run neo4j chain store tests")
	}
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	client, err := neo4jdb.New(neo4jdb.Config{
		URI:      os.Getenv("NEO4J_URI"),
		User:     os.Getenv("NEO4J_USER"),
		Password: os.Getenv("NEO4J_PASSWORD"),
		Database: os.Getenv("NEO4J_DATABASE"),
	}, log)
	if err != nil {
		t.Fatalf("neo4j client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	store := NewNeo4jChainStore(client, log)
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := store.InTx(ctx, func(tx aggregates.ChainTx) error {
		return tx.PutLibrary(domainagg.Library{Name: "Sponsor", IsEditable: true})
	}); err != nil {
		t.Fatalf("seed library: %v", err)
	}
	repo := aggregates.NewVersionRepository[term](aggregates.BaseDeps{
		Store:       store,
		Locker:      aggregates.NewKeyedLocker(),
		LockTimeout: 5 * time.Second,
	}, termAdapter{}, domainagg.NewLibraryGate(), nil)
	return store, repo
}

func TestNeo4jChainStoreLifecycle(t *testing.T) {
	store, repo := newNeo4jRepo(t)
	ctx := context.Background()
	uid := "Term_" + uuid.NewString()
	lib := domainagg.Library{Name: "Sponsor", IsEditable: true}

	agg, err := domainagg.NewDraft(uid, lib, term{Name: uid, Target: "CT_A"}, "a", repo.Options())
	if err != nil {
		t.Fatalf("new draft: %v", err)
	}
	if err := repo.Save(ctx, agg); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := repo.Update(ctx, uid, "term.edit", func(a *domainagg.VersionedAggregate[term]) error {
		return a.EditDraft(term{Name: uid, Target: "CT_B"}, "retarget", "a")
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := repo.Update(ctx, uid, "term.approve", func(a *domainagg.VersionedAggregate[term]) error {
		return a.Approve("a")
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	loaded, err := repo.Load(ctx, uid)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Chain()) != 3 || loaded.Current().Meta.Version().String() != "1.0" {
		t.Fatalf("unexpected chain: len=%d current=%s", len(loaded.Chain()), loaded.Current().Meta.Version())
	}

	var refs []domainagg.Reference
	if err := store.View(ctx, func(tx aggregates.ChainTx) error {
		var err error
		refs, err = tx.Relations(uid)
		return err
	}); err != nil {
		t.Fatalf("relations: %v", err)
	}
	if len(refs) != 1 || refs[0].TargetUID != "CT_B" {
		t.Fatalf("unexpected relations: %+v", refs)
	}

	stale, err := repo.Load(ctx, uid)
	if err != nil {
		t.Fatalf("load stale: %v", err)
	}
	if _, err := repo.Update(ctx, uid, "term.inactivate", func(a *domainagg.VersionedAggregate[term]) error {
		return a.Inactivate("a")
	}); err != nil {
		t.Fatalf("inactivate: %v", err)
	}
	if err := stale.CreateNewVersion("b"); err != nil {
		t.Fatalf("new version on stale copy: %v", err)
	}
	if err := repo.Save(ctx, stale); !errors.Is(err, domainagg.ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
}

func TestNeo4jChainStoreDelete(t *testing.T) {
	_, repo := newNeo4jRepo(t)
	ctx := context.Background()
	uid := "Term_" + uuid.NewString()
	agg, err := domainagg.NewDraft(uid, domainagg.Library{Name: "Sponsor", IsEditable: true}, term{Name: uid}, "a", repo.Options())
	if err != nil {
		t.Fatalf("new draft: %v", err)
	}
	if err := repo.Save(ctx, agg); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := repo.Update(ctx, uid, "term.delete", func(a *domainagg.VersionedAggregate[term]) error {
		return a.Delete()
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Load(ctx, uid); !errors.Is(err, domainagg.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestNeo4jChainStoreRejectsDuplicateIdentity(t *testing.T) {
	_, repo := newNeo4jRepo(t)
	ctx := context.Background()
	lib := domainagg.Library{Name: "Sponsor", IsEditable: true}
	name := "dup-" + uuid.NewString()

	first, err := domainagg.NewDraft("Term_"+uuid.NewString(), lib, term{Name: name}, "a", repo.Options())
	if err != nil {
		t.Fatalf("new draft: %v", err)
	}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	t.Cleanup(func() {
		_, _ = repo.Update(context.Background(), first.UID(), "term.delete", func(a *domainagg.VersionedAggregate[term]) error {
			return a.Delete()
		})
	})

	secondUID := "Term_" + uuid.NewString()
	second, err := domainagg.NewDraft(secondUID, lib, term{Name: name}, "b", repo.Options())
	if err != nil {
		t.Fatalf("new draft: %v", err)
	}
	if err := repo.Save(ctx, second); !errors.Is(err, domainagg.ErrDuplicateContent) {
		t.Fatalf("want duplicate content, got %v", err)
	}
	if _, err := repo.Load(ctx, secondUID); !errors.Is(err, domainagg.ErrNotFound) {
		t.Fatalf("rejected create must not be stored, got %v", err)
	}
}
