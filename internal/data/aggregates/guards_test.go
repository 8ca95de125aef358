package aggregates

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/clinical-mdr/internal/data/repos/testutil"
	types "github.com/yungbote/clinical-mdr/internal/domain"
	"github.com/yungbote/clinical-mdr/internal/pkg/dbctx"
)

func TestRequireRevisionMatch(t *testing.T) {
	if err := RequireRevisionMatch(3, 3); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := RequireRevisionMatch(2, 3); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if err := RequireRevisionMatch(2, -1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRequireCASSuccess(t *testing.T) {
	if err := RequireCASSuccess(true, "ok"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := RequireCASSuccess(false, "stale"); err == nil {
		t.Fatalf("expected conflict error")
	}
}

func TestCASGuardUpdateByRevision(t *testing.T) {
	db := testutil.SQLite(t)
	root := &types.VersionRoot{UID: "Note_cas", Family: "note", LibraryName: "Sponsor", Revision: 2}
	if err := db.Create(root).Error; err != nil {
		t.Fatalf("seed root: %v", err)
	}
	guard := NewCASGuard(db)
	dbc := dbctx.Context{Ctx: context.Background()}

	ok, err := guard.UpdateByRevision(dbc, versionRootTable, "uid", "Note_cas", 1, map[string]any{"revision": 3})
	if err != nil || ok {
		t.Fatalf("stale revision must not update: ok=%v err=%v", ok, err)
	}
	ok, err = guard.UpdateByRevision(dbc, versionRootTable, "uid", "Note_cas", 2, map[string]any{"revision": 3})
	if err != nil || !ok {
		t.Fatalf("matching revision must update: ok=%v err=%v", ok, err)
	}
	var got types.VersionRoot
	if err := db.First(&got, "uid = ?", "Note_cas").Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Revision != 3 {
		t.Fatalf("revision: want=3 got=%d", got.Revision)
	}
	if _, err := guard.UpdateByRevision(dbc, versionRootTable, "", "Note_cas", 3, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing key column must be a validation error, got %v", err)
	}
}
