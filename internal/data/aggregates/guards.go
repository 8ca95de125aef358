package aggregates

import (
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/clinical-mdr/internal/pkg/dbctx"
)

// CASGuard provides optimistic/concurrency guard helpers for aggregate writes.
type CASGuard struct {
	db *gorm.DB
}

func NewCASGuard(db *gorm.DB) CASGuard {
	return CASGuard{db: db}
}

func (g CASGuard) baseDB(dbc dbctx.Context) (*gorm.DB, error) {
	if db := dbc.Conn(g.db); db != nil {
		return db, nil
	}
	return nil, ValidationError("missing db transaction context")
}

// UpdateByRevision updates a row only when key+revision match.
// It implements compare-and-set semantics for optimistic locking.
func (g CASGuard) UpdateByRevision(dbc dbctx.Context, table, keyColumn, key string, expectedRevision int64, updates map[string]any) (bool, error) {
	db, err := g.baseDB(dbc)
	if err != nil {
		return false, err
	}
	table = strings.TrimSpace(table)
	keyColumn = strings.TrimSpace(keyColumn)
	if table == "" || keyColumn == "" || strings.TrimSpace(key) == "" {
		return false, ValidationError("table, key column and key are required for UpdateByRevision")
	}
	if expectedRevision < 0 {
		return false, ValidationError("expectedRevision must be >= 0")
	}
	res := db.Table(table).
		Where(keyColumn+" = ? AND revision = ?", key, expectedRevision).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RequireCASSuccess converts a failed compare-and-set into a typed conflict error.
func RequireCASSuccess(ok bool, message string) error {
	if ok {
		return nil
	}
	return ConflictError(strings.TrimSpace(message))
}

// RequireRevisionMatch validates revision equality for optimistic locking flows.
func RequireRevisionMatch(current, expected int64) error {
	if expected < 0 {
		return ValidationError("expected revision must be >= 0")
	}
	if current != expected {
		return ConflictError("revision mismatch")
	}
	return nil
}
