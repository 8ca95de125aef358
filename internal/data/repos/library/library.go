package library

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/clinical-mdr/internal/domain"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

type LibraryRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, libs []*types.Library) error
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Library, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.Library, error)
}

type libraryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLibraryRepo(db *gorm.DB, baseLog *logger.Logger) LibraryRepo {
	return &libraryRepo{db: db, log: baseLog.With("repo", "LibraryRepo")}
}

func (r *libraryRepo) Upsert(ctx context.Context, tx *gorm.DB, libs []*types.Library) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(libs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_editable", "updated_at"}),
		}).
		Create(&libs).Error
}

// GetByName returns nil when the library does not exist.
func (r *libraryRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Library, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var lib types.Library
	err := transaction.WithContext(ctx).
		Where("name = ?", strings.TrimSpace(name)).
		Take(&lib).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lib, nil
}

func (r *libraryRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Library, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Library
	if err := transaction.WithContext(ctx).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
