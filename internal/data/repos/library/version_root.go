package library

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/clinical-mdr/internal/domain"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

type VersionRootRepo interface {
	Create(ctx context.Context, tx *gorm.DB, root *types.VersionRoot) error
	// GetByUID returns nil when the root does not exist. forUpdate row-locks it
	// for the rest of tx.
	GetByUID(ctx context.Context, tx *gorm.DB, family, uid string, forUpdate bool) (*types.VersionRoot, error)
	ListByFamily(ctx context.Context, tx *gorm.DB, family, libraryName string) ([]*types.VersionRoot, error)
	FindByIdentity(ctx context.Context, tx *gorm.DB, family, identityKey, excludeUID string) (string, error)
	Delete(ctx context.Context, tx *gorm.DB, family, uid string) error
}

type versionRootRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVersionRootRepo(db *gorm.DB, baseLog *logger.Logger) VersionRootRepo {
	return &versionRootRepo{db: db, log: baseLog.With("repo", "VersionRootRepo")}
}

func (r *versionRootRepo) Create(ctx context.Context, tx *gorm.DB, root *types.VersionRoot) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(root).Error
}

func (r *versionRootRepo) GetByUID(ctx context.Context, tx *gorm.DB, family, uid string, forUpdate bool) (*types.VersionRoot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var root types.VersionRoot
	err := q.Where("uid = ? AND family = ?", uid, family).Take(&root).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &root, nil
}

func (r *versionRootRepo) ListByFamily(ctx context.Context, tx *gorm.DB, family, libraryName string) ([]*types.VersionRoot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Where("family = ?", family)
	if libraryName != "" {
		q = q.Where("library_name = ?", libraryName)
	}
	var out []*types.VersionRoot
	if err := q.Order("uid ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *versionRootRepo) FindByIdentity(ctx context.Context, tx *gorm.DB, family, identityKey, excludeUID string) (string, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if identityKey == "" {
		return "", nil
	}
	q := transaction.WithContext(ctx).
		Model(&types.VersionRoot{}).
		Where("family = ? AND identity_key = ?", family, identityKey)
	if excludeUID != "" {
		q = q.Where("uid <> ?", excludeUID)
	}
	var uids []string
	if err := q.Order("uid ASC").Limit(1).Pluck("uid", &uids).Error; err != nil {
		return "", err
	}
	if len(uids) == 0 {
		return "", nil
	}
	return uids[0], nil
}

func (r *versionRootRepo) Delete(ctx context.Context, tx *gorm.DB, family, uid string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("uid = ? AND family = ?", uid, family).
		Delete(&types.VersionRoot{}).Error
}
