package library

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/clinical-mdr/internal/domain"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

type VersionRelationRepo interface {
	ListByRootUID(ctx context.Context, tx *gorm.DB, rootUID string) ([]*types.VersionRelation, error)
	// Replace makes rels the complete relation set of rootUID, touching only the difference.
	Replace(ctx context.Context, tx *gorm.DB, rootUID string, rels []*types.VersionRelation) error
	DeleteByRootUID(ctx context.Context, tx *gorm.DB, rootUID string) error
}

type versionRelationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVersionRelationRepo(db *gorm.DB, baseLog *logger.Logger) VersionRelationRepo {
	return &versionRelationRepo{db: db, log: baseLog.With("repo", "VersionRelationRepo")}
}

func (r *versionRelationRepo) ListByRootUID(ctx context.Context, tx *gorm.DB, rootUID string) ([]*types.VersionRelation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.VersionRelation
	if err := transaction.WithContext(ctx).
		Where("root_uid = ?", rootUID).
		Order("type ASC, target_uid ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *versionRelationRepo) Replace(ctx context.Context, tx *gorm.DB, rootUID string, rels []*types.VersionRelation) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	existing, err := r.ListByRootUID(ctx, transaction, rootUID)
	if err != nil {
		return err
	}
	type key struct{ typ, target string }
	want := map[key]*types.VersionRelation{}
	for _, rel := range rels {
		want[key{rel.Type, rel.TargetUID}] = rel
	}

	var stale []uuid.UUID
	for _, rel := range existing {
		k := key{rel.Type, rel.TargetUID}
		if _, ok := want[k]; ok {
			delete(want, k)
			continue
		}
		stale = append(stale, rel.ID)
	}
	if len(stale) > 0 {
		if err := transaction.WithContext(ctx).Where("id IN ?", stale).Delete(&types.VersionRelation{}).Error; err != nil {
			return err
		}
	}
	if len(want) == 0 {
		return nil
	}
	fresh := make([]*types.VersionRelation, 0, len(want))
	for _, rel := range want {
		fresh = append(fresh, &types.VersionRelation{ID: uuid.New(), RootUID: rootUID, Type: rel.Type, TargetUID: rel.TargetUID})
	}
	return transaction.WithContext(ctx).Create(&fresh).Error
}

func (r *versionRelationRepo) DeleteByRootUID(ctx context.Context, tx *gorm.DB, rootUID string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Where("root_uid = ?", rootUID).Delete(&types.VersionRelation{}).Error
}
