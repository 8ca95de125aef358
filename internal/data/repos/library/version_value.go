package library

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/clinical-mdr/internal/domain"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

type VersionValueRepo interface {
	// CreateIfAbsent stores content records, leaving existing hashes untouched.
	CreateIfAbsent(ctx context.Context, tx *gorm.DB, values []*types.VersionValue) error
	GetByHashes(ctx context.Context, tx *gorm.DB, hashes []string) (map[string]*types.VersionValue, error)
	DeleteByHashes(ctx context.Context, tx *gorm.DB, hashes []string) error
}

type versionValueRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVersionValueRepo(db *gorm.DB, baseLog *logger.Logger) VersionValueRepo {
	return &versionValueRepo{db: db, log: baseLog.With("repo", "VersionValueRepo")}
}

func (r *versionValueRepo) CreateIfAbsent(ctx context.Context, tx *gorm.DB, values []*types.VersionValue) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(values) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "hash"}}, DoNothing: true}).
		Create(&values).Error
}

func (r *versionValueRepo) GetByHashes(ctx context.Context, tx *gorm.DB, hashes []string) (map[string]*types.VersionValue, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	out := map[string]*types.VersionValue{}
	if len(hashes) == 0 {
		return out, nil
	}
	var rows []*types.VersionValue
	if err := transaction.WithContext(ctx).Where("hash IN ?", hashes).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, v := range rows {
		out[v.Hash] = v
	}
	return out, nil
}

func (r *versionValueRepo) DeleteByHashes(ctx context.Context, tx *gorm.DB, hashes []string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(hashes) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Where("hash IN ?", hashes).Delete(&types.VersionValue{}).Error
}
