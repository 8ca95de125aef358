package library

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/clinical-mdr/internal/domain"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

type VersionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.Version) error
	ListByRootUIDs(ctx context.Context, tx *gorm.DB, rootUIDs []string) ([]*types.Version, error)
	// Close sets end_date on an open row; it reports whether a row was closed.
	Close(ctx context.Context, tx *gorm.DB, rootUID string, seq int, endDate time.Time) (bool, error)
	DeleteByRootUID(ctx context.Context, tx *gorm.DB, rootUID string) ([]string, error)
	CountByValueHashes(ctx context.Context, tx *gorm.DB, hashes []string) (map[string]int64, error)
}

type versionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVersionRepo(db *gorm.DB, baseLog *logger.Logger) VersionRepo {
	return &versionRepo{db: db, log: baseLog.With("repo", "VersionRepo")}
}

func (r *versionRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.Version) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	return transaction.WithContext(ctx).Create(&rows).Error
}

func (r *versionRepo) ListByRootUIDs(ctx context.Context, tx *gorm.DB, rootUIDs []string) ([]*types.Version, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Version
	if len(rootUIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("root_uid IN ?", rootUIDs).
		Order("root_uid ASC, seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *versionRepo) Close(ctx context.Context, tx *gorm.DB, rootUID string, seq int, endDate time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Version{}).
		Where("root_uid = ? AND seq = ? AND end_date IS NULL", rootUID, seq).
		Update("end_date", endDate)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteByRootUID removes every row of a chain and returns the value hashes
// those rows pointed at.
func (r *versionRepo) DeleteByRootUID(ctx context.Context, tx *gorm.DB, rootUID string) ([]string, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var hashes []string
	if err := transaction.WithContext(ctx).
		Model(&types.Version{}).
		Where("root_uid = ?", rootUID).
		Distinct().
		Pluck("value_hash", &hashes).Error; err != nil {
		return nil, err
	}
	if err := transaction.WithContext(ctx).
		Where("root_uid = ?", rootUID).
		Delete(&types.Version{}).Error; err != nil {
		return nil, err
	}
	return hashes, nil
}

func (r *versionRepo) CountByValueHashes(ctx context.Context, tx *gorm.DB, hashes []string) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	out := map[string]int64{}
	if len(hashes) == 0 {
		return out, nil
	}
	type row struct {
		ValueHash string
		N         int64
	}
	var rows []row
	if err := transaction.WithContext(ctx).
		Model(&types.Version{}).
		Select("value_hash, COUNT(*) AS n").
		Where("value_hash IN ?", hashes).
		Group("value_hash").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ValueHash] = r.N
	}
	return out, nil
}
