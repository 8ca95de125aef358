package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/clinical-mdr/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Library{},
		&types.VersionRoot{},
		&types.Version{},
		&types.VersionValue{},
		&types.VersionRelation{},
	)
}

// EnsureVersionIndexes adds the partial unique indexes that allow one open record
// per chain and one item per non-empty identity key within a family. The
// statements are valid on both Postgres and SQLite.
func EnsureVersionIndexes(db *gorm.DB) error {
	stmts := []struct{ name, sql string }{
		{"idx_mdr_version_single_open", `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_mdr_version_single_open
		ON mdr_version(root_uid)
		WHERE end_date IS NULL;
	`},
		{"idx_mdr_root_identity_unique", `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_mdr_root_identity_unique
		ON mdr_version_root(family, identity_key)
		WHERE identity_key <> '';
	`},
	}
	for _, st := range stmts {
		if err := db.Exec(st.sql).Error; err != nil {
			return fmt.Errorf("create %s: %w", st.name, err)
		}
	}
	return nil
}
