package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/clinical-mdr/internal/data/repos/library"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

type LibraryRepo = library.LibraryRepo
type VersionRootRepo = library.VersionRootRepo
type VersionRepo = library.VersionRepo
type VersionValueRepo = library.VersionValueRepo
type VersionRelationRepo = library.VersionRelationRepo

func NewLibraryRepo(db *gorm.DB, baseLog *logger.Logger) LibraryRepo {
	return library.NewLibraryRepo(db, baseLog)
}
func NewVersionRootRepo(db *gorm.DB, baseLog *logger.Logger) VersionRootRepo {
	return library.NewVersionRootRepo(db, baseLog)
}
func NewVersionRepo(db *gorm.DB, baseLog *logger.Logger) VersionRepo {
	return library.NewVersionRepo(db, baseLog)
}
func NewVersionValueRepo(db *gorm.DB, baseLog *logger.Logger) VersionValueRepo {
	return library.NewVersionValueRepo(db, baseLog)
}
func NewVersionRelationRepo(db *gorm.DB, baseLog *logger.Logger) VersionRelationRepo {
	return library.NewVersionRelationRepo(db, baseLog)
}
