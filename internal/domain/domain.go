package domain

import (
	"github.com/yungbote/clinical-mdr/internal/domain/library"
)

type Library = library.Library
type VersionRoot = library.VersionRoot
type Version = library.Version
type VersionValue = library.VersionValue
type VersionRelation = library.VersionRelation
