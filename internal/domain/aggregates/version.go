package aggregates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Version is a semantic major.minor pair.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// Compare orders versions numerically, so 1.10 sorts after 1.9.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	default:
		return cmpInt(v.Minor, o.Minor)
	}
}

// ParseVersion parses "major.minor" with non-negative components.
func ParseVersion(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	majorRaw, minorRaw, ok := strings.Cut(raw, ".")
	if !ok {
		return Version{}, fmt.Errorf("version %q must look like major.minor", raw)
	}
	major, err := strconv.Atoi(majorRaw)
	if err != nil || major < 0 {
		return Version{}, fmt.Errorf("version %q has an invalid major part", raw)
	}
	minor, err := strconv.Atoi(minorRaw)
	if err != nil || minor < 0 {
		return Version{}, fmt.Errorf("version %q has an invalid minor part", raw)
	}
	return Version{Major: major, Minor: minor}, nil
}

// VersionMetadata describes one version record in a chain.
type VersionMetadata struct {
	Major             int
	Minor             int
	Status            Status
	StartDate         time.Time
	EndDate           *time.Time
	AuthorID          string
	ChangeDescription string
}

func (m VersionMetadata) Version() Version { return Version{Major: m.Major, Minor: m.Minor} }

// IsOpen reports whether the record has not been superseded yet.
func (m VersionMetadata) IsOpen() bool { return m.EndDate == nil }

// Covers reports whether t falls inside [StartDate, EndDate).
func (m VersionMetadata) Covers(t time.Time) bool {
	if t.Before(m.StartDate) {
		return false
	}
	return m.EndDate == nil || t.Before(*m.EndDate)
}

// Entry pairs version metadata with the content snapshot it describes.
type Entry[C any] struct {
	Meta  VersionMetadata
	Value C
}

// lessEntry orders by (major, minor, startDate); closed records sort before
// an open record with the same key.
func lessEntry(a, b VersionMetadata) bool {
	if c := a.Version().Compare(b.Version()); c != 0 {
		return c < 0
	}
	if !a.StartDate.Equal(b.StartDate) {
		return a.StartDate.Before(b.StartDate)
	}
	return !a.IsOpen() && b.IsOpen()
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
