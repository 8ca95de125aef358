package aggregates

import (
	"context"
	"time"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
)

// RootRecord is the persisted identity of one aggregate.
type RootRecord struct {
	UID         string
	Family      string
	Library     string
	IdentityKey string
	Revision    int64
	Pointers    HeadPointers
}

// HeadPointers are the sequence numbers behind the LATEST* links of a root.
// Zero means "no such record".
type HeadPointers struct {
	Latest        int
	LatestDraft   int
	LatestFinal   int
	LatestRetired int
}

// VersionRecord is one persisted chain entry. Seq starts at 1 and follows chain order.
type VersionRecord struct {
	Seq               int
	Major             int
	Minor             int
	Status            string
	StartDate         time.Time
	EndDate           *time.Time
	AuthorID          string
	ChangeDescription string
	ValueHash         string
	Payload           []byte
}

// ChainRecord is everything stored for one aggregate.
type ChainRecord struct {
	Root     RootRecord
	Library  domainagg.Library
	Versions []VersionRecord
}

// RootUpdate advances a root after a successful save.
type RootUpdate struct {
	Revision    int64
	IdentityKey string
	Pointers    HeadPointers
}

// ChainTx is the capability set a storage backend exposes inside one transaction.
// Backends only persist and retrieve rows; ordering and status semantics live in
// the domain package.
type ChainTx interface {
	Context() context.Context

	GetLibrary(name string) (domainagg.Library, error)
	PutLibrary(lib domainagg.Library) error

	// LoadChain returns nil when the uid is unknown. forUpdate takes a write lock
	// on the root for the rest of the transaction.
	LoadChain(family, uid string, forUpdate bool) (*ChainRecord, error)
	// ListChains returns every chain of a family, optionally restricted to a library.
	ListChains(family, library string) ([]*ChainRecord, error)

	CreateRoot(root RootRecord) error
	// AdvanceRoot is a compare-and-set on the root revision.
	AdvanceRoot(family, uid string, expectedRevision int64, update RootUpdate) (bool, error)
	CloseVersion(uid string, seq int, endDate time.Time) error
	// InsertVersions stores records and their payloads; identical payloads share
	// one content record keyed by ValueHash.
	InsertVersions(family, uid string, records []VersionRecord) error
	SyncRelations(uid string, refs []domainagg.Reference) error
	// DeleteChain removes root, versions and relations, then any content record
	// left without references.
	DeleteChain(family, uid string) error

	ExistsByIdentity(family, identityKey, excludeUID string) (bool, error)
	Relations(uid string) ([]domainagg.Reference, error)
}

// TxRunner runs fn inside one read-write storage transaction. A non-nil
// error from fn rolls everything back.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx ChainTx) error) error
}

// ChainStore opens read-write and read-only storage transactions.
type ChainStore interface {
	TxRunner
	View(ctx context.Context, fn func(tx ChainTx) error) error
}
