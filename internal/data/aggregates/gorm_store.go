package aggregates

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/clinical-mdr/internal/data/repos"
	types "github.com/yungbote/clinical-mdr/internal/domain"
	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/pkg/dbctx"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

const versionRootTable = "mdr_version_root"

// GormStore is the relational ChainStore (Postgres in production, SQLite in
// tests). It composes the table repos and guards root updates with CASGuard.
type GormStore struct {
	db        *gorm.DB
	guard     CASGuard
	libraries repos.LibraryRepo
	roots     repos.VersionRootRepo
	versions  repos.VersionRepo
	values    repos.VersionValueRepo
	relations repos.VersionRelationRepo
}

func NewGormStore(db *gorm.DB, baseLog *logger.Logger) *GormStore {
	return &GormStore{
		db:        db,
		guard:     NewCASGuard(db),
		libraries: repos.NewLibraryRepo(db, baseLog),
		roots:     repos.NewVersionRootRepo(db, baseLog),
		versions:  repos.NewVersionRepo(db, baseLog),
		values:    repos.NewVersionValueRepo(db, baseLog),
		relations: repos.NewVersionRelationRepo(db, baseLog),
	}
}

func (s *GormStore) InTx(ctx context.Context, fn func(tx ChainTx) error) error {
	if s == nil || s.db == nil {
		return domainagg.NewError(domainagg.CodeInternal, "gorm_store.tx", "gorm store has nil db", nil)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormChainTx{s: s, dbc: dbctx.Context{Ctx: ctx, Tx: tx}})
	})
}

// View runs fn in a transaction so multi-table reads see one snapshot.
func (s *GormStore) View(ctx context.Context, fn func(tx ChainTx) error) error {
	return s.InTx(ctx, fn)
}

type gormChainTx struct {
	s   *GormStore
	dbc dbctx.Context
}

func (t *gormChainTx) Context() context.Context { return t.dbc.Ctx }

func (t *gormChainTx) GetLibrary(name string) (domainagg.Library, error) {
	lib, err := t.s.libraries.GetByName(t.dbc.Ctx, t.dbc.Tx, name)
	if err != nil {
		return domainagg.Library{}, err
	}
	if lib == nil {
		return domainagg.Library{}, domainagg.NotFound("library.get", name, "library not found")
	}
	return domainagg.Library{Name: lib.Name, IsEditable: lib.IsEditable}, nil
}

func (t *gormChainTx) PutLibrary(lib domainagg.Library) error {
	if lib.Name == "" {
		return ValidationError("library name is required")
	}
	return t.s.libraries.Upsert(t.dbc.Ctx, t.dbc.Tx, []*types.Library{{Name: lib.Name, IsEditable: lib.IsEditable}})
}

func (t *gormChainTx) LoadChain(family, uid string, forUpdate bool) (*ChainRecord, error) {
	root, err := t.s.roots.GetByUID(t.dbc.Ctx, t.dbc.Tx, family, uid, forUpdate)
	if err != nil || root == nil {
		return nil, err
	}
	chains, err := t.assemble([]*types.VersionRoot{root})
	if err != nil {
		return nil, err
	}
	return chains[0], nil
}

func (t *gormChainTx) ListChains(family, library string) ([]*ChainRecord, error) {
	roots, err := t.s.roots.ListByFamily(t.dbc.Ctx, t.dbc.Tx, family, library)
	if err != nil {
		return nil, err
	}
	return t.assemble(roots)
}

func (t *gormChainTx) assemble(roots []*types.VersionRoot) ([]*ChainRecord, error) {
	if len(roots) == 0 {
		return nil, nil
	}
	uids := make([]string, 0, len(roots))
	for _, r := range roots {
		uids = append(uids, r.UID)
	}
	rows, err := t.s.versions.ListByRootUIDs(t.dbc.Ctx, t.dbc.Tx, uids)
	if err != nil {
		return nil, err
	}
	hashSet := map[string]struct{}{}
	byRoot := map[string][]*types.Version{}
	for _, row := range rows {
		hashSet[row.ValueHash] = struct{}{}
		byRoot[row.RootUID] = append(byRoot[row.RootUID], row)
	}
	hashes := make([]string, 0, len(hashSet))
	for h := range hashSet {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	values, err := t.s.values.GetByHashes(t.dbc.Ctx, t.dbc.Tx, hashes)
	if err != nil {
		return nil, err
	}
	libs, err := t.s.libraries.List(t.dbc.Ctx, t.dbc.Tx)
	if err != nil {
		return nil, err
	}
	libByName := map[string]domainagg.Library{}
	for _, l := range libs {
		libByName[l.Name] = domainagg.Library{Name: l.Name, IsEditable: l.IsEditable}
	}

	out := make([]*ChainRecord, 0, len(roots))
	for _, root := range roots {
		rec := &ChainRecord{
			Root: RootRecord{
				UID:         root.UID,
				Family:      root.Family,
				Library:     root.LibraryName,
				IdentityKey: root.IdentityKey,
				Revision:    root.Revision,
				Pointers: HeadPointers{
					Latest:        root.LatestSeq,
					LatestDraft:   root.LatestDraftSeq,
					LatestFinal:   root.LatestFinalSeq,
					LatestRetired: root.LatestRetiredSeq,
				},
			},
			Library: libByName[root.LibraryName],
		}
		for _, row := range byRoot[root.UID] {
			var payload []byte
			if v := values[row.ValueHash]; v != nil {
				payload = []byte(v.Payload)
			}
			rec.Versions = append(rec.Versions, VersionRecord{
				Seq:               row.Seq,
				Major:             row.Major,
				Minor:             row.Minor,
				Status:            row.Status,
				StartDate:         row.StartDate,
				EndDate:           row.EndDate,
				AuthorID:          row.AuthorID,
				ChangeDescription: row.ChangeDescription,
				ValueHash:         row.ValueHash,
				Payload:           payload,
			})
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *gormChainTx) CreateRoot(root RootRecord) error {
	return t.s.roots.Create(t.dbc.Ctx, t.dbc.Tx, &types.VersionRoot{
		UID:              root.UID,
		Family:           root.Family,
		LibraryName:      root.Library,
		IdentityKey:      root.IdentityKey,
		Revision:         root.Revision,
		LatestSeq:        root.Pointers.Latest,
		LatestDraftSeq:   root.Pointers.LatestDraft,
		LatestFinalSeq:   root.Pointers.LatestFinal,
		LatestRetiredSeq: root.Pointers.LatestRetired,
	})
}

func (t *gormChainTx) AdvanceRoot(_ string, uid string, expectedRevision int64, update RootUpdate) (bool, error) {
	updates := map[string]any{
		"revision":   update.Revision,
		"updated_at": time.Now().UTC(),
	}
	if update.IdentityKey != "" {
		updates["identity_key"] = update.IdentityKey
	}
	if update.Pointers.Latest > 0 {
		updates["latest_seq"] = update.Pointers.Latest
		updates["latest_draft_seq"] = update.Pointers.LatestDraft
		updates["latest_final_seq"] = update.Pointers.LatestFinal
		updates["latest_retired_seq"] = update.Pointers.LatestRetired
	}
	return t.s.guard.UpdateByRevision(t.dbc, versionRootTable, "uid", uid, expectedRevision, updates)
}

func (t *gormChainTx) CloseVersion(uid string, seq int, endDate time.Time) error {
	ok, err := t.s.versions.Close(t.dbc.Ctx, t.dbc.Tx, uid, seq, endDate)
	if err != nil {
		return err
	}
	return RequireCASSuccess(ok, "close version "+uid)
}

func (t *gormChainTx) InsertVersions(family, uid string, records []VersionRecord) error {
	if len(records) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	values := make([]*types.VersionValue, 0, len(records))
	rows := make([]*types.Version, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.ValueHash]; !ok {
			seen[r.ValueHash] = struct{}{}
			values = append(values, &types.VersionValue{Hash: r.ValueHash, Family: family, Payload: r.Payload})
		}
		rows = append(rows, &types.Version{
			RootUID:           uid,
			Seq:               r.Seq,
			Major:             r.Major,
			Minor:             r.Minor,
			Status:            r.Status,
			StartDate:         r.StartDate,
			EndDate:           r.EndDate,
			AuthorID:          r.AuthorID,
			ChangeDescription: r.ChangeDescription,
			ValueHash:         r.ValueHash,
		})
	}
	if err := t.s.values.CreateIfAbsent(t.dbc.Ctx, t.dbc.Tx, values); err != nil {
		return err
	}
	return t.s.versions.Create(t.dbc.Ctx, t.dbc.Tx, rows)
}

func (t *gormChainTx) SyncRelations(uid string, refs []domainagg.Reference) error {
	refs = dedupeReferences(refs)
	rels := make([]*types.VersionRelation, 0, len(refs))
	for _, r := range refs {
		rels = append(rels, &types.VersionRelation{RootUID: uid, Type: r.Type, TargetUID: r.TargetUID})
	}
	return t.s.relations.Replace(t.dbc.Ctx, t.dbc.Tx, uid, rels)
}

func (t *gormChainTx) DeleteChain(family, uid string) error {
	hashes, err := t.s.versions.DeleteByRootUID(t.dbc.Ctx, t.dbc.Tx, uid)
	if err != nil {
		return err
	}
	if err := t.s.relations.DeleteByRootUID(t.dbc.Ctx, t.dbc.Tx, uid); err != nil {
		return err
	}
	if err := t.s.roots.Delete(t.dbc.Ctx, t.dbc.Tx, family, uid); err != nil {
		return err
	}
	counts, err := t.s.versions.CountByValueHashes(t.dbc.Ctx, t.dbc.Tx, hashes)
	if err != nil {
		return err
	}
	orphans := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if counts[h] == 0 {
			orphans = append(orphans, h)
		}
	}
	return t.s.values.DeleteByHashes(t.dbc.Ctx, t.dbc.Tx, orphans)
}

func (t *gormChainTx) ExistsByIdentity(family, identityKey, excludeUID string) (bool, error) {
	uid, err := t.s.roots.FindByIdentity(t.dbc.Ctx, t.dbc.Tx, family, identityKey, excludeUID)
	return uid != "", err
}

func (t *gormChainTx) Relations(uid string) ([]domainagg.Reference, error) {
	rels, err := t.s.relations.ListByRootUID(t.dbc.Ctx, t.dbc.Tx, uid)
	if err != nil {
		return nil, err
	}
	out := make([]domainagg.Reference, 0, len(rels))
	for _, r := range rels {
		out = append(out, domainagg.Reference{Type: r.Type, TargetUID: r.TargetUID})
	}
	return out, nil
}
