package aggregates

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
)

// MemoryStore is an in-process ChainStore. Write transactions run against a
// cloned state that replaces the live state on commit, so a failed callback
// leaves nothing behind.
type MemoryStore struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	libraries map[string]domainagg.Library
	roots     map[string]RootRecord
	versions  map[string][]memoryVersion
	values    map[string][]byte
	relations map[string][]domainagg.Reference
}

type memoryVersion struct {
	record VersionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func newMemoryState() memoryState {
	return memoryState{
		libraries: map[string]domainagg.Library{},
		roots:     map[string]RootRecord{},
		versions:  map[string][]memoryVersion{},
		values:    map[string][]byte{},
		relations: map[string][]domainagg.Reference{},
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.libraries {
		out.libraries[k] = v
	}
	for k, v := range s.roots {
		out.roots[k] = v
	}
	for k, v := range s.versions {
		cp := make([]memoryVersion, len(v))
		copy(cp, v)
		out.versions[k] = cp
	}
	for k, v := range s.values {
		out.values[k] = v
	}
	for k, v := range s.relations {
		cp := make([]domainagg.Reference, len(v))
		copy(cp, v)
		out.relations[k] = cp
	}
	return out
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx ChainTx) error) error {
	if fn == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{ctx: ctx, state: m.state.clone(), writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *MemoryStore) View(ctx context.Context, fn func(tx ChainTx) error) error {
	if fn == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryTx{ctx: ctx, state: m.state})
}

type memoryTx struct {
	ctx      context.Context
	state    memoryState
	writable bool
}

func rootKey(family, uid string) string { return family + "\x00" + uid }

func (t *memoryTx) Context() context.Context { return t.ctx }

func (t *memoryTx) requireWritable() error {
	if !t.writable {
		return domainagg.NewError(domainagg.CodeInternal, "memory_store", "write in read-only transaction", nil)
	}
	return nil
}

func (t *memoryTx) GetLibrary(name string) (domainagg.Library, error) {
	lib, ok := t.state.libraries[strings.TrimSpace(name)]
	if !ok {
		return domainagg.Library{}, domainagg.NotFound("library.get", name, "library not found")
	}
	return lib, nil
}

func (t *memoryTx) PutLibrary(lib domainagg.Library) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	lib.Name = strings.TrimSpace(lib.Name)
	if lib.Name == "" {
		return ValidationError("library name is required")
	}
	t.state.libraries[lib.Name] = lib
	return nil
}

func (t *memoryTx) LoadChain(family, uid string, _ bool) (*ChainRecord, error) {
	root, ok := t.state.roots[rootKey(family, uid)]
	if !ok {
		return nil, nil
	}
	return t.chain(root), nil
}

func (t *memoryTx) chain(root RootRecord) *ChainRecord {
	rec := &ChainRecord{Root: root, Library: t.state.libraries[root.Library]}
	for _, v := range t.state.versions[root.UID] {
		r := v.record
		r.Payload = t.state.values[r.ValueHash]
		rec.Versions = append(rec.Versions, r)
	}
	return rec
}

func (t *memoryTx) ListChains(family, library string) ([]*ChainRecord, error) {
	var out []*ChainRecord
	for _, root := range t.state.roots {
		if root.Family != family || (library != "" && root.Library != library) {
			continue
		}
		out = append(out, t.chain(root))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root.UID < out[j].Root.UID })
	return out, nil
}

func (t *memoryTx) CreateRoot(root RootRecord) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	key := rootKey(root.Family, root.UID)
	if _, exists := t.state.roots[key]; exists {
		return ConflictError("root " + root.UID + " already exists")
	}
	t.state.roots[key] = root
	return nil
}

func (t *memoryTx) AdvanceRoot(family, uid string, expectedRevision int64, update RootUpdate) (bool, error) {
	if err := t.requireWritable(); err != nil {
		return false, err
	}
	key := rootKey(family, uid)
	root, ok := t.state.roots[key]
	if !ok {
		return false, nil
	}
	if err := RequireRevisionMatch(root.Revision, expectedRevision); err != nil {
		return false, nil
	}
	root.Revision = update.Revision
	if update.IdentityKey != "" {
		root.IdentityKey = update.IdentityKey
	}
	if update.Pointers.Latest > 0 {
		root.Pointers = update.Pointers
	}
	t.state.roots[key] = root
	return true, nil
}

func (t *memoryTx) CloseVersion(uid string, seq int, endDate time.Time) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	versions := t.state.versions[uid]
	for i := range versions {
		if versions[i].record.Seq == seq {
			end := endDate
			versions[i].record.EndDate = &end
			return nil
		}
	}
	return RequireCASSuccess(false, "close version "+uid)
}

func (t *memoryTx) InsertVersions(_ string, uid string, records []VersionRecord) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	for _, r := range records {
		if _, ok := t.state.values[r.ValueHash]; !ok {
			t.state.values[r.ValueHash] = r.Payload
		}
		r.Payload = nil
		t.state.versions[uid] = append(t.state.versions[uid], memoryVersion{record: r})
	}
	return nil
}

func (t *memoryTx) SyncRelations(uid string, refs []domainagg.Reference) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	if len(refs) == 0 {
		delete(t.state.relations, uid)
		return nil
	}
	t.state.relations[uid] = dedupeReferences(refs)
	return nil
}

func (t *memoryTx) DeleteChain(family, uid string) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	hashes := map[string]struct{}{}
	for _, v := range t.state.versions[uid] {
		hashes[v.record.ValueHash] = struct{}{}
	}
	delete(t.state.roots, rootKey(family, uid))
	delete(t.state.versions, uid)
	delete(t.state.relations, uid)
	for _, versions := range t.state.versions {
		for _, v := range versions {
			delete(hashes, v.record.ValueHash)
		}
	}
	for h := range hashes {
		delete(t.state.values, h)
	}
	return nil
}

func (t *memoryTx) ExistsByIdentity(family, identityKey, excludeUID string) (bool, error) {
	uid, err := t.findIdentity(family, identityKey, excludeUID)
	return uid != "", err
}

func (t *memoryTx) findIdentity(family, identityKey, excludeUID string) (string, error) {
	if identityKey == "" {
		return "", nil
	}
	for _, root := range t.state.roots {
		if root.Family == family && root.IdentityKey == identityKey && root.UID != excludeUID {
			return root.UID, nil
		}
	}
	return "", nil
}

func (t *memoryTx) Relations(uid string) ([]domainagg.Reference, error) {
	refs := t.state.relations[uid]
	out := make([]domainagg.Reference, len(refs))
	copy(out, refs)
	return out, nil
}

// ValueCount reports how many distinct content records are stored.
func (m *MemoryStore) ValueCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.values)
}

func dedupeReferences(refs []domainagg.Reference) []domainagg.Reference {
	seen := map[domainagg.Reference]struct{}{}
	out := make([]domainagg.Reference, 0, len(refs))
	for _, r := range refs {
		r.Type = strings.TrimSpace(r.Type)
		r.TargetUID = strings.TrimSpace(r.TargetUID)
		if r.Type == "" || r.TargetUID == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].TargetUID < out[j].TargetUID
	})
	return out
}
