package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/clinical-mdr/internal/data/aggregates"
	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
	"github.com/yungbote/clinical-mdr/internal/platform/neo4jdb"
)

// Neo4jChainStore keeps version chains as a graph:
//
//	(:VersionRoot)-[:HAS_VERSION {seq, major, minor, status, ...}]->(:VersionValue)
//	(:VersionRoot)-[:LATEST|LATEST_DRAFT|LATEST_FINAL|LATEST_RETIRED]->(:VersionValue)
//	(:VersionRoot)-[:HAS_REFERENCE {type}]->(:ReferencedItem)
//
// Timestamps are RFC3339Nano strings; an open record has end_date "".
type Neo4jChainStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewNeo4jChainStore(client *neo4jdb.Client, log *logger.Logger) *Neo4jChainStore {
	return &Neo4jChainStore{client: client, log: log.With("store", "Neo4jChainStore")}
}

// EnsureSchema creates the uniqueness constraints the store relies on.
func (s *Neo4jChainStore) EnsureSchema(ctx context.Context) error {
	if s.client == nil || s.client.Driver == nil {
		return fmt.Errorf("neo4j chain store: client not configured")
	}
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT mdr_library_name_unique IF NOT EXISTS FOR (l:Library) REQUIRE l.name IS UNIQUE`,
		`CREATE CONSTRAINT mdr_version_root_uid_unique IF NOT EXISTS FOR (r:VersionRoot) REQUIRE r.uid IS UNIQUE`,
		`CREATE CONSTRAINT mdr_version_value_hash_unique IF NOT EXISTS FOR (v:VersionValue) REQUIRE v.hash IS UNIQUE`,
		`CREATE CONSTRAINT mdr_referenced_item_uid_unique IF NOT EXISTS FOR (t:ReferencedItem) REQUIRE t.uid IS UNIQUE`,
		`DROP INDEX mdr_version_root_identity IF EXISTS`,
		`CREATE CONSTRAINT mdr_version_root_identity_unique IF NOT EXISTS FOR (r:VersionRoot) REQUIRE (r.family, r.identity_key) IS UNIQUE`,
	}
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return fmt.Errorf("neo4j schema init: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("neo4j schema init: %w", err)
		}
	}
	return nil
}

func (s *Neo4jChainStore) InTx(ctx context.Context, fn func(tx aggregates.ChainTx) error) error {
	return s.run(ctx, neo4j.AccessModeWrite, fn)
}

func (s *Neo4jChainStore) View(ctx context.Context, fn func(tx aggregates.ChainTx) error) error {
	return s.run(ctx, neo4j.AccessModeRead, fn)
}

func (s *Neo4jChainStore) run(ctx context.Context, mode neo4j.AccessMode, fn func(tx aggregates.ChainTx) error) error {
	if fn == nil {
		return nil
	}
	if s.client == nil || s.client.Driver == nil {
		return domainagg.NewError(domainagg.CodeInternal, "neo4j_chain_store", "client not configured", nil)
	}
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	if err := fn(&neo4jChainTx{ctx: ctx, tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.log.Warn("neo4j rollback failed", "error", rbErr)
		}
		return err
	}
	if mode == neo4j.AccessModeRead {
		return tx.Rollback(ctx)
	}
	return tx.Commit(ctx)
}

type neo4jChainTx struct {
	ctx context.Context
	tx  neo4j.ExplicitTransaction
}

func (t *neo4jChainTx) Context() context.Context { return t.ctx }

func (t *neo4jChainTx) exec(cypher string, params map[string]any) error {
	res, err := t.tx.Run(t.ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(t.ctx)
	return err
}

func (t *neo4jChainTx) collect(cypher string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := t.tx.Run(t.ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(t.ctx)
}

func (t *neo4jChainTx) GetLibrary(name string) (domainagg.Library, error) {
	recs, err := t.collect(`
MATCH (l:Library {name: $name})
RETURN l.name AS name, coalesce(l.is_editable, false) AS is_editable
`, map[string]any{"name": strings.TrimSpace(name)})
	if err != nil {
		return domainagg.Library{}, err
	}
	if len(recs) == 0 {
		return domainagg.Library{}, domainagg.NotFound("library.get", name, "library not found")
	}
	return domainagg.Library{
		Name:       stringValue(recs[0], "name"),
		IsEditable: boolValue(recs[0], "is_editable"),
	}, nil
}

func (t *neo4jChainTx) PutLibrary(lib domainagg.Library) error {
	if strings.TrimSpace(lib.Name) == "" {
		return aggregates.ValidationError("library name is required")
	}
	return t.exec(`
MERGE (l:Library {name: $name})
SET l.is_editable = $is_editable
`, map[string]any{"name": strings.TrimSpace(lib.Name), "is_editable": lib.IsEditable})
}

const chainProjection = `
OPTIONAL MATCH (l:Library {name: r.library})
OPTIONAL MATCH (r)-[h:HAS_VERSION]->(v:VersionValue)
WITH r, l, h, v ORDER BY h.seq
RETURN r {.*} AS root,
       coalesce(l.is_editable, false) AS library_editable,
       [x IN collect(CASE WHEN h IS NULL THEN NULL ELSE h {.*, hash: v.hash, payload: v.payload} END) WHERE x IS NOT NULL] AS versions
`

func (t *neo4jChainTx) LoadChain(family, uid string, forUpdate bool) (*aggregates.ChainRecord, error) {
	params := map[string]any{"uid": uid, "family": family}
	if forUpdate {
		// Writing a property takes the node write lock until the transaction ends.
		if err := t.exec(`
MATCH (r:VersionRoot {uid: $uid, family: $family})
SET r.__write_lock__ = true
REMOVE r.__write_lock__
`, params); err != nil {
			return nil, err
		}
	}
	recs, err := t.collect(`
MATCH (r:VersionRoot {uid: $uid, family: $family})
`+chainProjection, params)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return chainFromRecord(recs[0])
}

func (t *neo4jChainTx) ListChains(family, library string) ([]*aggregates.ChainRecord, error) {
	recs, err := t.collect(`
MATCH (r:VersionRoot {family: $family})
WHERE $library = '' OR r.library = $library
WITH r ORDER BY r.uid
`+chainProjection+`
ORDER BY root.uid
`, map[string]any{"family": family, "library": library})
	if err != nil {
		return nil, err
	}
	out := make([]*aggregates.ChainRecord, 0, len(recs))
	for _, rec := range recs {
		chain, err := chainFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, chain)
	}
	return out, nil
}

func (t *neo4jChainTx) CreateRoot(root aggregates.RootRecord) error {
	return t.exec(`
CREATE (r:VersionRoot {
  uid: $uid,
  family: $family,
  library: $library,
  identity_key: $identity_key,
  revision: $revision,
  latest_seq: $latest,
  latest_draft_seq: $latest_draft,
  latest_final_seq: $latest_final,
  latest_retired_seq: $latest_retired
})
`, map[string]any{
		"uid":            root.UID,
		"family":         root.Family,
		"library":        root.Library,
		"identity_key":   nullIfEmpty(root.IdentityKey),
		"revision":       root.Revision,
		"latest":         int64(root.Pointers.Latest),
		"latest_draft":   int64(root.Pointers.LatestDraft),
		"latest_final":   int64(root.Pointers.LatestFinal),
		"latest_retired": int64(root.Pointers.LatestRetired),
	})
}

func (t *neo4jChainTx) AdvanceRoot(family, uid string, expectedRevision int64, update aggregates.RootUpdate) (bool, error) {
	recs, err := t.collect(`
MATCH (r:VersionRoot {uid: $uid, family: $family})
WHERE r.revision = $expected
SET r.revision = $revision,
    r.identity_key = CASE WHEN $identity_key = '' THEN r.identity_key ELSE $identity_key END,
    r.latest_seq = CASE WHEN $latest > 0 THEN $latest ELSE r.latest_seq END,
    r.latest_draft_seq = CASE WHEN $latest > 0 THEN $latest_draft ELSE r.latest_draft_seq END,
    r.latest_final_seq = CASE WHEN $latest > 0 THEN $latest_final ELSE r.latest_final_seq END,
    r.latest_retired_seq = CASE WHEN $latest > 0 THEN $latest_retired ELSE r.latest_retired_seq END
RETURN count(r) AS n
`, map[string]any{
		"uid":            uid,
		"family":         family,
		"expected":       expectedRevision,
		"revision":       update.Revision,
		"identity_key":   update.IdentityKey,
		"latest":         int64(update.Pointers.Latest),
		"latest_draft":   int64(update.Pointers.LatestDraft),
		"latest_final":   int64(update.Pointers.LatestFinal),
		"latest_retired": int64(update.Pointers.LatestRetired),
	})
	if err != nil {
		return false, err
	}
	return len(recs) > 0 && intValue(recs[0], "n") > 0, nil
}

func (t *neo4jChainTx) CloseVersion(uid string, seq int, endDate time.Time) error {
	recs, err := t.collect(`
MATCH (:VersionRoot {uid: $uid})-[h:HAS_VERSION {seq: $seq}]->()
WHERE h.end_date = ''
SET h.end_date = $end_date
RETURN count(h) AS n
`, map[string]any{"uid": uid, "seq": int64(seq), "end_date": formatTime(endDate)})
	if err != nil {
		return err
	}
	return aggregates.RequireCASSuccess(len(recs) > 0 && intValue(recs[0], "n") > 0, "close version "+uid)
}

var pointerRels = []struct{ rel, prop string }{
	{"LATEST", "latest_seq"},
	{"LATEST_DRAFT", "latest_draft_seq"},
	{"LATEST_FINAL", "latest_final_seq"},
	{"LATEST_RETIRED", "latest_retired_seq"},
}

func (t *neo4jChainTx) InsertVersions(family, uid string, records []aggregates.VersionRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		end := ""
		if r.EndDate != nil {
			end = formatTime(*r.EndDate)
		}
		rows = append(rows, map[string]any{
			"seq":                int64(r.Seq),
			"major":              int64(r.Major),
			"minor":              int64(r.Minor),
			"status":             r.Status,
			"start_date":         formatTime(r.StartDate),
			"end_date":           end,
			"author_id":          r.AuthorID,
			"change_description": r.ChangeDescription,
			"hash":               r.ValueHash,
			"payload":            string(r.Payload),
		})
	}
	if err := t.exec(`
MATCH (r:VersionRoot {uid: $uid})
UNWIND $rows AS row
MERGE (v:VersionValue {hash: row.hash})
  ON CREATE SET v.family = $family, v.payload = row.payload
CREATE (r)-[:HAS_VERSION {
  seq: row.seq,
  major: row.major,
  minor: row.minor,
  status: row.status,
  start_date: row.start_date,
  end_date: row.end_date,
  author_id: row.author_id,
  change_description: row.change_description
}]->(v)
`, map[string]any{"uid": uid, "family": family, "rows": rows}); err != nil {
		return err
	}
	return t.refreshPointers(uid)
}

func (t *neo4jChainTx) refreshPointers(uid string) error {
	params := map[string]any{"uid": uid}
	if err := t.exec(`
MATCH (r:VersionRoot {uid: $uid})-[p:LATEST|LATEST_DRAFT|LATEST_FINAL|LATEST_RETIRED]->()
DELETE p
`, params); err != nil {
		return err
	}
	for _, p := range pointerRels {
		q := fmt.Sprintf(`
MATCH (r:VersionRoot {uid: $uid})-[h:HAS_VERSION]->(v:VersionValue)
WHERE h.seq = r.%s
CREATE (r)-[:%s {seq: h.seq}]->(v)
`, p.prop, p.rel)
		if err := t.exec(q, params); err != nil {
			return err
		}
	}
	return nil
}

func (t *neo4jChainTx) SyncRelations(uid string, refs []domainagg.Reference) error {
	want := make([]map[string]any, 0, len(refs))
	seen := map[domainagg.Reference]struct{}{}
	for _, r := range refs {
		r.Type, r.TargetUID = strings.TrimSpace(r.Type), strings.TrimSpace(r.TargetUID)
		if r.Type == "" || r.TargetUID == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		want = append(want, map[string]any{"type": r.Type, "target": r.TargetUID})
	}
	params := map[string]any{"uid": uid, "refs": want}
	if err := t.exec(`
MATCH (r:VersionRoot {uid: $uid})-[x:HAS_REFERENCE]->(t:ReferencedItem)
WHERE NOT {type: x.type, target: t.uid} IN $refs
DELETE x
`, params); err != nil {
		return err
	}
	if len(want) == 0 {
		return nil
	}
	return t.exec(`
MATCH (r:VersionRoot {uid: $uid})
UNWIND $refs AS ref
MERGE (t:ReferencedItem {uid: ref.target})
MERGE (r)-[:HAS_REFERENCE {type: ref.type}]->(t)
`, params)
}

func (t *neo4jChainTx) DeleteChain(family, uid string) error {
	return t.exec(`
MATCH (r:VersionRoot {uid: $uid, family: $family})
OPTIONAL MATCH (r)-[:HAS_VERSION]->(v:VersionValue)
WITH r, collect(DISTINCT v) AS values
DETACH DELETE r
WITH values
UNWIND values AS v
WITH v
WHERE NOT ()-[:HAS_VERSION]->(v)
DETACH DELETE v
`, map[string]any{"uid": uid, "family": family})
}

func (t *neo4jChainTx) ExistsByIdentity(family, identityKey, excludeUID string) (bool, error) {
	uid, err := t.findIdentity(family, identityKey, excludeUID)
	return uid != "", err
}

func (t *neo4jChainTx) findIdentity(family, identityKey, excludeUID string) (string, error) {
	if identityKey == "" {
		return "", nil
	}
	recs, err := t.collect(`
MATCH (r:VersionRoot {family: $family, identity_key: $identity_key})
WHERE r.uid <> $exclude
RETURN r.uid AS uid
ORDER BY uid
LIMIT 1
`, map[string]any{"family": family, "identity_key": identityKey, "exclude": excludeUID})
	if err != nil || len(recs) == 0 {
		return "", err
	}
	return stringValue(recs[0], "uid"), nil
}

func (t *neo4jChainTx) Relations(uid string) ([]domainagg.Reference, error) {
	recs, err := t.collect(`
MATCH (:VersionRoot {uid: $uid})-[x:HAS_REFERENCE]->(t:ReferencedItem)
RETURN x.type AS type, t.uid AS target
ORDER BY type, target
`, map[string]any{"uid": uid})
	if err != nil {
		return nil, err
	}
	out := make([]domainagg.Reference, 0, len(recs))
	for _, rec := range recs {
		out = append(out, domainagg.Reference{Type: stringValue(rec, "type"), TargetUID: stringValue(rec, "target")})
	}
	return out, nil
}

func chainFromRecord(rec *neo4j.Record) (*aggregates.ChainRecord, error) {
	rootRaw, _ := rec.Get("root")
	root, _ := rootRaw.(map[string]any)
	if root == nil {
		return nil, fmt.Errorf("neo4j chain: missing root")
	}
	out := &aggregates.ChainRecord{
		Root: aggregates.RootRecord{
			UID:         mapString(root, "uid"),
			Family:      mapString(root, "family"),
			Library:     mapString(root, "library"),
			IdentityKey: mapString(root, "identity_key"),
			Revision:    mapInt(root, "revision"),
			Pointers: aggregates.HeadPointers{
				Latest:        int(mapInt(root, "latest_seq")),
				LatestDraft:   int(mapInt(root, "latest_draft_seq")),
				LatestFinal:   int(mapInt(root, "latest_final_seq")),
				LatestRetired: int(mapInt(root, "latest_retired_seq")),
			},
		},
	}
	out.Library = domainagg.Library{Name: out.Root.Library, IsEditable: boolValue(rec, "library_editable")}

	versionsRaw, _ := rec.Get("versions")
	items, _ := versionsRaw.([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		start, err := parseTime(mapString(m, "start_date"))
		if err != nil {
			return nil, fmt.Errorf("neo4j chain %s: start_date: %w", out.Root.UID, err)
		}
		var end *time.Time
		if raw := mapString(m, "end_date"); raw != "" {
			e, err := parseTime(raw)
			if err != nil {
				return nil, fmt.Errorf("neo4j chain %s: end_date: %w", out.Root.UID, err)
			}
			end = &e
		}
		out.Versions = append(out.Versions, aggregates.VersionRecord{
			Seq:               int(mapInt(m, "seq")),
			Major:             int(mapInt(m, "major")),
			Minor:             int(mapInt(m, "minor")),
			Status:            mapString(m, "status"),
			StartDate:         start,
			EndDate:           end,
			AuthorID:          mapString(m, "author_id"),
			ChangeDescription: mapString(m, "change_description"),
			ValueHash:         mapString(m, "hash"),
			Payload:           []byte(mapString(m, "payload")),
		})
	}
	return out, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(raw string) (time.Time, error) { return time.Parse(time.RFC3339Nano, raw) }

func stringValue(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func boolValue(rec *neo4j.Record, key string) bool {
	v, _ := rec.Get(key)
	b, _ := v.(bool)
	return b
}

func intValue(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	n, _ := v.(int64)
	return n
}

// nullIfEmpty leaves the property unset so the identity constraint skips it.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func mapString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func mapInt(m map[string]any, key string) int64 {
	n, _ := m[key].(int64)
	return n
}
