// Package aggregates persists version chains for the domain lifecycle.
//
// VersionRepository loads and saves chains through a ChainStore (memory, gorm
// or neo4j), serializes writers per uid with a Locker and rejects stale saves
// by comparing the root revision.
package aggregates
