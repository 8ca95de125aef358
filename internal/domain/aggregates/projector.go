package aggregates

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// AuditTrail answers point-in-time questions about a version chain.
type AuditTrail[C any] struct {
	chain []Entry[C]
}

// NewAuditTrail projects a chain read straight from storage.
func NewAuditTrail[C any](entries []Entry[C]) AuditTrail[C] {
	chain := make([]Entry[C], len(entries))
	copy(chain, entries)
	sort.SliceStable(chain, func(i, j int) bool { return lessEntry(chain[i].Meta, chain[j].Meta) })
	return AuditTrail[C]{chain: chain}
}

func (p AuditTrail[C]) Len() int { return len(p.chain) }

// CurrentState returns the record without an end date.
func (p AuditTrail[C]) CurrentState() (Entry[C], bool) {
	for i := len(p.chain) - 1; i >= 0; i-- {
		if p.chain[i].Meta.IsOpen() {
			return p.chain[i], true
		}
	}
	var zero Entry[C]
	return zero, false
}

func (p AuditTrail[C]) HasOpenDraft() bool {
	cur, ok := p.CurrentState()
	return ok && cur.Meta.Status == StatusDraft
}

// AsOfTime returns the record whose [start, end) interval contains t.
func (p AuditTrail[C]) AsOfTime(t time.Time) (Entry[C], bool) {
	for i := len(p.chain) - 1; i >= 0; i-- {
		if p.chain[i].Meta.Covers(t) {
			return p.chain[i], true
		}
	}
	var zero Entry[C]
	return zero, false
}

// AsOfVersion returns the most recent record carrying exactly v.
func (p AuditTrail[C]) AsOfVersion(v Version) (Entry[C], bool) {
	for i := len(p.chain) - 1; i >= 0; i-- {
		if p.chain[i].Meta.Version() == v {
			return p.chain[i], true
		}
	}
	var zero Entry[C]
	return zero, false
}

// AsOfStatus returns the most recent record with the given status.
func (p AuditTrail[C]) AsOfStatus(s Status) (Entry[C], bool) {
	for i := len(p.chain) - 1; i >= 0; i-- {
		if p.chain[i].Meta.Status == s {
			return p.chain[i], true
		}
	}
	var zero Entry[C]
	return zero, false
}

// History lists records most recent first.
func (p AuditTrail[C]) History() []Entry[C] {
	out := make([]Entry[C], 0, len(p.chain))
	for i := len(p.chain) - 1; i >= 0; i-- {
		out = append(out, p.chain[i])
	}
	return out
}

// Diff lists the top-level fields whose encoded value differs between two
// content snapshots. Both arguments must encode to JSON objects; the result is sorted.
func Diff(prev, cur []byte) ([]string, error) {
	var a, b map[string]json.RawMessage
	if len(prev) > 0 {
		if err := json.Unmarshal(prev, &a); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(cur, &b); err != nil {
		return nil, err
	}
	changed := []string{}
	for k, v := range b {
		if old, ok := a[k]; !ok || !sameJSON(old, v) {
			changed = append(changed, k)
		}
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func sameJSON(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// StatusCounts tallies items per status.
type StatusCounts struct {
	Draft   int `json:"draft"`
	Final   int `json:"final"`
	Retired int `json:"retired"`
}

func (c StatusCounts) Total() int { return c.Draft + c.Final + c.Retired }

func CountStatuses(statuses ...Status) StatusCounts {
	var c StatusCounts
	for _, s := range statuses {
		switch s {
		case StatusDraft:
			c.Draft++
		case StatusFinal:
			c.Final++
		case StatusRetired:
			c.Retired++
		}
	}
	return c
}
