package aggregates

import (
	"testing"
	"time"
)

func buildScenario(t *testing.T) (*VersionedAggregate[string], []time.Time) {
	t.Helper()
	clock := newClock()
	a, err := NewDraft("P1", sponsor, "v0.1", "alice", stringOpts(clock, NewLibraryGate()))
	if err != nil {
		t.Fatalf("NewDraft: %v", err)
	}
	if err := a.EditDraft("v0.2", "edit", "alice"); err != nil {
		t.Fatalf("EditDraft: %v", err)
	}
	if err := a.Approve("alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := a.Inactivate("alice"); err != nil {
		t.Fatalf("Inactivate: %v", err)
	}
	starts := make([]time.Time, 0, 4)
	for _, e := range a.Chain() {
		starts = append(starts, e.Meta.StartDate)
	}
	return a, starts
}

func TestAuditTrailAsOfTime(t *testing.T) {
	a, starts := buildScenario(t)
	trail := a.AuditTrail()

	inside := starts[1].Add(30 * time.Second)
	got, ok := trail.AsOfTime(inside)
	if !ok || got.Meta.Version().String() != "0.2" || got.Value != "v0.2" {
		t.Fatalf("as of %s: got %+v ok=%v", inside, got.Meta, ok)
	}

	got, ok = trail.AsOfTime(starts[1])
	if !ok || got.Meta.Version().String() != "0.2" {
		t.Fatalf("interval start is inclusive: got %s", got.Meta.Version())
	}

	if _, ok := trail.AsOfTime(starts[0].Add(-time.Second)); ok {
		t.Fatalf("before creation must not resolve")
	}

	got, ok = trail.AsOfTime(starts[3].Add(24 * time.Hour))
	if !ok || got.Meta.Status != StatusRetired {
		t.Fatalf("after last transition: want retired, got %+v", got.Meta)
	}
}

func TestAuditTrailAsOfVersionAndStatus(t *testing.T) {
	a, _ := buildScenario(t)
	trail := a.AuditTrail()

	got, ok := trail.AsOfVersion(Version{Major: 1, Minor: 0})
	if !ok || got.Meta.Status != StatusRetired {
		t.Fatalf("1.0 resolves to the latest record: got %+v", got.Meta)
	}
	if _, ok := trail.AsOfVersion(Version{Major: 2, Minor: 0}); ok {
		t.Fatalf("2.0 must not exist")
	}

	got, ok = trail.AsOfStatus(StatusDraft)
	if !ok || got.Meta.Version().String() != "0.2" {
		t.Fatalf("latest draft: want 0.2 got %s", got.Meta.Version())
	}
	got, ok = trail.AsOfStatus(StatusFinal)
	if !ok || got.Meta.Version().String() != "1.0" {
		t.Fatalf("latest final: want 1.0 got %s", got.Meta.Version())
	}
}

func TestAuditTrailCurrentAndHistory(t *testing.T) {
	a, _ := buildScenario(t)
	trail := a.AuditTrail()

	cur, ok := trail.CurrentState()
	if !ok || cur.Meta.Status != StatusRetired || !cur.Meta.IsOpen() {
		t.Fatalf("current: %+v", cur.Meta)
	}
	if trail.HasOpenDraft() {
		t.Fatalf("retired item has no open draft")
	}

	hist := a.VersionHistory()
	if len(hist) != 4 {
		t.Fatalf("history length: want=4 got=%d", len(hist))
	}
	if hist[0].Meta.Status != StatusRetired || hist[3].Meta.Version().String() != "0.1" {
		t.Fatalf("history must be most recent first")
	}

	if err := a.CreateNewVersion("alice"); err != nil {
		t.Fatalf("CreateNewVersion: %v", err)
	}
	if !a.AuditTrail().HasOpenDraft() {
		t.Fatalf("new version opens a draft")
	}
}

func TestNewAuditTrailSortsInput(t *testing.T) {
	a, _ := buildScenario(t)
	hist := a.VersionHistory()
	trail := NewAuditTrail(hist)
	cur, ok := trail.CurrentState()
	if !ok || cur.Meta.Status != StatusRetired {
		t.Fatalf("current after re-sorting: %+v", cur.Meta)
	}
	if got := trail.History()[3].Value; got != "v0.1" {
		t.Fatalf("oldest entry: got %s", got)
	}
}

func TestCountStatuses(t *testing.T) {
	c := CountStatuses(StatusDraft, StatusFinal, StatusFinal, StatusRetired, Status("bogus"))
	if c.Draft != 1 || c.Final != 2 || c.Retired != 1 || c.Total() != 4 {
		t.Fatalf("counts: %+v", c)
	}
}

func TestDiffListsChangedTopLevelFields(t *testing.T) {
	prev := []byte(`{"name":"mg","factor":1,"terms":["a"],"gone":true}`)
	cur := []byte(`{"name":"mg", "factor":1000,"terms":["a","b"],"added":"x"}`)
	got, err := Diff(prev, cur)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	want := []string{"added", "factor", "gone", "terms"}
	if len(got) != len(want) {
		t.Fatalf("diff: want=%v got=%v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("diff: want=%v got=%v", want, got)
		}
	}
}

func TestDiffFromNothingListsEveryField(t *testing.T) {
	got, err := Diff(nil, []byte(`{"b":1,"a":2}`))
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected fields: %v", got)
	}
	if _, err := Diff(nil, []byte(`[1]`)); err == nil {
		t.Fatalf("non-object content must fail")
	}
}
