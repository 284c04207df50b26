package session

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/multichat/route"
)

func TestOpenAddsEntriesInOrder(t *testing.T) {
	h := newHarness(t, "10", "20", "30")
	a := h.open(t, "10")
	b := h.open(t, "20")
	c := h.open(t, "30")

	entries := h.container.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0] != Entry(a) || entries[1] != Entry(b) || entries[2] != Entry(c) {
		t.Errorf("entries out of insertion order")
	}
}

func TestOpenAlreadyOpenReturnsExisting(t *testing.T) {
	h := newHarness(t, "10")
	a := h.open(t, "10")
	b := h.open(t, "10")
	if a != b {
		t.Errorf("second open created a distinct session")
	}
	if got := len(h.container.Entries()); got != 1 {
		t.Fatalf("got %d entries, want 1", got)
	}
	if target, ok := h.router.Lookup("10"); !ok || target != route.Target(a) {
		t.Errorf("routing moved off the original session")
	}
	if !a.IsJoined() {
		t.Errorf("original session must stay joined")
	}
}

func TestOpenMergedChannelReturnsMember(t *testing.T) {
	h := newHarness(t, "10", "20")
	a := h.open(t, "10")
	b := h.open(t, "20")
	agg, err := h.container.Merge(context.Background(), []Entry{a, b})
	if err != nil {
		t.Fatalf("merge error: %v", err)
	}

	got := h.open(t, "10")
	if got != a {
		t.Errorf("open of a merged channel should return the member session")
	}
	if entries := h.container.Entries(); len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if target, ok := h.router.Lookup("10"); !ok || target != route.Target(agg) {
		t.Errorf("routing moved off the aggregate")
	}
}

func TestSelection(t *testing.T) {
	h := newHarness(t, "10", "20", "30")
	a := h.open(t, "10")
	h.open(t, "20")
	c := h.open(t, "30")

	h.container.Select(c)
	h.container.Select(a)
	sel := h.container.Selection()
	if len(sel) != 2 {
		t.Fatalf("selection size = %d, want 2", len(sel))
	}
	// Selection comes back in container order, not click order.
	if sel[0] != Entry(a) || sel[1] != Entry(c) {
		t.Errorf("selection not in container order")
	}

	h.container.Unselect(a)
	if len(h.container.Selection()) != 1 {
		t.Errorf("unselect did not shrink the selection")
	}

	h.container.SelectAll()
	if len(h.container.Selection()) != 3 {
		t.Errorf("SelectAll missed entries")
	}
	h.container.UnselectAll()
	if len(h.container.Selection()) != 0 {
		t.Errorf("UnselectAll left entries selected")
	}
}

func TestSelectUnknownEntryIgnored(t *testing.T) {
	h := newHarness(t, "10")
	s := h.open(t, "10")
	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("Leave error: %v", err)
	}
	h.container.Select(s)
	if len(h.container.Selection()) != 0 {
		t.Errorf("selecting a removed entry should be ignored")
	}
}

func TestPopOutRestore(t *testing.T) {
	h := newHarness(t, "10")
	s := h.open(t, "10")

	if h.container.IsFloating(s) {
		t.Errorf("fresh entry should be docked")
	}
	h.container.PopOut(s)
	if !h.container.IsFloating(s) {
		t.Errorf("PopOut did not float the entry")
	}
	h.container.Restore(s)
	if h.container.IsFloating(s) {
		t.Errorf("Restore did not dock the entry")
	}
}

func TestMergeRequiresTwo(t *testing.T) {
	h := newHarness(t, "10")
	s := h.open(t, "10")
	h.container.Select(s)
	if _, err := h.container.MergeSelected(context.Background()); err == nil {
		t.Errorf("merge of a single room must fail")
	}
	if _, err := h.container.Merge(context.Background(), nil); err == nil {
		t.Errorf("merge of nothing must fail")
	}
}

func TestMergeSessions(t *testing.T) {
	h := newHarness(t, "10", "20", "30")
	a := h.open(t, "10")
	b := h.open(t, "20")
	h.open(t, "30")

	h.container.Select(a)
	h.container.Select(b)
	agg, err := h.container.MergeSelected(context.Background())
	if err != nil {
		t.Fatalf("MergeSelected error: %v", err)
	}
	if agg.Size() != 2 {
		t.Fatalf("aggregate size = %d, want 2", agg.Size())
	}

	entries := h.container.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (one standalone + one aggregate)", len(entries))
	}

	// Both member channels route to the aggregate now.
	for _, id := range []string{"10", "20"} {
		target, ok := h.router.Lookup(id)
		if !ok || target != route.Target(agg) {
			t.Errorf("channel %s not routed to the aggregate", id)
		}
	}
	// The untouched session still routes to itself.
	if target, _ := h.router.Lookup("30"); target == route.Target(agg) {
		t.Errorf("unmerged channel routed to the aggregate")
	}
	// Members stay joined.
	if !a.IsJoined() || !b.IsJoined() {
		t.Errorf("merged members must remain joined")
	}
}

func TestMergeAbsorbsIntoDeterministicRepresentative(t *testing.T) {
	h := newHarness(t, "5", "6", "7", "8")
	a := h.open(t, "7")
	b := h.open(t, "8")
	c := h.open(t, "5")
	d := h.open(t, "6")

	aggHigh, err := h.container.Merge(context.Background(), []Entry{a, b})
	if err != nil {
		t.Fatalf("first merge error: %v", err)
	}
	aggLow, err := h.container.Merge(context.Background(), []Entry{c, d})
	if err != nil {
		t.Fatalf("second merge error: %v", err)
	}

	// Selection order says aggHigh first, but the representative is the
	// aggregate holding the smallest member channel id.
	merged, err := h.container.Merge(context.Background(), []Entry{aggHigh, aggLow})
	if err != nil {
		t.Fatalf("aggregate merge error: %v", err)
	}
	if merged != aggLow {
		t.Errorf("representative should be the aggregate with the smallest member id")
	}
	if merged.Size() != 4 {
		t.Errorf("merged size = %d, want 4", merged.Size())
	}
	if len(h.container.Entries()) != 1 {
		t.Errorf("absorbed aggregate still listed")
	}
	for _, id := range []string{"5", "6", "7", "8"} {
		if target, ok := h.router.Lookup(id); !ok || target != route.Target(merged) {
			t.Errorf("channel %s not re-routed to the representative", id)
		}
	}
}

func TestMergeMixedSessionAndAggregate(t *testing.T) {
	h := newHarness(t, "10", "20", "30")
	a := h.open(t, "10")
	b := h.open(t, "20")
	c := h.open(t, "30")

	agg, err := h.container.Merge(context.Background(), []Entry{a, b})
	if err != nil {
		t.Fatalf("merge error: %v", err)
	}
	merged, err := h.container.Merge(context.Background(), []Entry{agg, c})
	if err != nil {
		t.Fatalf("mixed merge error: %v", err)
	}
	if merged != agg {
		t.Errorf("existing aggregate should absorb the standalone session")
	}
	if merged.Size() != 3 {
		t.Errorf("size = %d, want 3", merged.Size())
	}
	if len(h.container.Entries()) != 1 {
		t.Errorf("standalone session still listed after being absorbed")
	}
}

func TestMergeOfOutsideEntryPanics(t *testing.T) {
	h := newHarness(t, "10", "20")
	a := h.open(t, "10")
	b := h.open(t, "20")
	if err := b.Leave(context.Background()); err != nil {
		t.Fatalf("Leave error: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on merging an entry outside the container")
		}
	}()
	_, _ = h.container.Merge(context.Background(), []Entry{a, b})
}

func TestSeparate(t *testing.T) {
	h := newHarness(t, "10", "20", "30")
	a := h.open(t, "10")
	b := h.open(t, "20")
	c := h.open(t, "30")
	agg, err := h.container.Merge(context.Background(), []Entry{a, b, c})
	if err != nil {
		t.Fatalf("merge error: %v", err)
	}

	h.container.Separate(agg, c)
	if agg.Size() != 2 {
		t.Errorf("size = %d after separate, want 2", agg.Size())
	}
	if target, ok := h.router.Lookup("30"); !ok || target != route.Target(c) {
		t.Errorf("separated channel not re-routed to its own session")
	}
	if !c.IsJoined() {
		t.Errorf("separated session must stay joined")
	}
	if len(h.container.Entries()) != 2 {
		t.Errorf("separated session not listed as standalone")
	}

	// Dropping to one member dissolves the aggregate entirely.
	h.container.Separate(agg, b)
	entries := h.container.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries after dissolve, want 3 standalone", len(entries))
	}
	for _, e := range entries {
		if _, ok := e.(*Aggregate); ok {
			t.Errorf("aggregate survived with a single member")
		}
	}
	if target, ok := h.router.Lookup("10"); !ok || target != route.Target(a) {
		t.Errorf("last member not re-routed to itself on dissolve")
	}
}

func TestSeparateNonMemberPanics(t *testing.T) {
	h := newHarness(t, "10", "20", "30")
	a := h.open(t, "10")
	b := h.open(t, "20")
	c := h.open(t, "30")
	agg, err := h.container.Merge(context.Background(), []Entry{a, b})
	if err != nil {
		t.Fatalf("merge error: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on separating a non-member")
		}
	}()
	h.container.Separate(agg, c)
}

func TestAggregateLeave(t *testing.T) {
	h := newHarness(t, "10", "20")
	a := h.open(t, "10")
	b := h.open(t, "20")
	agg, err := h.container.Merge(context.Background(), []Entry{a, b})
	if err != nil {
		t.Fatalf("merge error: %v", err)
	}

	if err := agg.Leave(context.Background()); err != nil {
		t.Fatalf("aggregate Leave error: %v", err)
	}
	if a.State() != NotJoined || b.State() != NotJoined {
		t.Errorf("members not left")
	}
	if h.api.inChat("chan10") || h.api.inChat("chan20") {
		t.Errorf("remote chats still joined")
	}
	if len(h.container.Entries()) != 0 {
		t.Errorf("aggregate entry not removed after leave")
	}
}

func TestAggregateLeaveCollectsErrors(t *testing.T) {
	h := newHarness(t, "10", "20")
	a := h.open(t, "10")
	b := h.open(t, "20")
	agg, err := h.container.Merge(context.Background(), []Entry{a, b})
	if err != nil {
		t.Fatalf("merge error: %v", err)
	}

	flake := errors.New("irc flake")
	h.api.leaveErr = flake
	err = agg.Leave(context.Background())
	if err == nil {
		t.Fatal("expected collected member failures")
	}
	if !errors.Is(err, flake) {
		t.Errorf("collected error does not wrap the member failure: %v", err)
	}
}

func TestMemberLeaveDissolvesAggregate(t *testing.T) {
	h := newHarness(t, "10", "20")
	a := h.open(t, "10")
	b := h.open(t, "20")
	if _, err := h.container.Merge(context.Background(), []Entry{a, b}); err != nil {
		t.Fatalf("merge error: %v", err)
	}

	if err := a.Leave(context.Background()); err != nil {
		t.Fatalf("member Leave error: %v", err)
	}
	entries := h.container.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (dissolved survivor)", len(entries))
	}
	if entries[0] != Entry(b) {
		t.Errorf("survivor is not the remaining session")
	}
	if target, ok := h.router.Lookup("20"); !ok || target != route.Target(b) {
		t.Errorf("survivor not re-routed to itself")
	}
	if !b.IsJoined() {
		t.Errorf("survivor must stay joined")
	}
}

func TestCloseSelected(t *testing.T) {
	h := newHarness(t, "10", "20", "30")
	a := h.open(t, "10")
	h.open(t, "20")
	c := h.open(t, "30")

	h.container.Select(a)
	h.container.Select(c)
	if err := h.container.CloseSelected(context.Background()); err != nil {
		t.Fatalf("CloseSelected error: %v", err)
	}
	entries := h.container.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if a.State() != NotJoined || c.State() != NotJoined {
		t.Errorf("selected sessions not left")
	}
}

func TestClearAll(t *testing.T) {
	h := newHarness(t, "10", "20", "30")
	a := h.open(t, "10")
	b := h.open(t, "20")
	h.open(t, "30")
	if _, err := h.container.Merge(context.Background(), []Entry{a, b}); err != nil {
		t.Fatalf("merge error: %v", err)
	}

	if err := h.container.ClearAll(context.Background()); err != nil {
		t.Fatalf("ClearAll error: %v", err)
	}
	if len(h.container.Entries()) != 0 {
		t.Errorf("entries remain after ClearAll")
	}
	if len(h.container.Selection()) != 0 {
		t.Errorf("selection remains after ClearAll")
	}
	for _, login := range []string{"chan10", "chan20", "chan30"} {
		if h.api.inChat(login) {
			t.Errorf("chat %s still joined after ClearAll", login)
		}
	}
}
