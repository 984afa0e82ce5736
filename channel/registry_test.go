package channel_test

import (
	"sync"
	"testing"

	"github.com/tikaszar/playground-fabric/channel"
)

func TestRegisterSystem_ExplicitID(t *testing.T) {
	r := channel.New()
	id, err := r.RegisterSystem("render", 10)
	if err != nil {
		t.Fatalf("RegisterSystem: %v", err)
	}
	if id != 10 {
		t.Fatalf("got id %d, want 10", id)
	}
}

func TestRegisterSystem_IdempotentOnSameNameAndID(t *testing.T) {
	r := channel.New()
	id1, err := r.RegisterSystem("render", 10)
	if err != nil {
		t.Fatalf("RegisterSystem: %v", err)
	}
	id2, err := r.RegisterSystem("render", 10)
	if err != nil {
		t.Fatalf("RegisterSystem (re-register): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("re-registration changed id: %d != %d", id1, id2)
	}
}

func TestRegisterSystem_RangeViolation(t *testing.T) {
	r := channel.New()
	if _, err := r.RegisterSystem("zero", 0); err == nil {
		t.Fatal("expected error registering id 0")
	}
	if _, err := r.RegisterSystem("too-high", 1000); err == nil {
		t.Fatal("expected error registering id outside system range")
	}
}

func TestRegisterSystem_NameConflictOnDifferentID(t *testing.T) {
	r := channel.New()
	if _, err := r.RegisterSystem("render", 10); err != nil {
		t.Fatalf("RegisterSystem: %v", err)
	}
	if _, err := r.RegisterSystem("render", 11); err == nil {
		t.Fatal("expected name conflict when re-registering with a different id")
	}
}

func TestRegisterPlugin_AssignsLowestUnusedID(t *testing.T) {
	r := channel.New()
	id, err := r.RegisterPlugin("ui-framework")
	if err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}
	if id != 1000 {
		t.Fatalf("got id %d, want 1000", id)
	}
	id2, err := r.RegisterPlugin("terminal")
	if err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}
	if id2 != 1001 {
		t.Fatalf("got id %d, want 1001", id2)
	}
}

func TestRegisterPlugin_IdempotentOnName(t *testing.T) {
	r := channel.New()
	id1, _ := r.RegisterPlugin("ui-framework")
	id2, err := r.RegisterPlugin("ui-framework")
	if err != nil {
		t.Fatalf("RegisterPlugin (re-register): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("re-registration changed id: %d != %d", id1, id2)
	}
}

func TestQueryByName_MatchesRegisteredID(t *testing.T) {
	r := channel.New()
	id, _ := r.RegisterPlugin("ui-framework")
	info, ok := r.QueryByName("ui-framework")
	if !ok {
		t.Fatal("expected channel to be found")
	}
	if info.ID != id {
		t.Fatalf("got id %d, want %d", info.ID, id)
	}
}

func TestList_OrderedAscendingAfterTwoRegistrations(t *testing.T) {
	r := channel.New()
	if _, err := r.RegisterSystem("render", 10); err != nil {
		t.Fatalf("RegisterSystem: %v", err)
	}
	if _, err := r.RegisterPlugin("ui-framework"); err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}
	list := r.List()
	if len(list) != 2 {
		t.Fatalf("got %d entries, want 2", len(list))
	}
	if list[0].ID != 10 || list[0].Name != "render" || list[0].Owner != channel.OwnerSystem {
		t.Fatalf("first entry mismatch: %+v", list[0])
	}
	if list[1].ID != 1000 || list[1].Name != "ui-framework" || list[1].Owner != channel.OwnerPlugin {
		t.Fatalf("second entry mismatch: %+v", list[1])
	}
}

func TestRegisterPlugin_NeverAssignsSameIDToTwoNames(t *testing.T) {
	r := channel.New()
	var wg sync.WaitGroup
	ids := make([]uint16, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.RegisterPlugin(nameFor(i))
			if err != nil {
				t.Errorf("RegisterPlugin: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[uint16]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("id %d assigned to more than one name", id)
		}
		seen[id] = true
	}
}

func nameFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "plugin-" + string(letters[i%len(letters)]) + string(rune('0'+i/len(letters)))
}

func TestSessionChannelPool_AllocateNeverCollides(t *testing.T) {
	p := channel.NewSessionChannelPool()
	seen := make(map[uint16]bool)
	for i := 0; i < 100; i++ {
		id, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if seen[id] {
			t.Fatalf("id %d allocated twice", id)
		}
		seen[id] = true
	}
}

func TestSessionChannelPool_ReleaseAllowsReuse(t *testing.T) {
	p := channel.NewSessionChannelPool()
	id, _ := p.Allocate()
	p.Release(id)
	// Exhaust the rest of the pool to force wraparound back to id.
	for i := 0; i < 997; i++ {
		if _, err := p.Allocate(); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}
	got, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if got != id {
		t.Fatalf("got %d, want released id %d reused", got, id)
	}
}

func TestNewWithLimit_RefusesRegistrationPastCap(t *testing.T) {
	r := channel.NewWithLimit(1)
	if _, err := r.RegisterSystem("render", 10); err != nil {
		t.Fatalf("RegisterSystem: %v", err)
	}
	if _, err := r.RegisterPlugin("ui-framework"); err == nil {
		t.Fatal("expected RegisterPlugin to fail once the registry is at its cap")
	}
}
