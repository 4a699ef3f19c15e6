package registry

import (
	"testing"
)

// fakeTransport is a minimal Transport for registry tests.
type fakeTransport struct {
	id string
}

func (f *fakeTransport) WriteMessage(data []byte) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	ta := &fakeTransport{id: "a"}

	r.Register("user-a", ta)

	if got := r.Lookup("user-a"); got != ta {
		t.Fatalf("Lookup returned %v, want the registered transport", got)
	}
	if !r.Connected("user-a") {
		t.Error("Connected should be true after Register")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestRegister_LastWriterWins(t *testing.T) {
	r := New()
	old := &fakeTransport{id: "old"}
	fresh := &fakeTransport{id: "fresh"}

	r.Register("user-a", old)
	r.Register("user-a", fresh)

	if got := r.Lookup("user-a"); got != fresh {
		t.Fatalf("Lookup returned the stale transport after re-register")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1 (at most one entry per user)", r.Count())
	}
}

func TestUnregister_AbsentIsNoop(t *testing.T) {
	r := New()
	r.Unregister("ghost") // must not panic

	r.Register("user-a", &fakeTransport{})
	r.Unregister("user-a")
	if r.Lookup("user-a") != nil {
		t.Error("Lookup should return nil after Unregister")
	}
	r.Unregister("user-a") // second remove is a no-op
	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}
}

func TestEach_RegistrationOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		r.Register(id, &fakeTransport{id: id})
	}

	var seen []string
	r.Each(func(userID string, _ Transport) bool {
		seen = append(seen, userID)
		return true
	})

	want := []string{"c", "a", "b"}
	if len(seen) != len(want) {
		t.Fatalf("saw %d users, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("iteration[%d] = %q, want %q (registration order)", i, seen[i], want[i])
		}
	}
}

func TestEach_ReRegisterMovesToBack(t *testing.T) {
	r := New()
	r.Register("a", &fakeTransport{})
	r.Register("b", &fakeTransport{})
	r.Register("a", &fakeTransport{}) // reconnect

	var seen []string
	r.Each(func(userID string, _ Transport) bool {
		seen = append(seen, userID)
		return true
	})

	if len(seen) != 2 || seen[0] != "b" || seen[1] != "a" {
		t.Errorf("iteration order = %v, want [b a]", seen)
	}
}

func TestEach_EarlyStop(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b", "c"} {
		r.Register(id, &fakeTransport{})
	}

	count := 0
	r.Each(func(string, Transport) bool {
		count++
		return false
	})
	if count != 1 {
		t.Errorf("Each visited %d entries after early stop, want 1", count)
	}
}
