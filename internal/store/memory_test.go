package store

import (
	"sync"
	"testing"
	"time"
)

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() = nil")
	}

	// should start empty
	if len(store.GetAll()) != 0 {
		t.Errorf("GetAll() = %v items, want 0", len(store.GetAll()))
	}
}

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStore()

	rec := SessionRecord{
		ID:        "s-1",
		JobID:     "abc123",
		FileID:    "file-1",
		State:     StatePolling,
		Attempts:  2,
		StartedAt: time.Now(),
	}

	store.Update(rec)

	all := store.GetAll()
	if len(all) != 1 {
		t.Fatalf("GetAll() = %v items, want 1", len(all))
	}

	if all[0].JobID != "abc123" {
		t.Errorf("GetAll()[0].JobID = %v, want %v", all[0].JobID, "abc123")
	}
	if all[0].State != StatePolling {
		t.Errorf("GetAll()[0].State = %v, want %v", all[0].State, StatePolling)
	}
}

func TestMemoryStore_Get(t *testing.T) {
	store := NewMemoryStore()
	store.Update(SessionRecord{ID: "s-1", JobID: "abc123", State: StatePolling})

	rec, ok := store.Get("s-1")
	if !ok {
		t.Fatal("Get(s-1) ok = false, want true")
	}
	if rec.JobID != "abc123" {
		t.Errorf("Get(s-1).JobID = %v, want abc123", rec.JobID)
	}

	if _, ok := store.Get("missing"); ok {
		t.Error("Get(missing) ok = true, want false")
	}
}

func TestMemoryStore_UpdateOverwrites(t *testing.T) {
	store := NewMemoryStore()

	store.Update(SessionRecord{ID: "s-1", State: StatePolling, Attempts: 1})
	store.Update(SessionRecord{ID: "s-1", State: StateFinished, Outcome: "ready", Attempts: 3})

	all := store.GetAll()
	if len(all) != 1 {
		t.Fatalf("GetAll() = %v items, want 1", len(all))
	}

	if all[0].Outcome != "ready" {
		t.Errorf("GetAll()[0].Outcome = %v, want %v", all[0].Outcome, "ready")
	}
	if all[0].Attempts != 3 {
		t.Errorf("GetAll()[0].Attempts = %v, want %v", all[0].Attempts, 3)
	}
}

func TestMemoryStore_TerminalRecordIsNotReopened(t *testing.T) {
	tests := []struct {
		name     string
		terminal SessionRecord
	}{
		{"finished", SessionRecord{ID: "s-1", State: StateFinished, Outcome: "ready"}},
		{"cancelled", SessionRecord{ID: "s-1", State: StateCancelled}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			store.Update(tt.terminal)

			ch := store.Subscribe()
			defer store.Unsubscribe(ch)

			store.Update(SessionRecord{ID: "s-1", State: StatePolling, Attempts: 9})

			rec, _ := store.Get("s-1")
			if rec.State != tt.terminal.State {
				t.Errorf("State = %v, want %v", rec.State, tt.terminal.State)
			}

			select {
			case got := <-ch:
				t.Errorf("subscriber received ignored update %+v", got)
			default:
			}
		})
	}
}

func TestMemoryStore_GetAllOrdersByStart(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now()

	store.Update(SessionRecord{ID: "c", StartedAt: base.Add(2 * time.Second)})
	store.Update(SessionRecord{ID: "a", StartedAt: base})
	store.Update(SessionRecord{ID: "b", StartedAt: base.Add(time.Second)})

	all := store.GetAll()
	if len(all) != 3 {
		t.Fatalf("GetAll() = %v items, want 3", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].ID != want {
			t.Errorf("GetAll()[%d].ID = %v, want %v", i, all[i].ID, want)
		}
	}
}

func TestMemoryStore_Subscribe(t *testing.T) {
	store := NewMemoryStore()

	ch := store.Subscribe()
	if ch == nil {
		t.Fatal("Subscribe() = nil")
	}

	// update should send to subscriber
	go func() {
		store.Update(SessionRecord{ID: "s-1", State: StatePolling})
	}()

	select {
	case rec := <-ch:
		if rec.ID != "s-1" {
			t.Errorf("received ID = %v, want %v", rec.ID, "s-1")
		}
	case <-time.After(1 * time.Second):
		t.Error("Subscribe() channel did not receive update")
	}
}

func TestMemoryStore_MultipleSubscribers(t *testing.T) {
	store := NewMemoryStore()

	ch1 := store.Subscribe()
	ch2 := store.Subscribe()
	ch3 := store.Subscribe()

	// update should fanout to all subscribers
	go func() {
		store.Update(SessionRecord{ID: "s-1", State: StatePolling})
	}()

	received := 0
	timeout := time.After(1 * time.Second)

	for received < 3 {
		select {
		case <-ch1:
			received++
		case <-ch2:
			received++
		case <-ch3:
			received++
		case <-timeout:
			t.Fatalf("Only received %d/3 updates", received)
		}
	}
}

func TestMemoryStore_Unsubscribe(t *testing.T) {
	store := NewMemoryStore()

	ch := store.Subscribe()
	store.Unsubscribe(ch)

	// channel should be closed
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Unsubscribe() channel should be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Unsubscribe() channel should be closed immediately")
	}

	// second call is a no-op
	store.Unsubscribe(ch)
}

func TestMemoryStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	store := NewMemoryStore()

	// create a subscriber but don't read from it
	_ = store.Subscribe()

	done := make(chan bool)

	go func() {
		for i := 0; i < 200; i++ {
			store.Update(SessionRecord{ID: "s-1", State: StatePolling, Attempts: i})
		}
		done <- true
	}()

	select {
	case <-done:
		// expected - updates completed without blocking
	case <-time.After(2 * time.Second):
		t.Error("Update() blocked on slow subscriber")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	numGoroutines := 10
	numUpdates := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numUpdates; j++ {
				store.Update(SessionRecord{ID: "s-1", State: StatePolling, Attempts: j})
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numUpdates; j++ {
				_ = store.GetAll()
				_, _ = store.Get("s-1")
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := store.Subscribe()
			time.Sleep(10 * time.Millisecond)
			store.Unsubscribe(ch)
		}()
	}

	wg.Wait()
}

func TestMemoryStore_EvictsOldestTerminalPastCap(t *testing.T) {
	store := NewMemoryStore(WithMaxTerminal(3))

	store.Update(SessionRecord{ID: "running", State: StatePolling})
	for _, id := range []string{"s-1", "s-2", "s-3", "s-4", "s-5"} {
		store.Update(SessionRecord{ID: id, State: StatePolling})
		store.Update(SessionRecord{ID: id, State: StateFinished, Outcome: "ready"})
	}

	if got := store.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4 (3 terminal + 1 running)", got)
	}
	for _, id := range []string{"s-1", "s-2"} {
		if _, ok := store.Get(id); ok {
			t.Errorf("Get(%q) ok = true, want evicted", id)
		}
	}
	for _, id := range []string{"running", "s-3", "s-4", "s-5"} {
		if _, ok := store.Get(id); !ok {
			t.Errorf("Get(%q) ok = false, want kept", id)
		}
	}
}

func TestMemoryStore_TerminalUpdateCountedOnce(t *testing.T) {
	store := NewMemoryStore(WithMaxTerminal(2))

	store.Update(SessionRecord{ID: "s-1", State: StateFinished})
	store.Update(SessionRecord{ID: "s-1", State: StateFinished, Destination: "/done"})
	store.Update(SessionRecord{ID: "s-2", State: StateCancelled})

	if got := store.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	rec, ok := store.Get("s-1")
	if !ok || rec.Destination != "/done" {
		t.Errorf("Get(s-1) = %+v, %v; want updated record", rec, ok)
	}
}

func TestMemoryStore_EvictsExpiredTerminal(t *testing.T) {
	store := NewMemoryStore(WithTerminalTTL(time.Minute))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.Update(SessionRecord{ID: "old", State: StateFinished})
	store.Update(SessionRecord{ID: "running", State: StatePolling})

	now = now.Add(30 * time.Second)
	store.Update(SessionRecord{ID: "recent", State: StateCancelled})

	now = now.Add(45 * time.Second)
	all := store.GetAll()

	if len(all) != 2 {
		t.Fatalf("GetAll() = %d items, want 2", len(all))
	}
	if _, ok := store.Get("old"); ok {
		t.Error("Get(old) ok = true, want expired")
	}
	if _, ok := store.Get("recent"); !ok {
		t.Error("Get(recent) ok = false, want kept")
	}
	if _, ok := store.Get("running"); !ok {
		t.Error("Get(running) ok = false, running sessions never expire")
	}
}

func TestMemoryStore_RetentionOptionsIgnoreInvalid(t *testing.T) {
	store := NewMemoryStore(WithMaxTerminal(0), WithTerminalTTL(-time.Second))
	if store.maxTerminal != DefaultMaxTerminal {
		t.Errorf("maxTerminal = %d, want %d", store.maxTerminal, DefaultMaxTerminal)
	}
	if store.ttl != 0 {
		t.Errorf("ttl = %v, want 0", store.ttl)
	}
}
