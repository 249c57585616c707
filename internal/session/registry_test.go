package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// recordingBroadcaster captures deltas in commit order.
type recordingBroadcaster struct {
	updates []string
	ended   []string
	focused []string
}

func (b *recordingBroadcaster) SessionUpdate(s *Session)      { b.updates = append(b.updates, s.ID) }
func (b *recordingBroadcaster) SessionEnded(id, reason string) { b.ended = append(b.ended, id+":"+reason) }
func (b *recordingBroadcaster) FocusChanged(id string)        { b.focused = append(b.focused, id) }

func newTestRegistry(t *testing.T) (*Registry, *Cleanup, *recordingBroadcaster) {
	t.Helper()
	cleanup := NewCleanup(RecentlyEndedTTL, DefaultCleanupInterval, 0)
	r := NewRegistry(cleanup)
	b := &recordingBroadcaster{}
	r.SetBroadcaster(b)
	return r, cleanup, b
}

func hookSession(id, cwd string) *Session {
	return FromHook(HookEvent{
		Type:      EvSessionStart,
		SessionID: id,
		CWD:       cwd,
		Source:    string(SourceClaudeCode),
	}, "", time.Now())
}

func TestRegisterAndGet(t *testing.T) {
	r, _, b := newTestRegistry(t)

	s, err := r.Register(hookSession("s1", "/home/u/proj"))
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if s.Status != StatusActive {
		t.Errorf("Status = %v, want active", s.Status)
	}
	if s.Project != "proj" {
		t.Errorf("Project = %q, want proj", s.Project)
	}

	got, ok := r.Get("s1")
	if !ok || got.ID != "s1" {
		t.Fatalf("Get() = (%v, %v)", got, ok)
	}
	if len(b.updates) != 1 {
		t.Errorf("broadcast count = %d, want 1", len(b.updates))
	}
}

func TestRegisterMergePreservesRichness(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	first := hookSession("s1", "/home/u/proj")
	first.Terminal.TerminalPID = 4321
	first.TerminalKey = PIDKey(4321)
	first.Title = "Original title"
	if _, err := r.Register(first); err != nil {
		t.Fatal(err)
	}
	registered, _ := r.Get("s1")

	// A later, poorer observation must not downgrade the key, erase the
	// title, or reset registered_at.
	second := hookSession("s1", "")
	second.TerminalKey = HookKey("s1")
	second.Title = ""
	second.RegisteredAt = time.Now().Add(time.Hour).UnixMilli()
	merged, err := r.Register(second)
	if err != nil {
		t.Fatal(err)
	}
	if merged.TerminalKey != PIDKey(4321) {
		t.Errorf("TerminalKey = %q, want %q", merged.TerminalKey, PIDKey(4321))
	}
	if merged.Title != "Original title" {
		t.Errorf("Title = %q, want preserved", merged.Title)
	}
	if merged.CWD != "/home/u/proj" {
		t.Errorf("CWD = %q, want preserved", merged.CWD)
	}
	if merged.RegisteredAt != registered.RegisteredAt {
		t.Errorf("RegisteredAt changed: %d -> %d", registered.RegisteredAt, merged.RegisteredAt)
	}
}

func TestRegisterRejectsRecentlyEnded(t *testing.T) {
	r, cleanup, _ := newTestRegistry(t)

	if _, err := r.Register(hookSession("s1", "/p")); err != nil {
		t.Fatal(err)
	}
	if err := r.End("s1", "hook"); err != nil {
		t.Fatal(err)
	}
	_ = cleanup

	if _, err := r.Register(hookSession("s1", "/p")); err != ErrAlreadyEnded {
		t.Errorf("Register() after End = %v, want ErrAlreadyEnded", err)
	}
}

func TestRegisterNeverResurrectsConcurrentEnd(t *testing.T) {
	// However Register and End interleave, an id that ended must not come
	// back: either Register committed first and End removed it, or End won
	// and Register was vetoed by the recently-ended set.
	for i := 0; i < 200; i++ {
		r, _, _ := newTestRegistry(t)
		if _, err := r.Register(hookSession("s1", "/p")); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_ = r.End("s1", "hook")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, _ = r.Register(hookSession("s1", "/p"))
		}()
		close(start)
		wg.Wait()

		if _, ok := r.Get("s1"); ok {
			t.Fatalf("iteration %d: session present after End", i)
		}
	}
}

func TestContextUpdateCarriesAutoCompact(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if _, err := r.Register(hookSession("s1", "/p")); err != nil {
		t.Fatal(err)
	}

	// The producer wire shape, every field included.
	var ac AutoCompact
	if err := json.Unmarshal([]byte(`{"enabled":true,"thresholdPercent":85,"bugThresholdPercent":95}`), &ac); err != nil {
		t.Fatal(err)
	}
	if ac.BugThresholdPercent != 95 {
		t.Fatalf("BugThresholdPercent = %v, want 95 (dropped on unmarshal)", ac.BugThresholdPercent)
	}

	s, err := r.ApplyContextUpdate("s1", ContextMetrics{WindowSize: 200000, UsedTokens: 100}, &ac)
	if err != nil {
		t.Fatal(err)
	}
	if s.AutoCompact != ac {
		t.Errorf("AutoCompact = %+v, want %+v", s.AutoCompact, ac)
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var wire struct {
		AutoCompact map[string]any `json:"autoCompact"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatal(err)
	}
	if wire.AutoCompact["bugThresholdPercent"] != 95.0 {
		t.Errorf("serialized autoCompact = %v, want bugThresholdPercent 95", wire.AutoCompact)
	}
}

func TestEndBroadcastsAndClearsFocus(t *testing.T) {
	r, _, b := newTestRegistry(t)
	if _, err := r.Register(hookSession("s1", "/p")); err != nil {
		t.Fatal(err)
	}
	if err := r.SetFocused("s1"); err != nil {
		t.Fatal(err)
	}

	if err := r.End("s1", "hook"); err != nil {
		t.Fatal(err)
	}
	if len(b.ended) != 1 || b.ended[0] != "s1:hook" {
		t.Errorf("ended broadcasts = %v", b.ended)
	}
	if r.GetFocused() != "" {
		t.Errorf("focus should clear when focused session ends")
	}
	if err := r.End("s1", "hook"); err != ErrNotFound {
		t.Errorf("second End = %v, want ErrNotFound", err)
	}
}

func TestToolEventStateMachine(t *testing.T) {
	steps := []struct {
		phase string
		want  Status
	}{
		{PhaseStart, StatusWorking},
		{PhaseEnd, StatusActive},
		{PhasePermission, StatusAwaiting},
		{PhaseEnd, StatusAwaiting}, // end does not resolve awaiting
		{PhaseStart, StatusWorking},
		{PhasePermission, StatusAwaiting},
	}

	r, _, _ := newTestRegistry(t)
	if _, err := r.Register(hookSession("s1", "/p")); err != nil {
		t.Fatal(err)
	}
	for i, step := range steps {
		s, err := r.ApplyToolEvent("s1", step.phase, "Bash")
		if err != nil {
			t.Fatal(err)
		}
		if s.Status != step.want {
			t.Errorf("step %d (%s): Status = %v, want %v", i, step.phase, s.Status, step.want)
		}
	}
	s, _ := r.Get("s1")
	if s.LastToolName != "Bash" {
		t.Errorf("LastToolName = %q", s.LastToolName)
	}
}

func TestContextUpdateWakesIdleSession(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if _, err := r.Register(hookSession("s1", "/p")); err != nil {
		t.Fatal(err)
	}

	// Force idle by back-dating activity.
	r.mu.Lock()
	r.sessions["s1"].LastActivity = time.Now().Add(-time.Hour).UnixMilli()
	r.mu.Unlock()
	flipped := r.MarkStatusIdle(time.Now(), 5*time.Minute)
	if len(flipped) != 1 {
		t.Fatalf("MarkStatusIdle flipped %v, want [s1]", flipped)
	}

	s, err := r.ApplyContextUpdate("s1", ContextMetrics{WindowSize: 200000, UsedTokens: 1000, UsedPercentage: 0.5}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusActive {
		t.Errorf("Status after context update = %v, want active", s.Status)
	}
	if s.Context.UsedTokens != 1000 {
		t.Errorf("Context = %+v", s.Context)
	}
}

func TestApplyToUnknownSession(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if _, err := r.ApplyContextUpdate("ghost", ContextMetrics{}, nil); err != ErrNotFound {
		t.Errorf("ApplyContextUpdate = %v, want ErrNotFound", err)
	}
	if _, err := r.ApplyToolEvent("ghost", PhaseStart, ""); err != ErrNotFound {
		t.Errorf("ApplyToolEvent = %v, want ErrNotFound", err)
	}
	if err := r.SetFocused("ghost"); err != ErrNotFound {
		t.Errorf("SetFocused = %v, want ErrNotFound", err)
	}
}

func TestListOrderedByRegistration(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	now := time.Now()
	for i, id := range []string{"c", "a", "b"} {
		s := hookSession(id, "/p")
		s.RegisteredAt = now.Add(time.Duration(i) * time.Second).UnixMilli()
		if _, err := r.Register(s); err != nil {
			t.Fatal(err)
		}
	}
	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].ID != "c" || list[1].ID != "a" || list[2].ID != "b" {
		t.Errorf("order = %s %s %s, want c a b", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestEnrichPIDUpgradesKey(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s := FromContextUpdate(HookEvent{Type: EvContextUpdate, SessionID: "u1", CWD: "/p"}, "", time.Now())
	if s.TerminalKey != AutoKey("u1") {
		t.Fatalf("TerminalKey = %q, want AUTO", s.TerminalKey)
	}
	if _, err := r.Register(s); err != nil {
		t.Fatal(err)
	}

	if err := r.EnrichPID("u1", 777); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get("u1")
	if got.TerminalKey != PIDKey(777) {
		t.Errorf("TerminalKey = %q, want %q", got.TerminalKey, PIDKey(777))
	}
	if got.PID() != 777 {
		t.Errorf("PID() = %d, want 777", got.PID())
	}
}

func TestObserverEventsNonBlocking(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	// Unbuffered channel with no reader: every emit must drop, not block.
	ch := make(chan Event)
	r.SetEvents(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := r.Register(hookSession("s1", "/p")); err != nil {
			t.Error(err)
		}
		if _, err := r.ApplyContextUpdate("s1", ContextMetrics{UsedTokens: 1}, nil); err != nil {
			t.Error(err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registry blocked on a full observer channel")
	}
}

func TestObserverEventsDelivered(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ch := make(chan Event, 16)
	r.SetEvents(ch)

	if _, err := r.Register(hookSession("s1", "/p")); err != nil {
		t.Fatal(err)
	}
	r.AnnounceOperation("s1", 60000)
	if err := r.End("s1", "hook"); err != nil {
		t.Fatal(err)
	}

	var types []EventType
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	want := []EventType{EventRegistered, EventOperation, EventEnded}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, types[i], want[i])
		}
	}
}
