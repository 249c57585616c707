package monitor

import (
	"testing"
	"time"

	"github.com/jacques-dev/jacques/internal/proc"
	"github.com/jacques-dev/jacques/internal/session"
)

// stubDetector fakes the process table.
type stubDetector struct {
	running map[int]bool
	bypass  map[int]bool
	procs   []proc.ClaudeProcess
	err     error
}

func (d *stubDetector) IsProcessRunning(pid int) bool { return d.running[pid] }
func (d *stubDetector) IsProcessBypass(pid int) bool  { return d.bypass[pid] }
func (d *stubDetector) GetClaudeProcesses() ([]proc.ClaudeProcess, error) {
	return d.procs, d.err
}

func newRegistry() *session.Registry {
	return session.NewRegistry(session.NewCleanup(time.Minute, time.Minute, 0))
}

func register(t *testing.T, r *session.Registry, s *session.Session) {
	t.Helper()
	if _, err := r.Register(s); err != nil {
		t.Fatal(err)
	}
}

func TestPassRemovesDeadProcessSessions(t *testing.T) {
	r := newRegistry()
	now := time.Now()

	alive := session.FromHook(session.HookEvent{SessionID: "alive", CWD: "/p", TerminalPID: 100}, "", now)
	dead := session.FromHook(session.HookEvent{SessionID: "dead", CWD: "/p", TerminalPID: 200}, "", now)
	register(t, r, alive)
	register(t, r, dead)

	det := &stubDetector{running: map[int]bool{100: true}}
	m := New(r, det, Options{})
	m.Pass()

	if _, ok := r.Get("alive"); !ok {
		t.Error("session with a live process must survive")
	}
	if _, ok := r.Get("dead"); ok {
		t.Error("session with a dead process must be removed")
	}
}

func TestPassEnrichesPIDlessSessions(t *testing.T) {
	r := newRegistry()
	now := time.Now()

	// Two PID-less sessions in the same project, past the grace window.
	for _, id := range []string{"u1", "u2"} {
		s := session.FromContextUpdate(session.HookEvent{SessionID: id, CWD: "/p"}, "", now)
		s.RegisteredAt = now.Add(-2 * time.Minute).UnixMilli()
		register(t, r, s)
	}

	det := &stubDetector{
		running: map[int]bool{111: true, 222: true},
		procs: []proc.ClaudeProcess{
			{PID: 222, CWD: "/p"},
			{PID: 111, CWD: "/p"},
		},
	}
	m := New(r, det, Options{EnrichGrace: time.Minute})
	m.Pass()

	// Both sessions must gain distinct PIDs; neither may be removed.
	s1, ok1 := r.Get("u1")
	s2, ok2 := r.Get("u2")
	if !ok1 || !ok2 {
		t.Fatalf("sessions removed: u1=%v u2=%v", ok1, ok2)
	}
	p1, p2 := s1.PID(), s2.PID()
	if p1 == 0 || p2 == 0 {
		t.Fatalf("pids not assigned: %d, %d", p1, p2)
	}
	if p1 == p2 {
		t.Errorf("both sessions claimed pid %d", p1)
	}
	if (p1 != 111 && p1 != 222) || (p2 != 111 && p2 != 222) {
		t.Errorf("unexpected pids %d, %d", p1, p2)
	}
}

func TestPassRespectsEnrichGrace(t *testing.T) {
	r := newRegistry()
	now := time.Now()

	s := session.FromContextUpdate(session.HookEvent{SessionID: "fresh", CWD: "/p"}, "", now)
	register(t, r, s)

	// No matching process, but the session is brand new: it must survive.
	det := &stubDetector{}
	m := New(r, det, Options{EnrichGrace: time.Minute})
	m.Pass()

	if _, ok := r.Get("fresh"); !ok {
		t.Error("session inside the grace window must not be removed")
	}
}

func TestPassRemovesPIDlessWithNoProcessAfterGrace(t *testing.T) {
	r := newRegistry()
	now := time.Now()

	s := session.FromContextUpdate(session.HookEvent{SessionID: "stale", CWD: "/p"}, "", now)
	s.RegisteredAt = now.Add(-2 * time.Minute).UnixMilli()
	register(t, r, s)

	det := &stubDetector{}
	m := New(r, det, Options{EnrichGrace: time.Minute})
	m.Pass()

	if _, ok := r.Get("stale"); ok {
		t.Error("PID-less session past grace with no candidate process must be removed")
	}
}

func TestPassKeepsEverythingWhenEnumerationFails(t *testing.T) {
	r := newRegistry()
	now := time.Now()

	s := session.FromContextUpdate(session.HookEvent{SessionID: "u1", CWD: "/p"}, "", now)
	s.RegisteredAt = now.Add(-time.Hour).UnixMilli()
	s.Touch(now)
	register(t, r, s)

	det := &stubDetector{err: errEnumeration}
	m := New(r, det, Options{EnrichGrace: time.Minute})
	m.Pass()

	if _, ok := r.Get("u1"); !ok {
		t.Error("enumeration failure must not cause removals based on absence")
	}
}

var errEnumeration = &enumError{}

type enumError struct{}

func (*enumError) Error() string { return "ps unavailable" }

func TestPassMarksIdleStatus(t *testing.T) {
	r := newRegistry()
	now := time.Now()

	// Building the session with an old clock back-dates its last activity.
	s := session.FromHook(session.HookEvent{SessionID: "s1", CWD: "/p", TerminalPID: 100}, "", now.Add(-10*time.Minute))
	register(t, r, s)

	det := &stubDetector{running: map[int]bool{100: true}}
	m := New(r, det, Options{IdleStatusAfter: 5 * time.Minute})
	m.Pass()

	after, _ := r.Get("s1")
	if after.Status != session.StatusIdle {
		t.Errorf("Status = %v, want idle", after.Status)
	}
}

func TestPassRemovesTrashedCwd(t *testing.T) {
	r := newRegistry()
	now := time.Now()
	s := session.FromHook(session.HookEvent{
		SessionID: "t1", CWD: "/home/u/.local/share/Trash/files/proj", TerminalPID: 100,
	}, "", now)
	register(t, r, s)

	det := &stubDetector{running: map[int]bool{100: true}}
	m := New(r, det, Options{})
	m.Pass()

	if _, ok := r.Get("t1"); ok {
		t.Error("session whose cwd moved to trash must be removed")
	}
}

func TestPromoteBypass(t *testing.T) {
	r := newRegistry()
	now := time.Now()

	byFlag := session.FromHook(session.HookEvent{SessionID: "flag", CWD: "/a", TerminalPID: 10}, "", now)
	byPending := session.FromHook(session.HookEvent{SessionID: "pending", CWD: "/b", TerminalPID: 20}, "", now)
	register(t, r, byFlag)
	register(t, r, byPending)

	det := &stubDetector{
		running: map[int]bool{10: true, 20: true},
		bypass:  map[int]bool{10: true},
	}
	m := New(r, det, Options{})
	m.MarkPendingBypass("/b")
	m.Pass()

	s1, _ := r.Get("flag")
	if !s1.IsBypass {
		t.Error("session with skip-permissions cmdline should be marked bypass")
	}
	s2, _ := r.Get("pending")
	if !s2.IsBypass {
		t.Error("session in a pending-bypass cwd should be marked bypass")
	}
}
