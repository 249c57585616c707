package session

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound reports an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyEnded rejects registration of a recently-ended session id.
	ErrAlreadyEnded = errors.New("session recently ended")
)

// Broadcaster receives registry state changes after they commit. Calls are
// made while the registry lock is held so consumers observe deltas in commit
// order; implementations must not call back into the registry.
type Broadcaster interface {
	SessionUpdate(s *Session)
	SessionEnded(id, reason string)
	FocusChanged(id string)
}

// Registry is the single authoritative store of live sessions. Every
// mutation is serialised through its mutex, so state transitions are
// linearisable and broadcasts are issued in commit order.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	focused  string

	cleanup     *Cleanup
	broadcaster Broadcaster

	events       chan<- Event // nil disables observer emission
	dropped      int64
	lastDropLog  time.Time
}

// NewRegistry creates a registry consulting the given cleanup service for
// recently-ended rejection.
func NewRegistry(cleanup *Cleanup) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		cleanup:  cleanup,
	}
}

// SetBroadcaster wires delta fan-out. Must be called before traffic.
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster = b
}

// SetEvents configures a channel for observer events (notification engine).
// Sends are non-blocking; drops are counted and logged at most once per 10 s.
func (r *Registry) SetEvents(ch chan<- Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = ch
}

// emit sends an observer event without blocking the registry.
// Caller holds r.mu.
func (r *Registry) emit(ev Event) {
	if r.events == nil {
		return
	}
	select {
	case r.events <- ev:
	default:
		r.dropped++
		now := time.Now()
		if r.lastDropLog.IsZero() || now.Sub(r.lastDropLog) >= 10*time.Second {
			log.Printf("[registry] observer events dropped: %d (channel full)", r.dropped)
			r.dropped = 0
			r.lastDropLog = now
		}
	}
}

// Register upserts a session built by one of the factory constructors.
// Registration against a recently-ended id is rejected with ErrAlreadyEnded.
// An existing session's mutable fields are merged non-zero-wins;
// registered_at and terminal-key richness are preserved.
func (r *Registry) Register(incoming *Session) (*Session, error) {
	if incoming == nil || incoming.ID == "" {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Checked under the lock so the veto is commit-ordered with End: an End
	// that wins the lock first marks the id ended before this check runs.
	if r.cleanup != nil && r.cleanup.WasRecentlyEnded(incoming.ID) {
		return nil, ErrAlreadyEnded
	}

	existing, ok := r.sessions[incoming.ID]
	if !ok {
		s := incoming.Clone()
		r.sessions[s.ID] = s
		r.notifyUpdate(s)
		r.emit(Event{Type: EventRegistered, Session: s.Clone()})
		return s.Clone(), nil
	}

	mergeSession(existing, incoming)
	r.notifyUpdate(existing)
	r.emit(Event{Type: EventRegistered, Session: existing.Clone()})
	return existing.Clone(), nil
}

// mergeSession folds incoming into existing with a non-zero-wins policy.
func mergeSession(existing, incoming *Session) {
	if incoming.Source != "" && incoming.Source != SourceOther {
		existing.Source = incoming.Source
	}
	if incoming.Title != "" {
		existing.Title = incoming.Title
	}
	if incoming.TranscriptPath != "" {
		existing.TranscriptPath = incoming.TranscriptPath
	}
	if incoming.CWD != "" {
		existing.CWD = incoming.CWD
	}
	if incoming.Project != "" && incoming.Project != "Unknown Project" {
		existing.Project = incoming.Project
	}
	if incoming.Model.ID != "" {
		existing.Model.ID = incoming.Model.ID
	}
	if incoming.Model.DisplayName != "" {
		existing.Model.DisplayName = incoming.Model.DisplayName
	}
	mergeTerminal(&existing.Terminal, &incoming.Terminal)
	existing.TerminalKey = UpgradeKey(existing.TerminalKey, incoming.TerminalKey)
	if incoming.LastActivity > existing.LastActivity {
		existing.LastActivity = incoming.LastActivity
	}
	if incoming.Context.WindowSize > 0 || incoming.Context.UsedTokens > 0 {
		existing.Context = incoming.Context
	}
	if incoming.AutoCompact != (AutoCompact{}) {
		existing.AutoCompact = incoming.AutoCompact
	}
	if incoming.Mode != "" && incoming.Mode != ModeDefault {
		existing.Mode = incoming.Mode
	}
	if incoming.IsBypass {
		existing.IsBypass = true
	}
	if incoming.LastToolName != "" {
		existing.LastToolName = incoming.LastToolName
	}
	if incoming.GitBranch != "" {
		existing.GitBranch = incoming.GitBranch
	}
	if incoming.GitWorktree != "" {
		existing.GitWorktree = incoming.GitWorktree
	}
	if incoming.GitRepoRoot != "" {
		existing.GitRepoRoot = incoming.GitRepoRoot
	}
	// registered_at and status deliberately untouched.
}

func mergeTerminal(existing, incoming *Terminal) {
	if incoming.TTY != "" {
		existing.TTY = incoming.TTY
	}
	if incoming.TerminalPID > 0 {
		existing.TerminalPID = incoming.TerminalPID
	}
	if incoming.Program != "" {
		existing.Program = incoming.Program
	}
	if incoming.TerminalSessionID != "" {
		existing.TerminalSessionID = incoming.TerminalSessionID
	}
	if incoming.Pane != "" {
		existing.Pane = incoming.Pane
	}
	if incoming.WindowID != "" {
		existing.WindowID = incoming.WindowID
	}
}

// ApplyContextUpdate mutates a session's context metrics and touches its
// activity timestamp.
func (r *Registry) ApplyContextUpdate(id string, metrics ContextMetrics, autoCompact *AutoCompact) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.Context = metrics
	if autoCompact != nil {
		s.AutoCompact = *autoCompact
	}
	s.Touch(time.Now())
	if s.Status == StatusIdle {
		s.Status = StatusActive
	}
	r.notifyUpdate(s)
	r.emit(Event{Type: EventContextUpdate, Session: s.Clone()})
	return s.Clone(), nil
}

// ApplyToolEvent transitions the status state machine for a tool phase and
// records the tool name.
//
//	active|idle|awaiting -> working   on start
//	working              -> active    on end
//	active|working       -> awaiting  on permission
func (r *Registry) ApplyToolEvent(id, phase, toolName string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	switch phase {
	case PhaseStart:
		s.Status = StatusWorking
	case PhaseEnd:
		if s.Status == StatusWorking {
			s.Status = StatusActive
		}
	case PhasePermission:
		if s.Status == StatusActive || s.Status == StatusWorking {
			s.Status = StatusAwaiting
		}
	}
	if toolName != "" {
		s.LastToolName = toolName
	}
	s.Touch(time.Now())
	r.notifyUpdate(s)
	r.emit(Event{Type: EventToolEvent, Session: s.Clone()})
	return s.Clone(), nil
}

// ApplyPromptSubmit marks a session as working after the user submits.
func (r *Registry) ApplyPromptSubmit(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusWorking
	s.Touch(time.Now())
	r.notifyUpdate(s)
	return s.Clone(), nil
}

// End removes a session, records it in the recently-ended set, and
// broadcasts session_ended.
func (r *Registry) End(id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	if r.cleanup != nil {
		r.cleanup.MarkEnded(id, time.Now())
	}
	if r.focused == id {
		r.focused = ""
	}
	if r.broadcaster != nil {
		r.broadcaster.SessionEnded(id, reason)
	}
	r.emit(Event{Type: EventEnded, Session: s.Clone(), Reason: reason})
	log.Printf("[registry] session %s ended (%s)", id, reason)
	return nil
}

// Get returns a snapshot of one session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// List returns snapshots of all sessions ordered by registration time, then
// id for determinism.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt != out[j].RegisteredAt {
			return out[i].RegisteredAt < out[j].RegisteredAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetFocused returns the focused session id, empty when none.
func (r *Registry) GetFocused() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focused
}

// SetFocused marks one session as current for the UI.
func (r *Registry) SetFocused(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" {
		if _, ok := r.sessions[id]; !ok {
			return ErrNotFound
		}
	}
	r.focused = id
	if r.broadcaster != nil {
		r.broadcaster.FocusChanged(id)
	}
	return nil
}

// EnrichPID attaches a verified process id to a PID-less session, upgrading
// its terminal key.
func (r *Registry) EnrichPID(id string, pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Terminal.TerminalPID = pid
	s.TerminalKey = UpgradeKey(s.TerminalKey, PIDKey(pid))
	r.notifyUpdate(s)
	return nil
}

// MarkBypass promotes a session's bypass flag. Idempotent.
func (r *Registry) MarkBypass(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.IsBypass {
		return
	}
	s.IsBypass = true
	r.notifyUpdate(s)
}

// AnnounceHandoff forwards a handoff_ready event to observers.
func (r *Registry) AnnounceHandoff(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	s.Touch(time.Now())
	r.emit(Event{Type: EventHandoffReady, Session: s.Clone()})
}

// AnnounceOperation forwards an operation_complete event with its token
// count to observers.
func (r *Registry) AnnounceOperation(id string, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	s.Touch(time.Now())
	r.emit(Event{Type: EventOperation, Session: s.Clone(), Tokens: tokens})
}

// MarkStatusIdle flips stale sessions to idle. Returns the ids transitioned.
func (r *Registry) MarkStatusIdle(now time.Time, threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var flipped []string
	for _, s := range r.sessions {
		if s.Status != StatusIdle && s.IdleFor(now, threshold) {
			s.Status = StatusIdle
			r.notifyUpdate(s)
			flipped = append(flipped, s.ID)
		}
	}
	return flipped
}

// notifyUpdate broadcasts a session delta. Caller holds r.mu.
func (r *Registry) notifyUpdate(s *Session) {
	if r.broadcaster != nil {
		r.broadcaster.SessionUpdate(s.Clone())
	}
}
