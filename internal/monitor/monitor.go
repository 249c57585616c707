// Package monitor periodically verifies that every registered session still
// has a live process, enriches PID-less sessions by cross-referencing
// discovered assistant processes, and retires sessions whose process died or
// whose working directory moved to the trash.
package monitor

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jacques-dev/jacques/internal/proc"
	"github.com/jacques-dev/jacques/internal/session"
)

// Default timings. The enrich grace window gives hooks time to report a PID
// before the monitor starts guessing.
const (
	DefaultVerifyInterval  = 30 * time.Second
	DefaultIdleStatusAfter = 5 * time.Minute
	DefaultIdleRemoveAfter = 4 * time.Hour
	DefaultEnrichGrace     = 60 * time.Second
	pendingBypassTTL       = 60 * time.Second
)

// Detector is the process-introspection surface the monitor consumes.
// Stubbed in tests.
type Detector interface {
	IsProcessRunning(pid int) bool
	IsProcessBypass(pid int) bool
	GetClaudeProcesses() ([]proc.ClaudeProcess, error)
}

// SystemDetector delegates to the real process table.
type SystemDetector struct{}

func (SystemDetector) IsProcessRunning(pid int) bool { return proc.IsProcessRunning(pid) }
func (SystemDetector) IsProcessBypass(pid int) bool  { return proc.IsProcessBypass(pid) }
func (SystemDetector) GetClaudeProcesses() ([]proc.ClaudeProcess, error) {
	return proc.GetClaudeProcesses()
}

// Options tune the monitor's pass behaviour. Zero fields take defaults.
type Options struct {
	VerifyInterval  time.Duration
	IdleStatusAfter time.Duration
	IdleRemoveAfter time.Duration
	EnrichGrace     time.Duration
}

// Monitor runs verification passes over the session registry.
type Monitor struct {
	registry *session.Registry
	detector Detector
	opts     Options

	// pendingBypass remembers cwds of freshly launched skip-permissions
	// sessions so bypass shows before the command line can be probed.
	pendingBypass *gocache.Cache
}

// New creates a monitor over registry using the given detector.
func New(registry *session.Registry, detector Detector, opts Options) *Monitor {
	if opts.VerifyInterval <= 0 {
		opts.VerifyInterval = DefaultVerifyInterval
	}
	if opts.IdleStatusAfter <= 0 {
		opts.IdleStatusAfter = DefaultIdleStatusAfter
	}
	if opts.IdleRemoveAfter <= 0 {
		opts.IdleRemoveAfter = DefaultIdleRemoveAfter
	}
	if opts.EnrichGrace <= 0 {
		opts.EnrichGrace = DefaultEnrichGrace
	}
	return &Monitor{
		registry:      registry,
		detector:      detector,
		opts:          opts,
		pendingBypass: gocache.New(pendingBypassTTL, pendingBypassTTL),
	}
}

// MarkPendingBypass records that a skip-permissions session is about to
// appear in cwd. A re-mark resets the 60 s expiry.
func (m *Monitor) MarkPendingBypass(cwd string) {
	m.pendingBypass.SetDefault(proc.NormalizeCwd(cwd), time.Now())
}

// Start runs verification passes until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.opts.VerifyInterval)
	defer ticker.Stop()

	log.Printf("[monitor] started (interval=%s)", m.opts.VerifyInterval)
	m.Pass()

	for {
		select {
		case <-ctx.Done():
			log.Println("[monitor] stopped")
			return
		case <-ticker.C:
			m.Pass()
		}
	}
}

// Pass runs one verification pass. Exported so tests drive it directly.
func (m *Monitor) Pass() {
	now := time.Now()

	procs, procsErr := m.detector.GetClaudeProcesses()
	if procsErr != nil {
		// Fail-safe: when enumeration breaks we must not remove anything
		// based on absence.
		log.Printf("[monitor] process enumeration failed: %v", procsErr)
	}

	var pidless []*session.Session
	for _, s := range m.registry.List() {
		if pid := s.PID(); pid > 0 {
			if !m.detector.IsProcessRunning(pid) {
				log.Printf("[monitor] session %s process %d gone, removing", s.ID, pid)
				_ = m.registry.End(s.ID, "process_dead")
				continue
			}
		} else {
			pidless = append(pidless, s)
		}

		if cwdInTrash(s.CWD) {
			log.Printf("[monitor] session %s cwd is trashed (%s), removing", s.ID, s.CWD)
			_ = m.registry.End(s.ID, "cwd_trashed")
			continue
		}

		if s.IdleFor(now, m.opts.IdleRemoveAfter) {
			log.Printf("[monitor] session %s idle past %s, removing", s.ID, m.opts.IdleRemoveAfter)
			_ = m.registry.End(s.ID, "idle_timeout")
			continue
		}
	}

	m.registry.MarkStatusIdle(now, m.opts.IdleStatusAfter)

	if procsErr == nil {
		m.enrichPIDless(pidless, procs, now)
	}

	m.promoteBypass(procsErr == nil)
}

// enrichPIDless distributes unclaimed assistant processes to PID-less
// sessions by working directory. Sessions past the grace window with no
// candidate process in their cwd are removed.
func (m *Monitor) enrichPIDless(pidless []*session.Session, procs []proc.ClaudeProcess, now time.Time) {
	if len(pidless) == 0 {
		return
	}

	claimed := make(map[int]bool)
	for _, s := range m.registry.List() {
		if pid := s.PID(); pid > 0 {
			claimed[pid] = true
		}
	}

	// Bucket unclaimed processes by normalised cwd, ordered by PID so the
	// distribution is arbitrary but stable across passes.
	buckets := make(map[string][]proc.ClaudeProcess)
	for _, p := range procs {
		if claimed[p.PID] {
			continue
		}
		key := proc.NormalizeCwd(p.CWD)
		buckets[key] = append(buckets[key], p)
	}
	for key := range buckets {
		sort.Slice(buckets[key], func(i, j int) bool { return buckets[key][i].PID < buckets[key][j].PID })
	}

	for _, s := range pidless {
		if now.UnixMilli()-s.RegisteredAt < m.opts.EnrichGrace.Milliseconds() {
			continue // still within the hook's grace window
		}
		// The session may have been removed earlier in this pass.
		if _, ok := m.registry.Get(s.ID); !ok {
			continue
		}
		key := proc.NormalizeCwd(s.CWD)
		bucket := buckets[key]
		if len(bucket) == 0 {
			log.Printf("[monitor] session %s has no running process in %s, removing", s.ID, s.CWD)
			_ = m.registry.End(s.ID, "no_process")
			continue
		}
		p := bucket[0]
		buckets[key] = bucket[1:]
		log.Printf("[monitor] enriching session %s with pid %d", s.ID, p.PID)
		_ = m.registry.EnrichPID(s.ID, p.PID)
	}
}

// promoteBypass flips is_bypass for sessions whose process carries the
// skip-permissions flag or whose cwd was marked pending at launch.
func (m *Monitor) promoteBypass(probeCmdlines bool) {
	for _, s := range m.registry.List() {
		if s.IsBypass {
			continue
		}
		cwdKey := proc.NormalizeCwd(s.CWD)
		if _, pending := m.pendingBypass.Get(cwdKey); pending {
			m.pendingBypass.Delete(cwdKey)
			m.registry.MarkBypass(s.ID)
			continue
		}
		if probeCmdlines {
			if pid := s.PID(); pid > 0 && m.detector.IsProcessBypass(pid) {
				m.registry.MarkBypass(s.ID)
			}
		}
	}
}

// cwdInTrash reports whether a working directory sits inside an OS trash
// folder (macOS .Trash, XDG Trash).
func cwdInTrash(cwd string) bool {
	if cwd == "" {
		return false
	}
	return strings.Contains(cwd, "/.Trash/") || strings.HasSuffix(cwd, "/.Trash") ||
		strings.Contains(cwd, "/.local/share/Trash/") || strings.HasSuffix(cwd, "/.local/share/Trash")
}
