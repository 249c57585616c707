package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jacques-dev/jacques/internal/config"
	"github.com/jacques-dev/jacques/internal/session"
	"github.com/jacques-dev/jacques/internal/transcript"
)

// scanDebounce is the minimum interval between transcript scans of one
// session.
const scanDebounce = 30 * time.Second

// DefaultScanInterval drives the periodic all-session scan loop.
const DefaultScanInterval = 30 * time.Second

// scanState tracks a session's transcript between scans. The byte offset
// advances so every transcript byte is examined exactly once.
type scanState struct {
	offset   int64
	errors   int
	plans    map[string]bool
	lastScan time.Time
}

// ScanSession re-reads a session's transcript from the last offset, counting
// tool-result errors toward a bug alert and announcing newly seen plans.
// Scans are debounced to once per 30 s per session.
func (e *Engine) ScanSession(s *session.Session) {
	if s == nil || s.TranscriptPath == "" {
		return
	}

	e.mu.Lock()
	st := e.scans[s.ID]
	if st == nil {
		st = &scanState{plans: make(map[string]bool)}
		e.scans[s.ID] = st
	}
	if time.Since(st.lastScan) < scanDebounce {
		e.mu.Unlock()
		return
	}
	st.lastScan = time.Now()
	offset := st.offset
	e.mu.Unlock()

	var fresh []transcript.Entry
	newErrors := 0
	newOffset, _, err := transcript.Scan(s.TranscriptPath, offset, func(entry transcript.Entry) bool {
		if entry.Type == transcript.EntryToolResult && entry.IsError {
			newErrors++
		}
		fresh = append(fresh, entry)
		return true
	})
	if err != nil {
		log.Printf("[notify] scan %s: %v", s.ID, err)
		return
	}

	detected := transcript.DetectModeAndPlans(fresh)

	e.mu.Lock()
	st.offset = newOffset
	st.errors += newErrors
	ns := e.settings.Notifications()
	alert := ns.BugAlertThreshold > 0 && st.errors >= ns.BugAlertThreshold
	errorCount := st.errors
	if alert {
		st.errors = 0
	}
	var newPlans []string
	for _, ref := range detected.Plans {
		if ref.Title != "" && !st.plans[ref.Title] {
			st.plans[ref.Title] = true
			newPlans = append(newPlans, ref.Title)
		}
	}
	e.mu.Unlock()

	for _, title := range newPlans {
		e.fire(Item{
			Category:  config.CategoryPlan,
			Title:     "New plan: " + title,
			Body:      fmt.Sprintf("%s produced a plan", s.Project),
			Priority:  PriorityLow,
			SessionID: s.ID,
		}, s.ID+":"+title)
	}
	if alert {
		e.fire(Item{
			Category:  config.CategoryBugAlert,
			Title:     "Repeated tool errors",
			Body:      fmt.Sprintf("%s hit %d tool errors", s.Project, errorCount),
			Priority:  PriorityHigh,
			SessionID: s.ID,
		}, s.ID)
	}
}

// RunScans scans every live session's transcript on a fixed interval until
// ctx is cancelled.
func (e *Engine) RunScans(ctx context.Context, registry *session.Registry, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range registry.List() {
				e.ScanSession(s)
			}
		}
	}
}
