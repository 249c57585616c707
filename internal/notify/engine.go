// Package notify turns registry events and periodic transcript scans into
// desktop notifications and notification_fired broadcasts. Emission is gated
// by user settings, per-category cooldowns, and per-session threshold
// tracking; nothing in here ever fails a caller.
package notify

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jacques-dev/jacques/internal/config"
	"github.com/jacques-dev/jacques/internal/session"
)

// Priority of a fired notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Item is one fired notification.
type Item struct {
	ID        string   `json:"id"`
	Category  string   `json:"category"`
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Priority  Priority `json:"priority"`
	Timestamp int64    `json:"timestamp"`
	SessionID string   `json:"sessionId,omitempty"`
}

// maxHistory bounds the in-memory notification history.
const maxHistory = 100

// cooldown returns the per-category repeat suppression window.
func cooldown(category string) time.Duration {
	switch category {
	case config.CategoryContext:
		return 2 * time.Minute
	case config.CategoryOperation:
		return 10 * time.Minute
	case config.CategoryPlan:
		return 1 * time.Minute
	default: // auto-compact, handoff, bug-alert
		return 5 * time.Minute
	}
}

// Settings supplies the current notification settings. Satisfied by
// config.UserStore.
type Settings interface {
	Notifications() config.NotificationSettings
}

// Engine is the notification pipeline. One instance per daemon.
type Engine struct {
	settings  Settings
	broadcast func(Item) // notification_fired fan-out, may be nil
	desktop   func(title, body string) error

	cooldowns *gocache.Cache // "(category)|(key)" -> fired marker

	mu      sync.Mutex
	history []Item
	// Per-session context tracking: thresholds already fired and the last
	// observed percentage, for upward-crossing detection.
	fired   map[string]map[int]bool
	lastPct map[string]float64
	scans   map[string]*scanState
}

// New creates an engine. broadcast receives every fired item for WS fan-out.
func New(settings Settings, broadcast func(Item)) *Engine {
	return &Engine{
		settings:  settings,
		broadcast: broadcast,
		desktop: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
		cooldowns: gocache.New(5*time.Minute, 10*time.Minute),
		fired:     make(map[string]map[int]bool),
		lastPct:   make(map[string]float64),
		scans:     make(map[string]*scanState),
	}
}

// SetDesktopFunc overrides desktop delivery. Test hook.
func (e *Engine) SetDesktopFunc(fn func(title, body string) error) {
	e.desktop = fn
}

// HandleEvent processes one registry event.
func (e *Engine) HandleEvent(ev session.Event) {
	if ev.Session == nil {
		return
	}
	switch ev.Type {
	case session.EventContextUpdate:
		e.handleContextUpdate(ev.Session)
	case session.EventOperation:
		e.handleOperation(ev.Session, ev.Tokens)
	case session.EventHandoffReady:
		e.handleHandoff(ev.Session)
	case session.EventEnded:
		e.forget(ev.Session.ID)
	}
}

// Run consumes registry events until the channel closes.
func (e *Engine) Run(events <-chan session.Event) {
	for ev := range events {
		e.HandleEvent(ev)
	}
}

// handleContextUpdate fires context notifications on upward threshold
// crossings. Each threshold fires at most once per session lifetime; a dip
// below and back up does not refire.
func (e *Engine) handleContextUpdate(s *session.Session) {
	pct := s.Context.UsedPercentage

	e.mu.Lock()
	prev, seen := e.lastPct[s.ID]
	e.lastPct[s.ID] = pct
	if !seen {
		prev = 0
	}
	ns := e.settings.Notifications()
	var crossed []int
	for _, t := range ns.ContextThresholds {
		th := float64(t)
		if prev < th && pct >= th && !e.fired[s.ID][t] {
			if e.fired[s.ID] == nil {
				e.fired[s.ID] = make(map[int]bool)
			}
			e.fired[s.ID][t] = true
			crossed = append(crossed, t)
		}
	}
	e.mu.Unlock()

	for _, t := range crossed {
		prio := PriorityMedium
		if t >= 90 {
			prio = PriorityHigh
		}
		e.fire(Item{
			Category:  config.CategoryContext,
			Title:     fmt.Sprintf("Context at %d%%", t),
			Body:      fmt.Sprintf("%s is at %.0f%% of its context window", s.Project, pct),
			Priority:  prio,
			SessionID: s.ID,
		}, fmt.Sprintf("%s:%d", s.ID, t))
	}

	if s.AutoCompact.Enabled && s.AutoCompact.ThresholdPercent > 0 &&
		pct >= s.AutoCompact.ThresholdPercent {
		e.fire(Item{
			Category:  config.CategoryAutoCompact,
			Title:     "Auto-compact imminent",
			Body:      fmt.Sprintf("%s will compact at %.0f%%", s.Project, s.AutoCompact.ThresholdPercent),
			Priority:  PriorityHigh,
			SessionID: s.ID,
		}, s.ID)
	}
}

func (e *Engine) handleOperation(s *session.Session, tokens int) {
	ns := e.settings.Notifications()
	if ns.LargeOperationThreshold > 0 && tokens < ns.LargeOperationThreshold {
		return
	}
	e.fire(Item{
		Category:  config.CategoryOperation,
		Title:     "Large operation finished",
		Body:      fmt.Sprintf("%s completed an operation of %d tokens", s.Project, tokens),
		Priority:  PriorityLow,
		SessionID: s.ID,
	}, s.ID)
}

func (e *Engine) handleHandoff(s *session.Session) {
	e.fire(Item{
		Category:  config.CategoryHandoff,
		Title:     "Handoff ready",
		Body:      fmt.Sprintf("%s produced a handoff document", s.Project),
		Priority:  PriorityMedium,
		SessionID: s.ID,
	}, s.ID)
}

// forget drops per-session tracking when a session ends.
func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.fired, id)
	delete(e.lastPct, id)
	delete(e.scans, id)
	e.mu.Unlock()
}

// fire emits item if settings and the cooldown allow it. key deduplicates
// within the category cooldown window.
func (e *Engine) fire(item Item, key string) {
	ns := e.settings.Notifications()
	if !ns.Enabled || !ns.Categories[item.Category] {
		return
	}

	cdKey := item.Category + "|" + key
	if _, onCooldown := e.cooldowns.Get(cdKey); onCooldown {
		return
	}
	e.cooldowns.Set(cdKey, time.Now(), cooldown(item.Category))

	item.ID = uuid.NewString()
	item.Timestamp = time.Now().UnixMilli()

	e.mu.Lock()
	e.history = append(e.history, item)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
	e.mu.Unlock()

	if err := e.desktop(item.Title, item.Body); err != nil {
		log.Printf("[notify] desktop notification failed: %v", err)
	}
	if e.broadcast != nil {
		e.broadcast(item)
	}
	log.Printf("[notify] fired %s: %s", item.Category, item.Title)
}

// History returns fired items, oldest first.
func (e *Engine) History() []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Item(nil), e.history...)
}
