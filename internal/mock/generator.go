// Package mock feeds the registry synthetic sessions so the GUI can be
// developed without live assistants. Enabled by `jacquesd serve --mock`.
package mock

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/jacques-dev/jacques/internal/session"
)

const tickInterval = 2 * time.Second

var commonTools = []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob", "Task"}

// profile drives one synthetic session's behaviour.
type profile struct {
	id            string
	title         string
	cwd           string
	model         string
	display       string
	mode          string
	tokensPerTick int
	pattern       string // steady, burst, stall
	windowSize    int
	usedTokens    int
	toolIdx       int
	ended         bool
	endAtPct      float64
}

// Generator owns the mock session lifecycle.
type Generator struct {
	registry *session.Registry
	profiles []*profile
	rng      *rand.Rand
}

// New creates a generator over the registry.
func New(registry *session.Registry) *Generator {
	return &Generator{
		registry: registry,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		profiles: []*profile{
			{
				id: "mock-opus-refactor", title: "Refactor storage layer",
				cwd: "/home/user/myproject", model: "claude-opus-4-5", display: "Opus 4.5",
				mode: "acceptEdits", tokensPerTick: 1200, pattern: "steady",
				windowSize: 200000, endAtPct: 92,
			},
			{
				id: "mock-sonnet-tests", title: "Add integration tests",
				cwd: "/home/user/webapp", model: "claude-sonnet-4-5", display: "Sonnet 4.5",
				mode: "default", tokensPerTick: 3500, pattern: "burst",
				windowSize: 200000, endAtPct: 70,
			},
			{
				id: "mock-plan-review", title: "Design auth flow",
				cwd: "/home/user/authsvc", model: "claude-opus-4-5", display: "Opus 4.5",
				mode: "plan", tokensPerTick: 600, pattern: "stall",
				windowSize: 200000, endAtPct: 100,
			},
		},
	}
}

// Start registers the profiles and mutates them on a ticker until ctx ends.
func (g *Generator) Start(ctx context.Context) {
	now := time.Now()
	for _, p := range g.profiles {
		s := session.FromHook(session.HookEvent{
			Type:             session.EvSessionStart,
			SessionID:        p.id,
			Timestamp:        now.UnixMilli(),
			Source:           string(session.SourceClaudeCode),
			Title:            p.title,
			CWD:              p.cwd,
			ModelID:          p.model,
			ModelDisplayName: p.display,
			Mode:             p.mode,
			TerminalPID:      10000 + g.rng.Intn(1000),
			TerminalProgram:  "kitty",
		}, "", now)
		if _, err := g.registry.Register(s); err != nil {
			log.Printf("[mock] register %s: %v", p.id, err)
		}
	}
	log.Printf("[mock] generating %d synthetic sessions", len(g.profiles))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick()
		}
	}
}

func (g *Generator) tick() {
	for _, p := range g.profiles {
		if p.ended {
			continue
		}

		grow := p.tokensPerTick
		switch p.pattern {
		case "burst":
			if g.rng.Intn(3) == 0 {
				grow *= 4
			}
		case "stall":
			if g.rng.Intn(2) == 0 {
				grow = 0
			}
		}
		p.usedTokens += grow
		pct := float64(p.usedTokens) / float64(p.windowSize) * 100

		if pct >= p.endAtPct {
			p.ended = true
			_ = g.registry.End(p.id, "mock_complete")
			continue
		}

		_, _ = g.registry.ApplyContextUpdate(p.id, session.ContextMetrics{
			WindowSize:       p.windowSize,
			UsedTokens:       p.usedTokens,
			UsedPercentage:   pct,
			TotalInputTokens: int64(p.usedTokens),
		}, nil)

		if grow > 0 {
			tool := commonTools[p.toolIdx%len(commonTools)]
			p.toolIdx++
			_, _ = g.registry.ApplyToolEvent(p.id, session.PhaseStart, tool)
			if g.rng.Intn(2) == 0 {
				_, _ = g.registry.ApplyToolEvent(p.id, session.PhaseEnd, tool)
			}
		}
	}
}
