package notify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jacques-dev/jacques/internal/config"
	"github.com/jacques-dev/jacques/internal/session"
)

func scanSession(t *testing.T, lines string) *session.Session {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sess.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return &session.Session{ID: "s1", Project: "proj", TranscriptPath: path}
}

func TestScanDetectsNewPlan(t *testing.T) {
	e, fired := newTestEngine(allOn())
	s := scanSession(t,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Implement the following plan:\n# Ship the feature\n\nsteps"}]}}`+"\n")

	e.ScanSession(s)

	if len(*fired) != 1 {
		t.Fatalf("fired = %d, want 1: %+v", len(*fired), *fired)
	}
	item := (*fired)[0]
	if item.Category != config.CategoryPlan {
		t.Errorf("category = %q, want plan", item.Category)
	}
	if item.Title != "New plan: Ship the feature" {
		t.Errorf("title = %q", item.Title)
	}
}

func TestScanDebounced(t *testing.T) {
	e, fired := newTestEngine(allOn())
	s := scanSession(t,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Implement the following plan:\n# Ship the feature\n\nsteps"}]}}`+"\n")

	e.ScanSession(s)
	// Immediate rescan is inside the debounce window and must do nothing.
	e.ScanSession(s)
	if len(*fired) != 1 {
		t.Errorf("fired = %d, want 1 (second scan debounced)", len(*fired))
	}
}

func TestScanBugAlert(t *testing.T) {
	errResult := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","is_error":true,"content":"boom"}]}}` + "\n"
	e, fired := newTestEngine(allOn())
	s := scanSession(t, errResult+errResult+errResult)

	e.ScanSession(s)

	if len(*fired) != 1 {
		t.Fatalf("fired = %d, want 1: %+v", len(*fired), *fired)
	}
	if (*fired)[0].Category != config.CategoryBugAlert {
		t.Errorf("category = %q, want bug-alert", (*fired)[0].Category)
	}
	if (*fired)[0].Priority != PriorityHigh {
		t.Errorf("priority = %q, want high", (*fired)[0].Priority)
	}
}

func TestScanBelowBugThreshold(t *testing.T) {
	errResult := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","is_error":true,"content":"boom"}]}}` + "\n"
	e, fired := newTestEngine(allOn())
	s := scanSession(t, errResult+errResult)

	e.ScanSession(s)
	if len(*fired) != 0 {
		t.Errorf("fired below threshold: %+v", *fired)
	}
}

func TestScanMissingTranscriptIsQuiet(t *testing.T) {
	e, fired := newTestEngine(allOn())
	e.ScanSession(&session.Session{ID: "s1", TranscriptPath: "/nope/missing.jsonl"})
	e.ScanSession(&session.Session{ID: "s2"}) // no transcript at all
	if len(*fired) != 0 {
		t.Errorf("fired = %+v, want none", *fired)
	}
}
