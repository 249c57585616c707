package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacques-dev/jacques/internal/transcript"
)

const planBody = "# Migrate the cache layer\n\n1. Introduce the interface\n2. Swap call sites\n"

// planTranscript returns a transcript whose assistant embeds planBody.
func planTranscript() string {
	return `{"type":"user","timestamp":"2026-08-01T10:00:00Z","message":{"role":"user","content":"please plan this"}}` + "\n" +
		`{"type":"assistant","timestamp":"2026-08-01T10:01:00Z","message":{"model":"claude-opus-4-5","usage":{"input_tokens":100,"output_tokens":10},"content":[{"type":"text","text":"Implement the following plan:\n# Migrate the cache layer\n\n1. Introduce the interface\n2. Swap call sites\n"}]}}` + "\n"
}

// testProject creates a real project dir plus its encoded transcript dir.
func testProject(t *testing.T) (ix *Indexer, projectPath string, transcriptDir string) {
	t.Helper()
	projectPath = filepath.Join(t.TempDir(), "proj")
	if err := os.MkdirAll(projectPath, 0o755); err != nil {
		t.Fatal(err)
	}
	projectsRoot := t.TempDir()
	transcriptDir = filepath.Join(projectsRoot, transcript.EncodeProjectPath(projectPath))
	if err := os.MkdirAll(transcriptDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return NewIndexer(projectsRoot, t.TempDir()), projectPath, transcriptDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExtractDeduplicatesPlansAcrossSessions(t *testing.T) {
	ix, projectPath, transcriptDir := testProject(t)

	// The same plan produced in two different sessions.
	writeFile(t, filepath.Join(transcriptDir, "sess-a.jsonl"), planTranscript())
	writeFile(t, filepath.Join(transcriptDir, "sess-b.jsonl"), planTranscript())

	idx, res, err := ix.ExtractProjectCatalog(projectPath, ExtractOptions{})
	if err != nil {
		t.Fatalf("ExtractProjectCatalog() error: %v", err)
	}
	if res.TotalSessions != 2 || res.Extracted != 2 {
		t.Errorf("result = %+v, want 2 total, 2 extracted", res)
	}

	if len(idx.Plans) != 1 {
		t.Fatalf("len(Plans) = %d, want 1 (deduplicated)", len(idx.Plans))
	}
	p := idx.Plans[0]
	if p.Title != "Migrate the cache layer" {
		t.Errorf("Title = %q", p.Title)
	}
	if len(p.Sessions) != 2 || p.Sessions[0] != "sess-a" || p.Sessions[1] != "sess-b" {
		t.Errorf("Sessions = %v, want sorted union of both", p.Sessions)
	}
	if len(idx.Sessions) != 2 {
		t.Errorf("len(Sessions) = %d, want 2", len(idx.Sessions))
	}

	// The plan body is materialised under .jacques/plans.
	planFile := filepath.Join(projectPath, JacquesDirName, "plans", p.Filename)
	if _, err := os.Stat(planFile); err != nil {
		t.Errorf("plan file not written: %v", err)
	}
}

func TestExtractIdempotent(t *testing.T) {
	ix, projectPath, transcriptDir := testProject(t)
	writeFile(t, filepath.Join(transcriptDir, "sess-a.jsonl"), planTranscript())

	first, _, err := ix.ExtractProjectCatalog(projectPath, ExtractOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := ix.ExtractProjectCatalog(projectPath, ExtractOptions{Force: true})
	if err != nil {
		t.Fatal(err)
	}

	// Plan ids derive from content, so a forced rebuild cannot mint new ones.
	if len(first.Plans) != 1 || len(second.Plans) != 1 {
		t.Fatalf("plans: first=%d second=%d, want 1 each", len(first.Plans), len(second.Plans))
	}
	if first.Plans[0].ID != second.Plans[0].ID {
		t.Errorf("plan id changed across rebuilds: %q -> %q", first.Plans[0].ID, second.Plans[0].ID)
	}
	if first.Plans[0].Filename != second.Plans[0].Filename {
		t.Errorf("filename changed: %q -> %q", first.Plans[0].Filename, second.Plans[0].Filename)
	}
}

func TestExtractSkipsFreshManifests(t *testing.T) {
	ix, projectPath, transcriptDir := testProject(t)
	path := filepath.Join(transcriptDir, "sess-a.jsonl")
	writeFile(t, path, planTranscript())

	if _, _, err := ix.ExtractProjectCatalog(projectPath, ExtractOptions{}); err != nil {
		t.Fatal(err)
	}

	// Unchanged transcript: second pass skips it entirely.
	_, res, err := ix.ExtractProjectCatalog(projectPath, ExtractOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || res.Extracted != 0 {
		t.Errorf("result = %+v, want 1 skipped, 0 extracted", res)
	}

	// Touch the transcript into the future: it becomes stale and re-extracts.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	_, res, err = ix.ExtractProjectCatalog(projectPath, ExtractOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Extracted != 1 {
		t.Errorf("result after touch = %+v, want 1 extracted", res)
	}
}

func TestExtractVersionedFilenameOnTitleCollision(t *testing.T) {
	ix, projectPath, transcriptDir := testProject(t)

	other := `{"type":"assistant","timestamp":"2026-08-02T10:00:00Z","message":{"content":[{"type":"text","text":"Implement the following plan:\n# Migrate the cache layer\n\nCompletely different steps this time\n"}]}}` + "\n"
	writeFile(t, filepath.Join(transcriptDir, "sess-a.jsonl"), planTranscript())
	writeFile(t, filepath.Join(transcriptDir, "sess-b.jsonl"), other)

	idx, _, err := ix.ExtractProjectCatalog(projectPath, ExtractOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Plans) != 2 {
		t.Fatalf("len(Plans) = %d, want 2 (same title, different content)", len(idx.Plans))
	}
	names := map[string]bool{}
	for _, p := range idx.Plans {
		names[p.Filename] = true
	}
	if !names["migrate-the-cache-layer.md"] || !names["migrate-the-cache-layer-2.md"] {
		t.Errorf("filenames = %v, want versioned pair", names)
	}
}

func TestExtractSubAgentsAndWebSearches(t *testing.T) {
	ix, projectPath, transcriptDir := testProject(t)

	lines := `{"type":"assistant","timestamp":"2026-08-01T10:00:00Z","message":{"content":[{"type":"tool_use","id":"toolu_task","name":"Task","input":{"subagent_type":"Explore","description":"Explore the codebase"}},{"type":"tool_use","id":"toolu_ws","name":"WebSearch","input":{"query":"go fsnotify debounce"}}]}}` + "\n" +
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_task","content":"found three packages"},{"type":"tool_result","tool_use_id":"toolu_ws","content":"result one\nresult two\n\nresult three"}]}}` + "\n"
	writeFile(t, filepath.Join(transcriptDir, "sess-a.jsonl"), lines)

	idx, _, err := ix.ExtractProjectCatalog(projectPath, ExtractOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.SubAgents) != 2 {
		t.Fatalf("len(SubAgents) = %d, want 2", len(idx.SubAgents))
	}

	byID := map[string]SubAgent{}
	for _, a := range idx.SubAgents {
		byID[a.ID] = a
	}
	task, ok := byID["toolu_task"]
	if !ok || task.Type != SubAgentExploration || task.Title != "Explore the codebase" {
		t.Errorf("task agent = %+v", task)
	}
	if task.TokenCost == 0 {
		t.Error("task TokenCost should estimate over the paired result")
	}
	ws, ok := byID["toolu_ws"]
	if !ok || ws.Type != SubAgentSearch {
		t.Errorf("web search agent = %+v", ws)
	}
	if ws.ResultCount == nil || *ws.ResultCount != 3 {
		t.Errorf("ResultCount = %v, want 3 non-empty lines", ws.ResultCount)
	}
}

func TestScanContextNotes(t *testing.T) {
	_, projectPath, _ := testProject(t)
	ctxDir := filepath.Join(projectPath, JacquesDirName, "context")
	if err := os.MkdirAll(ctxDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(ctxDir, "architecture.md"), "# Arch\n")
	writeFile(t, filepath.Join(ctxDir, "conventions.md"), "# Conventions\n")

	notes, err := ScanContextNotes(projectPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 {
		t.Fatalf("len(notes) = %d, want 2", len(notes))
	}
	if notes[0].Name != "architecture.md" || notes[1].Name != "conventions.md" {
		t.Errorf("order = %s, %s, want sorted by path", notes[0].Name, notes[1].Name)
	}
	if notes[0].ID == "" || notes[0].ID == notes[1].ID {
		t.Errorf("ids must be stable and distinct: %q %q", notes[0].ID, notes[1].ID)
	}

	// Rescan yields the same ids.
	again, err := ScanContextNotes(projectPath)
	if err != nil {
		t.Fatal(err)
	}
	if again[0].ID != notes[0].ID {
		t.Errorf("id changed across rescans: %q -> %q", notes[0].ID, again[0].ID)
	}
}

func TestContentHashCanonicalises(t *testing.T) {
	base := ContentHash("# Plan\n\nstep one\nstep two")
	tests := []struct {
		name string
		body string
	}{
		{"crlf line endings", "# Plan\r\n\r\nstep one\r\nstep two"},
		{"trailing spaces", "# Plan  \n\nstep one \nstep two\t"},
		{"surrounding blank lines", "\n\n# Plan\n\nstep one\nstep two\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentHash(tt.body); got != base {
				t.Errorf("hash differs from canonical form")
			}
		})
	}
	if ContentHash("# Plan\n\nstep one") == base {
		t.Error("different content must hash differently")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Migrate the cache layer", "migrate-the-cache-layer"},
		{"Fix bug #42 (again!)", "fix-bug-42-again"},
		{"---", ""},
		{"UPPER case", "upper-case"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProjectLockConflict(t *testing.T) {
	locks := newProjectLocks()
	release, err := locks.acquire("/p")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := locks.acquire("/p")
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("second acquire should time out with ErrConflict")
		}
	case <-time.After(8 * time.Second):
		t.Fatal("acquire did not time out")
	}
	release()
}
