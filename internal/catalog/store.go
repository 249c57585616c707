package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrConflict reports that another writer held a project's index lock past
// the wait budget.
var ErrConflict = errors.New("project index locked by another writer")

// lockWait is how long a writer waits on a project lock before surfacing
// Conflict.
const lockWait = 5 * time.Second

// JacquesDirName is the daemon-owned directory inside each project.
const JacquesDirName = ".jacques"

// projectLocks serialises concurrent writers per project path.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[string]chan struct{})}
}

// acquire takes the lock for project, waiting up to lockWait. The returned
// release func must be called exactly once.
func (p *projectLocks) acquire(project string) (func(), error) {
	p.mu.Lock()
	ch, ok := p.locks[project]
	if !ok {
		ch = make(chan struct{}, 1)
		p.locks[project] = ch
	}
	p.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-time.After(lockWait):
		return nil, fmt.Errorf("%w: %s", ErrConflict, project)
	}
}

// writeJSONAtomic persists v at path via write-to-temp + rename, creating
// parent directories as needed.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// readJSON loads path into v. Missing files return os.ErrNotExist.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// indexPath returns <project>/.jacques/index.json.
func indexPath(projectPath string) string {
	return filepath.Join(projectPath, JacquesDirName, "index.json")
}

// manifestPath returns <project>/.jacques/sessions/<id>.json.
func manifestPath(projectPath, sessionID string) string {
	return filepath.Join(projectPath, JacquesDirName, "sessions", sessionID+".json")
}

// plansDir returns <project>/.jacques/plans.
func plansDir(projectPath string) string {
	return filepath.Join(projectPath, JacquesDirName, "plans")
}

// handoffsDir returns <project>/.jacques/handoffs.
func handoffsDir(projectPath string) string {
	return filepath.Join(projectPath, JacquesDirName, "handoffs")
}

// LoadProjectIndex reads a project's catalog. Missing index returns an
// empty, usable value.
func LoadProjectIndex(projectPath string) (*ProjectIndex, error) {
	var idx ProjectIndex
	err := readJSON(indexPath(projectPath), &idx)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProjectIndex{}, nil
		}
		return nil, err
	}
	return &idx, nil
}

// SaveProjectIndex persists a project's catalog atomically.
func SaveProjectIndex(projectPath string, idx *ProjectIndex) error {
	idx.UpdatedAt = time.Now().UnixMilli()
	return writeJSONAtomic(indexPath(projectPath), idx)
}

// LoadManifest reads one session manifest; missing returns nil, nil.
func LoadManifest(projectPath, sessionID string) (*SessionManifest, error) {
	var m SessionManifest
	err := readJSON(manifestPath(projectPath, sessionID), &m)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// SaveManifest persists one session manifest atomically.
func SaveManifest(projectPath string, m *SessionManifest) error {
	return writeJSONAtomic(manifestPath(projectPath, m.ID), m)
}
