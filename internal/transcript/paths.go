package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultProjectsRoot returns the assistant-owned transcript root,
// ~/.claude/projects. The gateway's root-path config can override it.
func DefaultProjectsRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// EncodeProjectPath maps a working directory to the assistant's project
// directory name: every path separator becomes a dash, including the
// leading one, so /home/user/proj encodes as -home-user-proj.
func EncodeProjectPath(path string) string {
	clean := filepath.Clean(path)
	return strings.ReplaceAll(clean, string(filepath.Separator), "-")
}

// DecodeProjectPath reverses EncodeProjectPath on a best-effort basis. The
// encoding is lossy for directories whose names contain dashes, so candidate
// paths are probed on disk from most to least path separators.
func DecodeProjectPath(encoded string) string {
	if !strings.HasPrefix(encoded, "-") {
		return encoded
	}

	candidate := strings.ReplaceAll(encoded, "-", "/")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}

	parts := strings.Split(encoded[1:], "-")
	for numSlashes := len(parts) - 1; numSlashes > 0; numSlashes-- {
		candidate := "/" + strings.Join(parts[:numSlashes], "/")
		if numSlashes < len(parts) {
			candidate = candidate + "/" + strings.Join(parts[numSlashes:], "-")
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	// Nothing on disk matched; return the all-slashes reading.
	return candidate
}

// SessionIDFromPath extracts the session id from a transcript path.
func SessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}

// ProjectDirs lists the encoded project directory names under root.
func ProjectDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

// ProjectTranscripts lists every transcript path in one encoded project
// directory under root.
func ProjectTranscripts(root, encodedProject string) ([]string, error) {
	dir := filepath.Join(root, encodedProject)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

// AllTranscripts lists every transcript under root across all projects.
func AllTranscripts(root string) ([]string, error) {
	dirs, err := ProjectDirs(root)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, d := range dirs {
		files, err := ProjectTranscripts(root, d)
		if err != nil {
			continue
		}
		paths = append(paths, files...)
	}
	return paths, nil
}

// RecentTranscripts lists transcripts across all projects modified within
// the given window.
func RecentTranscripts(root string, within time.Duration) ([]string, error) {
	paths, err := AllTranscripts(root)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-within)
	var recent []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			recent = append(recent, p)
		}
	}
	return recent, nil
}

// WorkingDirFromPath derives the (decoded) working directory for a
// transcript from its parent project directory name.
func WorkingDirFromPath(path string) string {
	projectDir := filepath.Base(filepath.Dir(path))
	if projectDir == "" || projectDir == "." || projectDir == "/" {
		return ""
	}
	return DecodeProjectPath(projectDir)
}
