// Package gitinfo introspects git state for session enrichment and worktree
// orchestration. Reads go through go-git; worktree mutations shell out to
// git itself, which owns the linked-worktree bookkeeping.
package gitinfo

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
)

const subprocessTimeout = 5 * time.Second

// Info is the git context of a working directory.
type Info struct {
	Branch   string `json:"branch,omitempty"`
	RepoRoot string `json:"repoRoot,omitempty"`
	Worktree string `json:"worktree,omitempty"`
}

// Lookup resolves branch, repository root, and worktree path for dir.
// Non-repositories return a zero Info with no error.
func Lookup(dir string) Info {
	if dir == "" {
		return Info{}
	}

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		// Linked worktrees use a .git file go-git versions handle unevenly;
		// fall back to asking git directly.
		return lookupViaGit(dir)
	}

	info := Info{}
	if wt, err := repo.Worktree(); err == nil {
		info.RepoRoot = wt.Filesystem.Root()
		info.Worktree = info.RepoRoot
	}
	if head, err := repo.Head(); err == nil {
		if head.Name().IsBranch() {
			info.Branch = head.Name().Short()
		}
	}
	if info.Branch == "" && info.RepoRoot == "" {
		return lookupViaGit(dir)
	}
	return info
}

func lookupViaGit(dir string) Info {
	info := Info{}
	if out, err := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		branch := strings.TrimSpace(out)
		if branch != "HEAD" { // detached
			info.Branch = branch
		}
	}
	if out, err := runGit(dir, "rev-parse", "--show-toplevel"); err == nil {
		info.Worktree = strings.TrimSpace(out)
	}
	if out, err := runGit(dir, "rev-parse", "--git-common-dir"); err == nil {
		common := strings.TrimSpace(out)
		if strings.HasSuffix(common, "/.git") {
			info.RepoRoot = strings.TrimSuffix(common, "/.git")
		} else {
			info.RepoRoot = info.Worktree
		}
	}
	return info
}

// Worktree is one entry from git worktree list.
type Worktree struct {
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Head   string `json:"head,omitempty"`
	Bare   bool   `json:"bare,omitempty"`
}

// ListWorktrees enumerates the worktrees of the repository containing dir.
func ListWorktrees(dir string) ([]Worktree, error) {
	out, err := runGit(dir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []Worktree {
	var worktrees []Worktree
	var current *Worktree
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			if current != nil {
				worktrees = append(worktrees, *current)
				current = nil
			}
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD "):
			if current != nil {
				current.Head = strings.TrimPrefix(line, "HEAD ")
			}
		case strings.HasPrefix(line, "branch "):
			if current != nil {
				current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			}
		case line == "bare":
			if current != nil {
				current.Bare = true
			}
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees
}

// CreateWorktree adds a worktree at path for branch, creating the branch
// when it does not exist yet.
func CreateWorktree(repoDir, path, branch string) error {
	if branch == "" {
		_, err := runGit(repoDir, "worktree", "add", path)
		return err
	}
	if _, err := runGit(repoDir, "worktree", "add", path, branch); err == nil {
		return nil
	}
	_, err := runGit(repoDir, "worktree", "add", "-b", branch, path)
	return err
}

// RemoveWorktree removes the worktree at path.
func RemoveWorktree(repoDir, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := runGit(repoDir, args...)
	return err
}

func runGit(dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), subprocessTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}
