// Package proc enumerates running assistant processes and answers liveness
// questions. All functions are fail-safe: enumeration errors and
// missing-process races yield empty results or false, never panics, so
// callers can treat failure as "do not remove".
package proc

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// BypassFlag is the command-line flag that disables the assistant's
// permission prompts.
const BypassFlag = "--dangerously-skip-permissions"

// ClaudeProcess describes one running assistant process.
type ClaudeProcess struct {
	PID       int       `json:"pid"`
	TTY       string    `json:"tty,omitempty"`
	CWD       string    `json:"cwd"`
	Cmdline   string    `json:"cmdline,omitempty"`
	StartedAt time.Time `json:"startedAt,omitzero"`
}

// IsProcessRunning reports whether pid is alive. Best-effort: any error
// (permission, race) reads as false only when the kernel positively reports
// the process gone; lookup errors read as true so monitors fail safe.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return exists
}

// IsProcessBypass reports whether the process's command line carries the
// skip-permissions flag. Missing processes read as false.
func IsProcessBypass(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	cmdline, err := p.Cmdline()
	if err != nil {
		return false
	}
	return strings.Contains(cmdline, BypassFlag)
}

// GetClaudeProcesses returns every assistant process on the host with its
// working directory and controlling TTY. Enumeration failures return an
// empty slice and the error so callers can distinguish "none" from "unknown".
func GetClaudeProcesses() ([]ClaudeProcess, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	home, _ := os.UserHomeDir()
	internalDir := filepath.Join(home, ".claude")

	var results []ClaudeProcess
	for _, p := range procs {
		args, err := p.CmdlineSlice()
		if err != nil || len(args) == 0 {
			continue
		}
		if !isClaudeCommand(args) {
			continue
		}

		cwd, err := p.Cwd()
		if err != nil || cwd == "" {
			continue
		}
		// The assistant spawns helpers with cwd inside its own state dir;
		// those are not user sessions.
		if internalDir != "" && (cwd == internalDir || strings.HasPrefix(cwd, internalDir+string(filepath.Separator))) {
			continue
		}

		cp := ClaudeProcess{
			PID:     int(p.Pid),
			CWD:     cwd,
			Cmdline: strings.Join(args, " "),
		}
		if tty, err := p.Terminal(); err == nil {
			cp.TTY = tty
		}
		if created, err := p.CreateTime(); err == nil && created > 0 {
			cp.StartedAt = time.UnixMilli(created)
		}
		results = append(results, cp)
	}

	return results, nil
}

// isClaudeCommand matches the main assistant process, not subprocesses it
// spawns. Either the binary itself or node running the claude entrypoint.
func isClaudeCommand(args []string) bool {
	exe := filepath.Base(args[0])
	if exe == "claude" || exe == "claude-code" {
		return true
	}
	if exe == "node" {
		for _, arg := range args[1:] {
			if strings.Contains(arg, "claude") && !strings.Contains(arg, "node_modules/.bin") {
				return true
			}
		}
	}
	return false
}

// NormalizeCwd canonicalises a working directory for bucket comparisons:
// symlinks resolved when possible, trailing separators stripped.
func NormalizeCwd(cwd string) string {
	if cwd == "" {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(cwd); err == nil {
		cwd = resolved
	}
	return filepath.Clean(cwd)
}
