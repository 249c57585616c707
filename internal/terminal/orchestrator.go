// Package terminal launches assistant sessions in terminal emulators and
// drives window focus, maximize, and tiling through the host window manager.
// Everything here shells out; every subprocess runs under a 5 s timeout and
// every failure comes back in the Result, never as a panic or a raw error to
// the hub.
package terminal

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/jacques-dev/jacques/internal/session"
)

const subprocessTimeout = 5 * time.Second

// Result is the uniform outcome of every orchestrator operation.
type Result struct {
	Success bool   `json:"success"`
	Method  string `json:"method,omitempty"`
	Error   string `json:"error,omitempty"`
	PID     int    `json:"pid,omitempty"`
}

// MethodUnsupported reports that no supported control path exists on this
// host for the requested operation.
const MethodUnsupported = "unsupported"

func failure(method, format string, args ...any) Result {
	return Result{Success: false, Method: method, Error: fmt.Sprintf(format, args...)}
}

func success(method string) Result {
	return Result{Success: true, Method: method}
}

// Bounds positions a newly launched window.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LaunchRequest describes a new assistant session to open.
type LaunchRequest struct {
	CWD                        string  `json:"cwd"`
	PreferredTerminal          string  `json:"preferredTerminal,omitempty"`
	DangerouslySkipPermissions bool    `json:"dangerouslySkipPermissions,omitempty"`
	TargetBounds               *Bounds `json:"targetBounds,omitempty"`
}

// BypassMarker is notified before a skip-permissions launch so the monitor
// can flag the session ahead of command-line probing.
type BypassMarker interface {
	MarkPendingBypass(cwd string)
}

// Orchestrator owns terminal launching and window-manager scripting.
type Orchestrator struct {
	assistantCmd string
	preferred    string
	bypass       BypassMarker
	lookPath     func(string) (string, error)
}

// New creates an orchestrator that launches assistantCmd (e.g. "claude").
// preferred overrides the per-OS terminal detection order when non-empty.
func New(assistantCmd, preferred string, bypass BypassMarker) *Orchestrator {
	if assistantCmd == "" {
		assistantCmd = "claude"
	}
	return &Orchestrator{
		assistantCmd: assistantCmd,
		preferred:    preferred,
		bypass:       bypass,
		lookPath:     exec.LookPath,
	}
}

// detectionOrder is the per-OS terminal preference ladder.
func detectionOrder() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"iTerm2", "kitty", "wezterm", "Terminal.app"}
	case "windows":
		return []string{"wt", "powershell"}
	default:
		return []string{"kitty", "wezterm", "gnome-terminal"}
	}
}

// DetectTerminal picks the best available terminal, honouring the preferred
// override first. Empty means nothing usable was found.
func (o *Orchestrator) DetectTerminal(req LaunchRequest) string {
	candidates := detectionOrder()
	if req.PreferredTerminal != "" {
		candidates = append([]string{req.PreferredTerminal}, candidates...)
	} else if o.preferred != "" {
		candidates = append([]string{o.preferred}, candidates...)
	}
	for _, t := range candidates {
		if o.terminalAvailable(t) {
			return t
		}
	}
	return ""
}

func (o *Orchestrator) terminalAvailable(name string) bool {
	switch name {
	case "iTerm2", "Terminal.app":
		if runtime.GOOS != "darwin" {
			return false
		}
		_, err := o.lookPath("osascript")
		return err == nil
	case "kitty":
		_, err := o.lookPath("kitty")
		return err == nil
	case "wezterm":
		_, err := o.lookPath("wezterm")
		return err == nil
	case "gnome-terminal":
		_, err := o.lookPath("gnome-terminal")
		return err == nil
	case "wt":
		_, err := o.lookPath("wt")
		return err == nil
	case "powershell":
		_, err := o.lookPath("powershell")
		return err == nil
	default:
		return false
	}
}

// Launch opens a new terminal window running the assistant in req.CWD.
func (o *Orchestrator) Launch(ctx context.Context, req LaunchRequest) Result {
	if req.CWD == "" {
		return failure("", "cwd is required")
	}

	term := o.DetectTerminal(req)
	if term == "" {
		return failure(MethodUnsupported, "no supported terminal emulator found")
	}

	cmd := o.assistantCmd
	if req.DangerouslySkipPermissions {
		cmd += " --dangerously-skip-permissions"
		if o.bypass != nil {
			o.bypass.MarkPendingBypass(req.CWD)
		}
	}

	var err error
	switch term {
	case "iTerm2":
		err = o.run(ctx, "osascript", "-e", iterm2LaunchScript(req.CWD, cmd, req.TargetBounds))
	case "Terminal.app":
		err = o.run(ctx, "osascript",
			"-e", fmt.Sprintf(`tell application "Terminal" to do script "cd %s && %s"`, shellQuote(req.CWD), cmd),
			"-e", `tell application "Terminal" to activate`)
	case "kitty":
		err = o.run(ctx, "kitty", "--detach", "--directory", req.CWD, "sh", "-c", cmd)
	case "wezterm":
		err = o.run(ctx, "wezterm", "start", "--cwd", req.CWD, "--", "sh", "-c", cmd)
	case "gnome-terminal":
		err = o.run(ctx, "gnome-terminal", "--working-directory", req.CWD, "--", "sh", "-c", cmd)
	case "wt":
		err = o.run(ctx, "wt", "-d", req.CWD, "powershell", "-NoExit", "-Command", cmd)
	case "powershell":
		err = o.run(ctx, "powershell", "-Command",
			fmt.Sprintf(`Start-Process powershell -ArgumentList '-NoExit','-Command','cd %s; %s'`, req.CWD, cmd))
	}
	if err != nil {
		return failure(term, "launch failed: %v", err)
	}
	log.Printf("[terminal] launched %s session in %s via %s", o.assistantCmd, req.CWD, term)
	return success(term)
}

func iterm2LaunchScript(cwd, cmd string, bounds *Bounds) string {
	var b strings.Builder
	b.WriteString(`tell application "iTerm2"
	create window with default profile
	tell current session of current window
		write text "cd ` + shellQuote(cwd) + ` && ` + cmd + `"
	end tell
`)
	if bounds != nil {
		fmt.Fprintf(&b, "	set bounds of current window to {%d, %d, %d, %d}\n",
			bounds.X, bounds.Y, bounds.X+bounds.Width, bounds.Y+bounds.Height)
	}
	b.WriteString(`	activate
end tell`)
	return b.String()
}

func shellQuote(s string) string {
	return strings.ReplaceAll(s, " ", "\\ ")
}

// Focus brings the session's terminal window to the foreground. tmux panes
// are handled in-multiplexer; otherwise the window manager is scripted by
// terminal program.
func (o *Orchestrator) Focus(ctx context.Context, s *session.Session) Result {
	if s == nil {
		return failure("", "no session")
	}

	if s.Terminal.Pane != "" && o.available("tmux") {
		if err := o.tmuxFocus(ctx, s.Terminal.Pane); err != nil {
			return failure("tmux", "%v", err)
		}
		return success("tmux")
	}

	switch runtime.GOOS {
	case "darwin":
		app := macAppForProgram(s.Terminal.Program)
		if app == "" {
			return failure(MethodUnsupported, "unknown terminal program %q", s.Terminal.Program)
		}
		if err := o.run(ctx, "osascript", "-e", fmt.Sprintf(`tell application "%s" to activate`, app)); err != nil {
			return failure("osascript", "%v", err)
		}
		return success("osascript")
	case "linux":
		if s.Terminal.WindowID != "" && o.available("wmctrl") {
			if err := o.run(ctx, "wmctrl", "-i", "-a", s.Terminal.WindowID); err != nil {
				return failure("wmctrl", "%v", err)
			}
			return success("wmctrl")
		}
	}
	return failure(MethodUnsupported, "no focus path for this session")
}

// Maximize grows the session's window to fill its screen.
func (o *Orchestrator) Maximize(ctx context.Context, s *session.Session) Result {
	if s == nil {
		return failure("", "no session")
	}
	switch runtime.GOOS {
	case "darwin":
		app := macAppForProgram(s.Terminal.Program)
		if app == "" {
			return failure(MethodUnsupported, "unknown terminal program %q", s.Terminal.Program)
		}
		script := fmt.Sprintf(`tell application "%s"
	activate
	set screenBounds to bounds of window of desktop
	set bounds of front window to screenBounds
end tell`, app)
		if err := o.run(ctx, "osascript", "-e", script); err != nil {
			return failure("osascript", "%v", err)
		}
		return success("osascript")
	case "linux":
		if s.Terminal.WindowID != "" && o.available("wmctrl") {
			if err := o.run(ctx, "wmctrl", "-i", "-r", s.Terminal.WindowID, "-b", "add,maximized_vert,maximized_horz"); err != nil {
				return failure("wmctrl", "%v", err)
			}
			return success("wmctrl")
		}
	}
	return failure(MethodUnsupported, "no maximize path for this session")
}

// Tile arranges the given sessions' windows. Only tmux panes and wmctrl
// windows can be tiled; anything else reports unsupported.
func (o *Orchestrator) Tile(ctx context.Context, sessions []*session.Session, layout string) Result {
	if len(sessions) == 0 {
		return failure("", "no sessions to tile")
	}

	allTmux := true
	for _, s := range sessions {
		if s.Terminal.Pane == "" {
			allTmux = false
			break
		}
	}
	if allTmux && o.available("tmux") {
		if layout == "" {
			layout = "tiled"
		}
		target := sessions[0].Terminal.Pane
		if err := o.run(ctx, "tmux", "select-layout", "-t", target, layout); err != nil {
			return failure("tmux", "%v", err)
		}
		return success("tmux")
	}

	if runtime.GOOS == "linux" && o.available("wmctrl") {
		tiled := 0
		cols := 2
		for i, s := range sessions {
			if s.Terminal.WindowID == "" {
				continue
			}
			// Crude half/quarter grid; wmctrl -e takes g,x,y,w,h.
			x := (i % cols) * 960
			y := (i / cols) * 540
			if err := o.run(ctx, "wmctrl", "-i", "-r", s.Terminal.WindowID,
				"-e", fmt.Sprintf("0,%d,%d,960,540", x, y)); err == nil {
				tiled++
			}
		}
		if tiled > 0 {
			return success("wmctrl")
		}
		return failure("wmctrl", "no windows could be placed")
	}

	return failure(MethodUnsupported, "no tiling path for these sessions")
}

func macAppForProgram(program string) string {
	switch strings.ToLower(program) {
	case "iterm", "iterm2", "iterm.app", "iterm2.app":
		return "iTerm2"
	case "apple_terminal", "terminal", "terminal.app":
		return "Terminal"
	case "kitty":
		return "kitty"
	case "wezterm":
		return "WezTerm"
	default:
		return ""
	}
}

// tmuxFocus switches to the pane identified by target (e.g. "main:2.0").
func (o *Orchestrator) tmuxFocus(ctx context.Context, target string) error {
	if err := o.run(ctx, "tmux", "select-window", "-t", target); err != nil {
		return fmt.Errorf("select-window: %w", err)
	}
	if err := o.run(ctx, "tmux", "select-pane", "-t", target); err != nil {
		return fmt.Errorf("select-pane: %w", err)
	}
	return nil
}

func (o *Orchestrator) available(bin string) bool {
	_, err := o.lookPath(bin)
	return err == nil
}

func (o *Orchestrator) run(ctx context.Context, bin string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, subprocessTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s: %s", bin, msg)
	}
	return nil
}
