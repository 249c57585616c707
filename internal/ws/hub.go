// Package ws is the session-state hub on localhost:4242. Assistant lifecycle
// hooks connect as producers and stream discriminated events; TUI and GUI
// clients connect as consumers, receive an initial_state push followed by
// deltas in commit order, and may send control messages that each get one
// paired result. Delivery is at-most-once; a consumer that falls behind by
// more than 1 MB is disconnected and must refetch over HTTP.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jacques-dev/jacques/internal/gitinfo"
	"github.com/jacques-dev/jacques/internal/session"
	"github.com/jacques-dev/jacques/internal/terminal"
)

const (
	// maxSendBuffer is the per-consumer backlog limit before disconnect.
	maxSendBuffer = 1 << 20
	// minFrameSize is a floor on any marshalled hub frame; the queue is
	// sized from it so the byte budget trips before the channel fills.
	minFrameSize = 32
	sendQueueLen = maxSendBuffer / minFrameSize

	// DefaultFocusTimeout bounds a focus_terminal control round-trip.
	DefaultFocusTimeout = 3 * time.Second
)

// Controller is the terminal-orchestration surface consumed by control
// messages. Stubbed in tests.
type Controller interface {
	Launch(ctx context.Context, req terminal.LaunchRequest) terminal.Result
	Focus(ctx context.Context, s *session.Session) terminal.Result
	Maximize(ctx context.Context, s *session.Session) terminal.Result
	Tile(ctx context.Context, sessions []*session.Session, layout string) terminal.Result
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	queued int64

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, sendQueueLen)}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		atomic.AddInt64(&c.queued, -int64(len(msg)))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// enqueue queues a frame without blocking. False means the client is past
// the backlog limit and must be disconnected.
func (c *client) enqueue(data []byte) bool {
	if atomic.AddInt64(&c.queued, int64(len(data))) > maxSendBuffer {
		atomic.AddInt64(&c.queued, -int64(len(data)))
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		atomic.AddInt64(&c.queued, -int64(len(data)))
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub accepts producer and consumer connections and fans registry deltas out
// to every consumer.
type Hub struct {
	registry     *session.Registry
	control      Controller
	focusTimeout time.Duration

	mu        sync.Mutex
	consumers map[*client]bool
}

// NewHub creates a hub over the registry. control may be nil, in which case
// window-control messages answer unavailable.
func NewHub(registry *session.Registry, control Controller) *Hub {
	return &Hub{
		registry:     registry,
		control:      control,
		focusTimeout: DefaultFocusTimeout,
		consumers:    make(map[*client]bool),
	}
}

// SetFocusTimeout overrides the focus control budget. Test hook.
func (h *Hub) SetFocusTimeout(d time.Duration) { h.focusTimeout = d }

// Handler returns the WS upgrade endpoint.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.handleConn)
}

func (h *Hub) handleConn(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: checkLocalOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] upgrade: %v", err)
		return
	}

	// The first frame decides the role.
	_, first, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(first, &head); err != nil {
		// Malformed first frame: answer once, keep nothing.
		_ = conn.WriteJSON(Message{Type: "error", Payload: ControlResult{
			Error: ErrCatMalformed, Detail: "bad JSON in first frame",
		}})
		conn.Close()
		return
	}

	if producerType(head.Type) {
		h.runProducer(conn, first)
		return
	}
	h.runConsumer(conn, first, head.Type)
}

// runProducer applies events in arrival order until the hook disconnects.
func (h *Hub) runProducer(conn *websocket.Conn, first []byte) {
	defer conn.Close()
	frame := first
	for {
		h.applyEvent(frame)
		var err error
		if _, frame, err = conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) applyEvent(frame []byte) {
	var ev session.HookEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		log.Printf("[hub] malformed event frame: %v", err)
		return
	}
	if ev.SessionID == "" {
		log.Printf("[hub] event %q without session_id, dropped", ev.Type)
		return
	}
	now := time.Now()

	switch ev.Type {
	case session.EvSessionStart:
		info := gitinfo.Lookup(ev.CWD)
		s := session.FromHook(ev, info.RepoRoot, now)
		s.GitBranch = info.Branch
		s.GitWorktree = info.Worktree
		if _, err := h.registry.Register(s); err != nil {
			log.Printf("[hub] register %s: %v", ev.SessionID, err)
		}

	case session.EvContextUpdate:
		if _, ok := h.registry.Get(ev.SessionID); !ok {
			info := gitinfo.Lookup(ev.CWD)
			s := session.FromContextUpdate(ev, info.RepoRoot, now)
			s.GitBranch = info.Branch
			s.GitWorktree = info.Worktree
			if _, err := h.registry.Register(s); err != nil {
				log.Printf("[hub] register from context_update %s: %v", ev.SessionID, err)
				return
			}
		}
		if ev.Context != nil {
			if _, err := h.registry.ApplyContextUpdate(ev.SessionID, *ev.Context, ev.AutoCompact); err != nil {
				log.Printf("[hub] context_update %s: %v", ev.SessionID, err)
			}
		}

	case session.EvToolEvent:
		if _, err := h.registry.ApplyToolEvent(ev.SessionID, ev.Phase, ev.ToolName); err != nil {
			log.Printf("[hub] tool_event %s: %v", ev.SessionID, err)
		}

	case session.EvPromptSubmit:
		if _, err := h.registry.ApplyPromptSubmit(ev.SessionID); err != nil {
			log.Printf("[hub] prompt_submit %s: %v", ev.SessionID, err)
		}

	case session.EvSessionEnd:
		reason := ev.Reason
		if reason == "" {
			reason = "hook"
		}
		if err := h.registry.End(ev.SessionID, reason); err != nil {
			log.Printf("[hub] session_end %s: %v", ev.SessionID, err)
		}

	case session.EvHandoffReady:
		h.registry.AnnounceHandoff(ev.SessionID)

	case session.EvOperationComplete:
		h.registry.AnnounceOperation(ev.SessionID, ev.Tokens)
	}
}

// runConsumer registers the client, pushes initial_state, then serves
// control messages until disconnect.
func (h *Hub) runConsumer(conn *websocket.Conn, first []byte, firstType string) {
	c := newClient(conn)
	h.mu.Lock()
	h.consumers[c] = true
	h.mu.Unlock()
	log.Printf("[hub] consumer connected (%d total)", h.ConsumerCount())

	defer h.removeConsumer(c)

	h.sendTo(c, Message{Type: MsgInitialState, Payload: InitialState{
		Sessions:  h.registry.List(),
		FocusedID: h.registry.GetFocused(),
	}})

	// The first frame may itself be a control message.
	if firstType != CtrlSubscribe {
		h.dispatchControl(c, first)
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.dispatchControl(c, frame)
	}
}

func (h *Hub) removeConsumer(c *client) {
	h.mu.Lock()
	if h.consumers[c] {
		delete(h.consumers, c)
		c.close()
	}
	h.mu.Unlock()
	log.Printf("[hub] consumer disconnected (%d total)", h.ConsumerCount())
}

// ConsumerCount reports connected consumers.
func (h *Hub) ConsumerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.consumers)
}

func (h *Hub) sendTo(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[hub] marshal %s: %v", msg.Type, err)
		return
	}
	if !c.enqueue(data) {
		log.Printf("[hub] consumer past backlog limit, disconnecting")
		h.removeConsumer(c)
	}
}

// broadcast fans one frame out to every consumer. Slow consumers are
// dropped rather than blocking the caller.
func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[hub] marshal %s: %v", msg.Type, err)
		return
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.consumers))
	for c := range h.consumers {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			log.Printf("[hub] consumer past backlog limit, disconnecting")
			h.removeConsumer(c)
		}
	}
}

// SessionUpdate implements session.Broadcaster.
func (h *Hub) SessionUpdate(s *session.Session) {
	h.broadcast(Message{Type: MsgSessionUpdate, Payload: s})
}

// SessionEnded implements session.Broadcaster.
func (h *Hub) SessionEnded(id, reason string) {
	h.broadcast(Message{Type: MsgSessionEnded, Payload: SessionEndedPayload{SessionID: id, Reason: reason}})
}

// FocusChanged implements session.Broadcaster.
func (h *Hub) FocusChanged(id string) {
	h.broadcast(Message{Type: MsgFocusChanged, Payload: FocusChangedPayload{SessionID: id}})
}

// NotificationFired pushes a fired notification to every consumer.
func (h *Hub) NotificationFired(item any) {
	h.broadcast(Message{Type: MsgNotificationFired, Payload: item})
}

// dispatchControl handles one consumer frame and sends its paired result.
func (h *Hub) dispatchControl(c *client, frame []byte) {
	var msg controlMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		h.sendTo(c, Message{Type: "error", Payload: ControlResult{
			Error: ErrCatMalformed, Detail: err.Error(),
		}})
		return
	}

	switch msg.Type {
	case CtrlSubscribe:
		// Already subscribed; nothing to answer.

	case CtrlFocusTerminal:
		h.sendTo(c, Message{Type: msg.Type + "_result", Payload: h.handleFocus(msg)})

	case CtrlMaximizeWindow:
		h.sendTo(c, Message{Type: msg.Type + "_result", Payload: h.handleWindowOp(msg, h.maximize)})

	case CtrlTileWindows:
		h.sendTo(c, Message{Type: msg.Type + "_result", Payload: h.handleTile(msg)})

	case CtrlLaunchSession:
		h.sendTo(c, Message{Type: msg.Type + "_result", Payload: h.handleLaunch(msg)})

	case CtrlListWorktrees:
		h.sendTo(c, Message{Type: msg.Type + "_result", Payload: h.handleListWorktrees(msg)})

	case CtrlCreateWorktree:
		h.sendTo(c, Message{Type: msg.Type + "_result", Payload: h.handleCreateWorktree(msg)})

	case CtrlRemoveWorktree:
		h.sendTo(c, Message{Type: msg.Type + "_result", Payload: h.handleRemoveWorktree(msg)})

	default:
		h.sendTo(c, Message{Type: "error", Payload: ControlResult{
			Error: ErrCatMalformed, Detail: fmt.Sprintf("unknown message type %q", msg.Type),
		}})
	}
}

// handleFocus runs the orchestrator under the focus budget. On timeout the
// result is failure with method "timeout"; a late success is dropped.
func (h *Hub) handleFocus(msg controlMessage) ControlResult {
	if h.control == nil {
		return ControlResult{Error: ErrCatUnavailable, Detail: "no terminal controller"}
	}
	s, ok := h.registry.Get(msg.SessionID)
	if !ok {
		return ControlResult{Error: ErrCatNotFound, Detail: "unknown session " + msg.SessionID}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resCh := make(chan terminal.Result, 1)
	go func() { resCh <- h.control.Focus(ctx, s) }()

	select {
	case res := <-resCh:
		if res.Success {
			_ = h.registry.SetFocused(s.ID)
		}
		return fromTerminalResult(res)
	case <-time.After(h.focusTimeout):
		return ControlResult{Success: false, Method: "timeout"}
	}
}

func (h *Hub) maximize(ctx context.Context, s *session.Session) terminal.Result {
	return h.control.Maximize(ctx, s)
}

func (h *Hub) handleWindowOp(msg controlMessage, op func(context.Context, *session.Session) terminal.Result) ControlResult {
	if h.control == nil {
		return ControlResult{Error: ErrCatUnavailable, Detail: "no terminal controller"}
	}
	s, ok := h.registry.Get(msg.SessionID)
	if !ok {
		return ControlResult{Error: ErrCatNotFound, Detail: "unknown session " + msg.SessionID}
	}
	return fromTerminalResult(op(context.Background(), s))
}

func (h *Hub) handleTile(msg controlMessage) ControlResult {
	if h.control == nil {
		return ControlResult{Error: ErrCatUnavailable, Detail: "no terminal controller"}
	}
	var sessions []*session.Session
	for _, id := range msg.SessionIDs {
		if s, ok := h.registry.Get(id); ok {
			sessions = append(sessions, s)
		}
	}
	if len(sessions) == 0 {
		return ControlResult{Error: ErrCatNotFound, Detail: "no known sessions in sessionIds"}
	}
	return fromTerminalResult(h.control.Tile(context.Background(), sessions, msg.Layout))
}

func (h *Hub) handleLaunch(msg controlMessage) ControlResult {
	if h.control == nil {
		return ControlResult{Error: ErrCatUnavailable, Detail: "no terminal controller"}
	}
	if msg.CWD == "" {
		return ControlResult{Error: ErrCatMalformed, Detail: "cwd is required"}
	}
	res := h.control.Launch(context.Background(), terminal.LaunchRequest{
		CWD:                        msg.CWD,
		PreferredTerminal:          msg.PreferredTerminal,
		DangerouslySkipPermissions: msg.DangerouslySkipPermissions,
		TargetBounds:               msg.TargetBounds,
	})
	return fromTerminalResult(res)
}

func (h *Hub) handleListWorktrees(msg controlMessage) ControlResult {
	dir := worktreeDir(msg)
	if dir == "" {
		return ControlResult{Error: ErrCatMalformed, Detail: "repoDir or cwd is required"}
	}
	wts, err := gitinfo.ListWorktrees(dir)
	if err != nil {
		return ControlResult{Error: ErrCatUnavailable, Detail: err.Error()}
	}
	return ControlResult{Success: true, Worktrees: wts}
}

func (h *Hub) handleCreateWorktree(msg controlMessage) ControlResult {
	dir := worktreeDir(msg)
	if dir == "" || msg.Path == "" {
		return ControlResult{Error: ErrCatMalformed, Detail: "repoDir and path are required"}
	}
	if err := gitinfo.CreateWorktree(dir, msg.Path, msg.Branch); err != nil {
		return ControlResult{Error: ErrCatUnavailable, Detail: err.Error()}
	}
	return ControlResult{Success: true}
}

func (h *Hub) handleRemoveWorktree(msg controlMessage) ControlResult {
	dir := worktreeDir(msg)
	if dir == "" || msg.Path == "" {
		return ControlResult{Error: ErrCatMalformed, Detail: "repoDir and path are required"}
	}
	if err := gitinfo.RemoveWorktree(dir, msg.Path, msg.Force); err != nil {
		return ControlResult{Error: ErrCatUnavailable, Detail: err.Error()}
	}
	return ControlResult{Success: true}
}

func worktreeDir(msg controlMessage) string {
	if msg.RepoDir != "" {
		return msg.RepoDir
	}
	return msg.CWD
}

func fromTerminalResult(res terminal.Result) ControlResult {
	out := ControlResult{Success: res.Success, Method: res.Method, PID: res.PID}
	if !res.Success {
		out.Error = ErrCatUnavailable
		out.Detail = res.Error
	}
	return out
}

// checkLocalOrigin admits same-host and localhost origins only. Hooks and
// the TUI send no Origin header at all.
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	for _, allowed := range []string{"localhost", "127.0.0.1", "[::1]", "::1"} {
		if host == allowed || strings.HasPrefix(host, allowed+":") {
			return true
		}
	}
	return false
}
