package transcript

import (
	"encoding/json"
	"strings"
)

// TaskStatus is the lifecycle state of a distilled task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// TaskSignal is one deduplicated task distilled from a transcript.
type TaskSignal struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	Content   string     `json:"content"`
	Status    TaskStatus `json:"status"`
}

type todoToolInput struct {
	Todos []struct {
		ID      string `json:"id"`
		Content string `json:"content"`
		Status  string `json:"status"`
	} `json:"todos"`
}

type taskSystemPayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Title   string `json:"title"`
	Status  string `json:"status"`
}

// ExtractTaskSignals distils a deduplicated task list from TODO-style tool
// calls and task_create/task_update system entries. Later signals for the
// same task overwrite earlier ones, so the returned statuses are final.
func ExtractTaskSignals(entries []Entry, sessionID string) []TaskSignal {
	byKey := make(map[string]int)
	var tasks []TaskSignal

	upsert := func(id, content string, status TaskStatus) {
		content = strings.TrimSpace(content)
		if content == "" && id == "" {
			return
		}
		key := id
		if key == "" {
			key = content
		}
		if idx, ok := byKey[key]; ok {
			tasks[idx].Status = status
			if content != "" {
				tasks[idx].Content = content
			}
			return
		}
		byKey[key] = len(tasks)
		tasks = append(tasks, TaskSignal{
			ID:        key,
			SessionID: sessionID,
			Content:   content,
			Status:    status,
		})
	}

	for i := range entries {
		e := &entries[i]
		switch e.Type {
		case EntryToolCall:
			if e.ToolName != "TodoWrite" && e.ToolName != "todo_write" {
				continue
			}
			var in todoToolInput
			if e.ToolInput == nil || json.Unmarshal(e.ToolInput, &in) != nil {
				continue
			}
			for _, td := range in.Todos {
				upsert(td.ID, td.Content, normalizeTaskStatus(td.Status))
			}

		case EntrySystem:
			if e.Subtype != "task_create" && e.Subtype != "task_update" {
				continue
			}
			var p taskSystemPayload
			if json.Unmarshal([]byte(e.Text), &p) != nil {
				// Plain-text task entries carry just the description.
				upsert("", e.Text, TaskPending)
				continue
			}
			content := p.Content
			if content == "" {
				content = p.Title
			}
			status := normalizeTaskStatus(p.Status)
			if e.Subtype == "task_create" && p.Status == "" {
				status = TaskPending
			}
			upsert(p.ID, content, status)
		}
	}

	return tasks
}

func normalizeTaskStatus(s string) TaskStatus {
	switch strings.ToLower(s) {
	case "in_progress", "in-progress", "active":
		return TaskInProgress
	case "completed", "done":
		return TaskCompleted
	default:
		return TaskPending
	}
}
