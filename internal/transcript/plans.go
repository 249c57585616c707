package transcript

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// PlanSource identifies where a plan was observed.
type PlanSource string

const (
	PlanEmbedded PlanSource = "embedded" // plan text inline in a message
	PlanWrite    PlanSource = "write"    // plan file written via a write tool
	PlanAgent    PlanSource = "agent"    // produced by an exploration sub-agent
)

// PlanRef points at a plan found in a transcript.
type PlanRef struct {
	Title        string     `json:"title"`
	Source       PlanSource `json:"source"`
	MessageIndex int        `json:"messageIndex"`
	FilePath     string     `json:"filePath,omitempty"`
	CatalogID    string     `json:"catalogId,omitempty"`
	Body         string     `json:"-"`
}

// Mode is the assistant's permission mode for a session.
type Mode string

const (
	ModePlan        Mode = "plan"
	ModeAcceptEdits Mode = "acceptEdits"
	ModeDefault     Mode = "default"
)

// planHeadings are matched case-insensitively against message text. Order
// matters: the first matching pattern wins for a given message.
var planHeadings = []string{
	"implement the following plan",
	"here is the plan",
	"follow this plan",
}

// ModeAndPlans is the result of DetectModeAndPlans.
type ModeAndPlans struct {
	Mode  Mode
	Plans []PlanRef
}

// DetectModeAndPlans walks entries and recognises embedded plans (by heading
// pattern), written plan files (write tools targeting .jacques/plans/*plan*.md)
// and exploration sub-agent outputs. It also derives the session's permission
// mode from plan-mode tool activity and system entries.
func DetectModeAndPlans(entries []Entry) ModeAndPlans {
	out := ModeAndPlans{Mode: ModeDefault}

	for i := range entries {
		e := &entries[i]
		switch e.Type {
		case EntryUserMessage, EntryAssistantMessage:
			if ref, ok := detectEmbeddedPlan(e.Text, i); ok {
				out.Plans = append(out.Plans, ref)
				if out.Mode == ModeDefault {
					out.Mode = ModePlan
				}
			}

		case EntryToolCall:
			switch e.ToolName {
			case "ExitPlanMode", "exit_plan_mode":
				out.Mode = ModePlan
				if ref, ok := detectExitPlan(e.ToolInput, i); ok {
					out.Plans = append(out.Plans, ref)
				}
			case "Write", "write_file":
				if ref, ok := detectWrittenPlan(e.ToolInput, i); ok {
					out.Plans = append(out.Plans, ref)
				}
			case "Task", "Agent":
				if ref, ok := detectAgentPlan(e.ToolInput, i); ok {
					out.Plans = append(out.Plans, ref)
				}
			}

		case EntrySystem:
			if strings.Contains(e.Text, "acceptEdits") && out.Mode == ModeDefault {
				out.Mode = ModeAcceptEdits
			}
		}
	}

	return out
}

// detectEmbeddedPlan checks text against the heading patterns. The first
// pattern that matches wins; the rest of the message is taken as the body.
func detectEmbeddedPlan(text string, index int) (PlanRef, bool) {
	if text == "" {
		return PlanRef{}, false
	}
	lower := strings.ToLower(text)
	for _, pattern := range planHeadings {
		pos := strings.Index(lower, pattern)
		if pos < 0 {
			continue
		}
		body := text[pos:]
		// Skip past the heading line itself so the title comes from content.
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		} else {
			body = ""
		}
		body = strings.TrimSpace(body)
		if body == "" {
			return PlanRef{}, false
		}
		return PlanRef{
			Title:        PlanTitle(body),
			Source:       PlanEmbedded,
			MessageIndex: index,
			Body:         body,
		}, true
	}
	return PlanRef{}, false
}

// PlanTitle derives a display title from plan text: the first level-1
// markdown heading, falling back to the first non-empty line.
func PlanTitle(body string) string {
	firstLine := ""
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if firstLine == "" {
			firstLine = trimmed
		}
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return strings.TrimPrefix(firstLine, "#")
}

type writeToolInput struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// detectWrittenPlan recognises writes of *plan*.md files under .jacques/plans/.
func detectWrittenPlan(raw json.RawMessage, index int) (PlanRef, bool) {
	if raw == nil {
		return PlanRef{}, false
	}
	var in writeToolInput
	if json.Unmarshal(raw, &in) != nil || in.FilePath == "" {
		return PlanRef{}, false
	}
	base := strings.ToLower(filepath.Base(in.FilePath))
	if !strings.Contains(base, "plan") || !strings.HasSuffix(base, ".md") {
		return PlanRef{}, false
	}
	if !strings.Contains(filepath.ToSlash(in.FilePath), ".jacques/plans/") {
		return PlanRef{}, false
	}
	title := PlanTitle(in.Content)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(in.FilePath), ".md")
	}
	return PlanRef{
		Title:        title,
		Source:       PlanWrite,
		MessageIndex: index,
		FilePath:     in.FilePath,
		Body:         in.Content,
	}, true
}

type exitPlanInput struct {
	Plan string `json:"plan"`
}

func detectExitPlan(raw json.RawMessage, index int) (PlanRef, bool) {
	if raw == nil {
		return PlanRef{}, false
	}
	var in exitPlanInput
	if json.Unmarshal(raw, &in) != nil || strings.TrimSpace(in.Plan) == "" {
		return PlanRef{}, false
	}
	body := strings.TrimSpace(in.Plan)
	return PlanRef{
		Title:        PlanTitle(body),
		Source:       PlanEmbedded,
		MessageIndex: index,
		Body:         body,
	}, true
}

type agentToolInput struct {
	SubagentType string `json:"subagent_type"`
	Description  string `json:"description"`
	Prompt       string `json:"prompt"`
}

// detectAgentPlan recognises exploration sub-agents asked to produce a plan.
func detectAgentPlan(raw json.RawMessage, index int) (PlanRef, bool) {
	if raw == nil {
		return PlanRef{}, false
	}
	var in agentToolInput
	if json.Unmarshal(raw, &in) != nil {
		return PlanRef{}, false
	}
	if !strings.Contains(strings.ToLower(in.Prompt), "plan") &&
		!strings.Contains(strings.ToLower(in.Description), "plan") {
		return PlanRef{}, false
	}
	title := strings.TrimSpace(in.Description)
	if title == "" {
		title = "Exploration plan"
	}
	return PlanRef{
		Title:        title,
		Source:       PlanAgent,
		MessageIndex: index,
	}, true
}
