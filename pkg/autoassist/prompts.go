package autoassist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cexll/assisthub-go/pkg/assistant"
	"github.com/cexll/assisthub-go/pkg/model"
)

const decompositionPrompt = `Split the following request into 2 to 4 ordered, logically distinct subtasks.
Respond with a strict JSON array of strings and nothing else.

Request:
%s`

const routingPromptHeader = `You route tasks to assistants. Known assistants (title: summary):
%s
Pick the single best assistant for the task below, or null when none fits.
Respond with a strict JSON object: {"assistantTitle": string or null}. Nothing else.`

// decompose asks the gateway to split request into subtasks. A reply that
// does not parse as a JSON array of strings degrades to a single subtask
// equal to the whole request; only a transport failure is an error.
func (o *Orchestrator) decompose(ctx context.Context, request string) ([]string, error) {
	reply, err := o.completer.Complete(ctx, model.Request{
		Messages: []model.Message{model.UserMessage(fmt.Sprintf(decompositionPrompt, request))},
	})
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	tasks := parseStringArray(reply)
	if len(tasks) == 0 {
		return []string{request}, nil
	}
	return tasks, nil
}

// route asks the gateway which assistant should handle subtask i. With more
// than one subtask the immediately preceding and following subtask texts
// are included for continuity. Parse failures and unknown titles mean "no
// match", never an error.
func (o *Orchestrator) route(ctx context.Context, roster assistant.Roster, tasks []string, i int) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, routingPromptHeader, rosterListing(roster))
	b.WriteString("\n\nTask: ")
	b.WriteString(tasks[i])
	if len(tasks) > 1 {
		if i > 0 {
			b.WriteString("\nPreceding task: ")
			b.WriteString(tasks[i-1])
		}
		if i < len(tasks)-1 {
			b.WriteString("\nFollowing task: ")
			b.WriteString(tasks[i+1])
		}
	}
	reply, err := o.completer.Complete(ctx, model.Request{
		Messages: []model.Message{model.UserMessage(b.String())},
	})
	if err != nil {
		return "", fmt.Errorf("route subtask %d: %w", i, err)
	}

	var parsed struct {
		AssistantTitle *string `json:"assistantTitle"`
	}
	obj := extractJSON(reply, '{', '}')
	if obj == "" || json.Unmarshal([]byte(obj), &parsed) != nil || parsed.AssistantTitle == nil {
		return "", nil
	}
	matched := roster.Find(*parsed.AssistantTitle)
	if matched == nil {
		return "", nil
	}
	return matched.Title, nil
}

func rosterListing(roster assistant.Roster) string {
	if len(roster) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, a := range roster {
		b.WriteString("- ")
		b.WriteString(a.Title)
		if a.Summary != "" {
			b.WriteString(": ")
			b.WriteString(a.Summary)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseStringArray pulls the outermost JSON array out of a model reply and
// keeps its non-empty string elements.
func parseStringArray(reply string) []string {
	raw := extractJSON(reply, '[', ']')
	if raw == "" {
		return nil
	}
	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// extractJSON returns the span between the first open and last close
// delimiter, tolerating prose around the payload.
func extractJSON(s string, opening, closing byte) string {
	start := strings.IndexByte(s, opening)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
