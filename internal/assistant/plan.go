// Package assistant implements the action-resolution pipeline: context
// assembly, the two-phase model interaction, and plan dispatch.
package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedPlan means the model's plan response was not a JSON array
// after cleanup. A malformed plan is a hard failure of the request.
var ErrMalformedPlan = errors.New("malformed plan")

// Action identifies one kind of plan item.
type Action string

// The closed action vocabulary a plan may request.
const (
	ActionRead         Action = "read"
	ActionUpdate       Action = "update"
	ActionCreateTable  Action = "create_table"
	ActionListTables   Action = "list_tables"
	ActionGetSchema    Action = "get_schema"
	ActionExecuteQuery Action = "execute_query"
	ActionInsertData   Action = "insert_data"
	ActionUpdateData   Action = "update_data"
	ActionCall         Action = "call"
)

// PlanItem is one model-proposed instruction. Which fields are required
// depends on the action; the dispatcher validates per action and skips
// items that do not hold together.
type PlanItem struct {
	Action    Action         `json:"action"`
	Type      string         `json:"type,omitempty"`       // read/update: "memory"|"mode"; call: "agent"
	TableName string         `json:"table_name,omitempty"` // read/update/create_table/get_schema/insert_data/update_data
	Data      string         `json:"data,omitempty"`       // update: JSON text
	Schema    string         `json:"schema,omitempty"`     // create_table: DDL text
	Query     string         `json:"query,omitempty"`      // execute_query: SELECT text
	Values    map[string]any `json:"values,omitempty"`     // insert_data/update_data: column -> value
	Condition map[string]any `json:"condition,omitempty"`  // update_data: column -> value
	AgentName string         `json:"agent_name,omitempty"` // call
}

// ExtractPlan parses the model's plan response into plan items. Models
// habitually wrap JSON in code fences or narrate around it, so the text
// is cleaned first: fence markers are stripped, then the outermost
// [..] span is taken. One parse attempt; anything that still is not a
// JSON array fails with ErrMalformedPlan.
func ExtractPlan(text string) ([]PlanItem, error) {
	cleaned := stripFences(text)

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON array in %q", ErrMalformedPlan, snippet(text))
	}
	cleaned = cleaned[start : end+1]

	var items []PlanItem
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}
	return items, nil
}

// stripFences removes surrounding ``` or ```json code-fence markup,
// returning the fenced body when one exists.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}

	parts := strings.SplitN(trimmed, "```", 3)
	if len(parts) < 2 {
		return trimmed
	}
	body := parts[1]
	body = strings.TrimPrefix(body, "json")
	return strings.TrimSpace(body)
}

func snippet(text string) string {
	const max = 80
	text = strings.TrimSpace(text)
	if len(text) > max {
		return text[:max] + "..."
	}
	return text
}
