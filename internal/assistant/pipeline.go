package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elfrid-labs/elfrid/internal/agents"
	"github.com/elfrid-labs/elfrid/internal/domain"
	"github.com/elfrid-labs/elfrid/internal/llm"
	"github.com/elfrid-labs/elfrid/internal/store"
)

// Pipeline orchestrates one request: gather context, ask the model for
// a plan, dispatch the plan, ask the model to synthesize a reply, log
// the exchange.
//
// A malformed plan, a completion-service failure at either call, and a
// log-append failure are all hard failures of the request; per-action
// store failures are not (see Dispatcher).
type Pipeline struct {
	repo       store.Repository
	completion llm.CompletionService
	assembler  *Assembler
	dispatcher *Dispatcher
	ilog       *InteractionLogger
}

// NewPipeline wires the pipeline over its collaborators. ilog may be
// nil when interaction logging is disabled.
func NewPipeline(repo store.Repository, completion llm.CompletionService, registry *agents.Registry, ilog *InteractionLogger) *Pipeline {
	return &Pipeline{
		repo:       repo,
		completion: completion,
		assembler:  NewAssembler(repo),
		dispatcher: NewDispatcher(repo, registry),
		ilog:       ilog,
	}
}

// ProcessRequest runs the full pipeline for one inbound request and
// returns the assistant's reply.
func (p *Pipeline) ProcessRequest(ctx context.Context, userID int64, input string) (string, error) {
	started := time.Now()

	rc, err := p.assembler.Assemble(ctx, userID)
	if err != nil {
		return "", err
	}

	planText, err := p.completion.Complete(ctx, p.planPrompt(rc, input))
	if err != nil {
		return "", fmt.Errorf("plan phase: %w", err)
	}
	p.record(rc, "plan", planText)

	items, err := ExtractPlan(planText)
	if err != nil {
		return "", err
	}

	actionContext := p.dispatcher.Execute(ctx, userID, items)
	p.record(rc, "dispatch", fmt.Sprintf("%d plan item(s), %d context entrie(s)", len(items), len(actionContext)))

	reply, err := p.completion.Complete(ctx, p.synthesisPrompt(rc, input, actionContext))
	if err != nil {
		return "", fmt.Errorf("synthesis phase: %w", err)
	}
	p.record(rc, "synthesize", reply)

	// The logs table is the only durable record of the exchange, so a
	// failed append fails the whole request.
	entry := &domain.LogEntry{
		UserID:    userID,
		SessionID: rc.SessionID,
		Request:   input,
		Response:  reply,
		Timestamp: time.Now(),
	}
	if err := p.repo.AppendLog(ctx, entry); err != nil {
		if store.IsSQLiteBusy(err) {
			slog.Warn("log append hit a busy database", "user_id", userID, "session_id", rc.SessionID)
		}
		return "", fmt.Errorf("log exchange: %w", err)
	}
	p.record(rc, "log", "exchange recorded")

	slog.Info("request processed",
		"user_id", userID,
		"session_id", rc.SessionID,
		"plan_items", len(items),
		"duration", time.Since(started))
	return reply, nil
}

// NewSession creates a fresh session for the user and returns its ID.
func (p *Pipeline) NewSession(ctx context.Context, userID int64) (int64, error) {
	if err := p.repo.ValidateUser(ctx, userID); err != nil {
		return 0, err
	}
	return p.repo.CreateSession(ctx, userID)
}

func (p *Pipeline) record(rc *RequestContext, phase, detail string) {
	if p.ilog == nil {
		return
	}
	p.ilog.Log(InteractionLogEvent{
		UserID:    rc.UserID,
		SessionID: rc.SessionID,
		Phase:     phase,
		Detail:    detail,
	})
}

// planPrompt asks the model which actions it needs before answering.
func (p *Pipeline) planPrompt(rc *RequestContext, input string) string {
	var b strings.Builder
	b.WriteString("You are Elfrid, analyzing a request.\n")
	fmt.Fprintf(&b, "Available modes: %s.\n", encodeModes(rc.Modes))
	fmt.Fprintf(&b, "Memory tables: %s.\n", mustJSON(stringsOrEmpty(rc.MemoryTables)))
	fmt.Fprintf(&b, "All database tables: %s.\n", mustJSON(stringsOrEmpty(rc.AllTables)))
	fmt.Fprintf(&b, "Agents: %s.\n", mustJSON(p.dispatcher.registry.Names()))
	fmt.Fprintf(&b, "Session history: %s.\n", encodeHistory(rc.History))
	fmt.Fprintf(&b, "Input: %s.\n", input)
	b.WriteString(`Decide which actions you need before responding. Return only a JSON array of action objects; return [] if none are needed.
Each object has an "action" field, one of:
  {"action":"read","type":"memory"|"mode","table_name":"..."}
  {"action":"update","type":"memory"|"mode","table_name":"...","data":"<JSON text>"}
  {"action":"create_table","table_name":"...","schema":"<CREATE TABLE ...>"}
  {"action":"list_tables"}
  {"action":"get_schema","table_name":"..."} (table_name optional)
  {"action":"execute_query","query":"SELECT ..."}
  {"action":"insert_data","table_name":"...","values":{...}}
  {"action":"update_data","table_name":"...","condition":{...},"values":{...}}
  {"action":"call","type":"agent","agent_name":"..."}`)
	return b.String()
}

// synthesisPrompt asks the model to answer in persona with everything
// the dispatched actions gathered.
func (p *Pipeline) synthesisPrompt(rc *RequestContext, input string, actionContext map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are Elfrid, defined by: %s.\n", rc.IdentityPrompt)
	fmt.Fprintf(&b, "User's world model: %s.\n", rc.WorldModel)
	fmt.Fprintf(&b, "Available modes: %s.\n", encodeModes(rc.Modes))
	fmt.Fprintf(&b, "Memory tables: %s.\n", mustJSON(stringsOrEmpty(rc.MemoryTables)))
	fmt.Fprintf(&b, "All database tables: %s.\n", mustJSON(stringsOrEmpty(rc.AllTables)))
	fmt.Fprintf(&b, "Current session state: %s.\n", rc.ChatState)
	fmt.Fprintf(&b, "Session history: %s.\n", encodeHistory(rc.History))
	fmt.Fprintf(&b, "Additional context: %s.\n", mustJSON(actionContext))
	fmt.Fprintf(&b, "Input: %s.\n", input)
	b.WriteString("Respond naturally as a formal, concise butler, choosing the best mode(s) if relevant.")
	return b.String()
}

func encodeModes(modes []domain.Mode) string {
	type promptMode struct {
		Name string `json:"mode_name"`
		Data string `json:"mode_data"`
	}
	out := make([]promptMode, len(modes))
	for i, m := range modes {
		out[i] = promptMode{Name: m.Name, Data: m.Data}
	}
	return mustJSON(out)
}

func encodeHistory(history []domain.Exchange) string {
	if len(history) == 0 {
		return "[]"
	}
	return mustJSON(history)
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
