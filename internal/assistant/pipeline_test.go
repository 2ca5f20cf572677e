package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/elfrid-labs/elfrid/internal/agents"
	"github.com/elfrid-labs/elfrid/internal/store"
)

// stubCompletion returns canned responses in order and records the
// prompts it saw.
type stubCompletion struct {
	responses []string
	prompts   []string
	err       error
}

func (s *stubCompletion) Complete(_ context.Context, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.prompts = append(s.prompts, prompt)
	if len(s.responses) == 0 {
		return "", errors.New("stub exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func TestProcessRequestEndToEnd(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t, 1)
	ctx := context.Background()

	if err := repo.UpsertMode(ctx, 1, "schedule", `{"events":[{"time":"3 PM","title":"Team Sync"}]}`); err != nil {
		t.Fatalf("UpsertMode failed: %v", err)
	}

	stub := &stubCompletion{responses: []string{
		`[{"action":"read","type":"mode","table_name":"schedule"}]`,
		"You have Team Sync at 3 PM, sir.",
	}}
	p := NewPipeline(repo, stub, agents.NewRegistry(), nil)

	reply, err := p.ProcessRequest(ctx, 1, "What's on my schedule?")
	if err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if reply != "You have Team Sync at 3 PM, sir." {
		t.Fatalf("unexpected reply: %q", reply)
	}

	if len(stub.prompts) != 2 {
		t.Fatalf("expected 2 completion calls, got %d", len(stub.prompts))
	}
	// The synthesis prompt carries what the dispatched read gathered.
	if !strings.Contains(stub.prompts[1], "Team Sync") {
		t.Errorf("synthesis prompt missing action context:\n%s", stub.prompts[1])
	}
	if !strings.Contains(stub.prompts[1], "mode_schedule") {
		t.Errorf("synthesis prompt missing context key:\n%s", stub.prompts[1])
	}

	// Exactly one log entry was appended with the input and reply.
	sess, err := repo.CurrentSession(ctx, 1)
	if err != nil || sess == nil {
		t.Fatalf("expected a session, got %v, %v", sess, err)
	}
	history, err := repo.SessionHistory(ctx, sess.SessionID, 10)
	if err != nil {
		t.Fatalf("SessionHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one logged exchange, got %d", len(history))
	}
	if history[0].Request != "What's on my schedule?" || history[0].Response != reply {
		t.Fatalf("unexpected log entry: %+v", history[0])
	}
}

func TestProcessRequestMalformedPlan(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t, 1)
	ctx := context.Background()

	stub := &stubCompletion{responses: []string{
		"I think you need to check your calendar",
	}}
	p := NewPipeline(repo, stub, agents.NewRegistry(), nil)

	_, err := p.ProcessRequest(ctx, 1, "What's up?")
	if !errors.Is(err, ErrMalformedPlan) {
		t.Fatalf("expected ErrMalformedPlan, got %v", err)
	}

	// No log entry is written for a failed request.
	sess, err := repo.CurrentSession(ctx, 1)
	if err != nil || sess == nil {
		t.Fatalf("expected default session, got %v, %v", sess, err)
	}
	history, err := repo.SessionHistory(ctx, sess.SessionID, 10)
	if err != nil {
		t.Fatalf("SessionHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no logged exchanges, got %d", len(history))
	}
}

func TestProcessRequestUnknownUser(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t, 1)

	stub := &stubCompletion{responses: []string{"[]", "hello"}}
	p := NewPipeline(repo, stub, agents.NewRegistry(), nil)

	_, err := p.ProcessRequest(context.Background(), 9999, "hello?")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
	// The model is never consulted for an unknown user.
	if len(stub.prompts) != 0 {
		t.Fatalf("expected no completion calls, got %d", len(stub.prompts))
	}
}

func TestAssembleCreatesDefaultSessionOnce(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t, 1)
	ctx := context.Background()

	a := NewAssembler(repo)
	first, err := a.Assemble(ctx, 1)
	if err != nil {
		t.Fatalf("first Assemble failed: %v", err)
	}
	if first.ChatState != "{}" {
		t.Fatalf("expected empty chat state, got %q", first.ChatState)
	}

	second, err := a.Assemble(ctx, 1)
	if err != nil {
		t.Fatalf("second Assemble failed: %v", err)
	}
	if first.SessionID != second.SessionID {
		t.Fatalf("expected stable session, got %d then %d", first.SessionID, second.SessionID)
	}
}

func TestAssembleBundleContents(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t, 1)
	ctx := context.Background()

	if err := repo.UpsertMode(ctx, 1, "work", `{"tasks":[]}`); err != nil {
		t.Fatalf("UpsertMode failed: %v", err)
	}
	if err := repo.UpsertMemory(ctx, 1, "nutrition", `{"meals":[]}`); err != nil {
		t.Fatalf("UpsertMemory failed: %v", err)
	}

	rc, err := NewAssembler(repo).Assemble(ctx, 1)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if rc.IdentityPrompt == "" {
		t.Error("expected identity prompt")
	}
	if !strings.Contains(rc.WorldModel, "athlete") {
		t.Errorf("unexpected world model: %q", rc.WorldModel)
	}
	if len(rc.Modes) != 1 || rc.Modes[0].Name != "work" {
		t.Errorf("unexpected modes: %+v", rc.Modes)
	}
	if len(rc.MemoryTables) != 1 || rc.MemoryTables[0] != "nutrition" {
		t.Errorf("unexpected memory tables: %v", rc.MemoryTables)
	}
	found := false
	for _, name := range rc.AllTables {
		if name == "sessions" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected sessions in table list: %v", rc.AllTables)
	}
}

func TestProcessRequestServiceFailure(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t, 1)

	stub := &stubCompletion{err: errors.New("upstream down")}
	p := NewPipeline(repo, stub, agents.NewRegistry(), nil)

	_, err := p.ProcessRequest(context.Background(), 1, "hello")
	if err == nil {
		t.Fatal("expected failure when the completion service is down")
	}
}
