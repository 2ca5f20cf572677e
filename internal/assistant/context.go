package assistant

import (
	"context"
	"fmt"

	"github.com/elfrid-labs/elfrid/internal/domain"
	"github.com/elfrid-labs/elfrid/internal/store"
)

// historyLimit caps how many prior exchanges are loaded into a prompt.
const historyLimit = 20

// RequestContext is the immutable bundle of stored state the model
// needs to reason about one request.
type RequestContext struct {
	UserID         int64
	IdentityPrompt string
	WorldModel     string
	Modes          []domain.Mode
	MemoryTables   []string
	AllTables      []string
	SessionID      int64
	ChatState      string
	History        []domain.Exchange
}

// Assembler gathers the per-request context bundle from the store.
type Assembler struct {
	repo store.Repository
}

// NewAssembler creates a context assembler over the given repository.
func NewAssembler(repo store.Repository) *Assembler {
	return &Assembler{repo: repo}
}

// Assemble reads the full context bundle for userID. The current
// session is the most recently created one; when the user has none, a
// session with empty chat state is created as a side effect. Fails with
// store.ErrNotFound for an unknown user before anything else happens.
func (a *Assembler) Assemble(ctx context.Context, userID int64) (*RequestContext, error) {
	if err := a.repo.ValidateUser(ctx, userID); err != nil {
		return nil, err
	}

	identity, err := a.repo.GetIdentityPrompt(ctx)
	if err != nil {
		return nil, fmt.Errorf("assemble identity prompt: %w", err)
	}

	worldModel, err := a.repo.GetWorldModel(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("assemble world model: %w", err)
	}

	modes, err := a.repo.ListModes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("assemble modes: %w", err)
	}

	memoryTables, err := a.repo.ListMemoryTables(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("assemble memory tables: %w", err)
	}

	allTables, err := a.repo.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("assemble table list: %w", err)
	}

	sess, err := a.repo.CurrentSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("assemble session: %w", err)
	}

	var sessionID int64
	chatState := "{}"
	if sess != nil {
		sessionID = sess.SessionID
		if sess.ChatState != "" {
			chatState = sess.ChatState
		}
	} else {
		sessionID, err = a.repo.CreateSession(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("create default session: %w", err)
		}
	}

	history, err := a.repo.SessionHistory(ctx, sessionID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("assemble session history: %w", err)
	}

	return &RequestContext{
		UserID:         userID,
		IdentityPrompt: identity,
		WorldModel:     worldModel,
		Modes:          modes,
		MemoryTables:   memoryTables,
		AllTables:      allTables,
		SessionID:      sessionID,
		ChatState:      chatState,
		History:        history,
	}, nil
}
