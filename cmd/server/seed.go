package main

import (
	"context"
	"fmt"

	"github.com/elfrid-labs/elfrid/internal/domain"
	"github.com/elfrid-labs/elfrid/internal/store"
)

// seedDemoData provisions user 1 with the demo modes and memory used
// for local development. Idempotent; existing documents are overwritten.
func seedDemoData(ctx context.Context, repo *store.SQLiteStore) error {
	user := &domain.User{
		UserID:     1,
		WorldModel: `{"mindset": "athlete"}`,
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("seed user: %w", err)
	}

	modes := []domain.Mode{
		{UserID: user.UserID, Name: "physical", Data: `{"activities": []}`},
		{UserID: user.UserID, Name: "work", Data: `{"tasks": []}`},
		{UserID: user.UserID, Name: "schedule", Data: `{"events": [{"time": "3 PM", "title": "Team Sync"}]}`},
	}
	for _, m := range modes {
		if err := repo.UpsertMode(ctx, m.UserID, m.Name, domain.Document(m.Data)); err != nil {
			return fmt.Errorf("seed mode %q: %w", m.Name, err)
		}
	}

	memory := []domain.MemoryRecord{
		{
			UserID:    user.UserID,
			TableName: "nutrition",
			Data:      `{"meals": [{"time": "8 AM", "meal": "Oatmeal", "calories": 200, "protein": 10}], "min_protein": 80}`,
		},
	}
	for _, rec := range memory {
		if err := repo.UpsertMemory(ctx, rec.UserID, rec.TableName, domain.Document(rec.Data)); err != nil {
			return fmt.Errorf("seed memory %q: %w", rec.TableName, err)
		}
	}

	return nil
}
