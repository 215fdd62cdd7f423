// Package dispatch binds queued operation kinds to the collaborator calls that replay them.
package dispatch

import (
	"context"

	"github.com/kimhsiao/journalsync/internal/models"
)

// JournalService writes shared journal entries.
type JournalService interface {
	CreateJournalEntry(ctx context.Context, in models.CreateJournalEntry) (*models.JournalEntryView, error)
}

// MoodService logs moods.
type MoodService interface {
	CreateMoodEntry(ctx context.Context, in models.CreateMoodEntry) (*models.MoodEntryView, error)
}

// TodoService manages to-do items.
type TodoService interface {
	CreateTodoItem(ctx context.Context, in models.CreateTodoItem) (*models.TodoItemView, error)
	UpdateTodoItem(ctx context.Context, in models.UpdateTodoItem) (*models.TodoItemView, error)
	CompleteTodoItem(ctx context.Context, in models.CompleteTodoItem) (*models.TodoItemView, error)
}

// SocialService publishes posts.
type SocialService interface {
	CreatePost(ctx context.Context, in models.CreatePost) (*models.PostView, error)
}

// Services groups the collaborators. Every field is required by NewRegistry.
type Services struct {
	Journal JournalService
	Mood    MoodService
	Todo    TodoService
	Social  SocialService
}

// SnapshotSink receives entities returned by successful live writes so the
// read cache reflects them. Errors are logged, never fatal to the dispatch.
type SnapshotSink interface {
	Upsert(ctx context.Context, snap *models.CachedSnapshot) error
}

type operationIDKey struct{}

// WithOperationID attaches the queued operation id to ctx.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey{}, id)
}

// OperationID returns the id of the operation being replayed, for use as an
// idempotency key. Empty outside a dispatch.
func OperationID(ctx context.Context) string {
	id, _ := ctx.Value(operationIDKey{}).(string)
	return id
}
