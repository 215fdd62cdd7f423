package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// OperationPayload is the typed collaborator input carried by a queued operation.
// Each payload type is bound to exactly one OperationKind.
type OperationPayload interface {
	Kind() OperationKind
	Version() int
	Validate() error
}

const maxMoodLength = 32

// CreateJournalEntry is the input of JournalService.CreateJournalEntry.
type CreateJournalEntry struct {
	ConnectionID string  `json:"connection_id"`
	AuthorID     string  `json:"author_id"`
	Content      string  `json:"content"`
	ImageURL     *string `json:"image_url,omitempty"`
}

func (CreateJournalEntry) Kind() OperationKind { return KindCreateJournalEntry }
func (CreateJournalEntry) Version() int        { return 1 }

// Validate checks required fields.
func (p CreateJournalEntry) Validate() error {
	if p.ConnectionID == "" {
		return fmt.Errorf("connection_id is required")
	}
	if p.AuthorID == "" {
		return fmt.Errorf("author_id is required")
	}
	if strings.TrimSpace(p.Content) == "" && p.ImageURL == nil {
		return fmt.Errorf("content or image_url is required")
	}
	return nil
}

// CreateMoodEntry is the input of MoodService.CreateMoodEntry.
type CreateMoodEntry struct {
	UserID string  `json:"user_id"`
	Mood   string  `json:"mood"`
	Notes  *string `json:"notes,omitempty"`
}

func (CreateMoodEntry) Kind() OperationKind { return KindCreateMoodEntry }
func (CreateMoodEntry) Version() int        { return 1 }

// Validate checks required fields.
func (p CreateMoodEntry) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	mood := strings.TrimSpace(p.Mood)
	if mood == "" {
		return fmt.Errorf("mood is required")
	}
	if len(mood) > maxMoodLength {
		return fmt.Errorf("mood exceeds %d characters", maxMoodLength)
	}
	return nil
}

// CreateTodoItem is the input of TodoService.CreateTodoItem. ClientID is
// generated locally so later update/complete operations queued while offline
// can refer to the item before the remote assigns its own identifier.
type CreateTodoItem struct {
	ClientID string  `json:"client_id"`
	OwnerID  string  `json:"owner_id"`
	Title    string  `json:"title"`
	Notes    *string `json:"notes,omitempty"`
	DueAt    *int64  `json:"due_at,omitempty"`
}

func (CreateTodoItem) Kind() OperationKind { return KindCreateTodoItem }
func (CreateTodoItem) Version() int        { return 1 }

// Validate checks required fields.
func (p CreateTodoItem) Validate() error {
	if p.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if p.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// UpdateTodoItem is the input of TodoService.UpdateTodoItem. Nil fields are
// left unchanged.
type UpdateTodoItem struct {
	TodoID string  `json:"todo_id"`
	Title  *string `json:"title,omitempty"`
	Notes  *string `json:"notes,omitempty"`
	DueAt  *int64  `json:"due_at,omitempty"`
}

func (UpdateTodoItem) Kind() OperationKind { return KindUpdateTodoItem }
func (UpdateTodoItem) Version() int        { return 1 }

// Validate checks required fields.
func (p UpdateTodoItem) Validate() error {
	if p.TodoID == "" {
		return fmt.Errorf("todo_id is required")
	}
	if p.Title == nil && p.Notes == nil && p.DueAt == nil {
		return fmt.Errorf("at least one field must change")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("title cannot be blank")
	}
	return nil
}

// CompleteTodoItem is the input of TodoService.CompleteTodoItem.
type CompleteTodoItem struct {
	TodoID      string `json:"todo_id"`
	CompletedAt int64  `json:"completed_at"`
}

func (CompleteTodoItem) Kind() OperationKind { return KindCompleteTodoItem }
func (CompleteTodoItem) Version() int        { return 1 }

// Validate checks required fields.
func (p CompleteTodoItem) Validate() error {
	if p.TodoID == "" {
		return fmt.Errorf("todo_id is required")
	}
	if p.CompletedAt <= 0 {
		return fmt.Errorf("completed_at is required")
	}
	return nil
}

// CreatePost is the input of SocialService.CreatePost.
type CreatePost struct {
	AuthorID string  `json:"author_id"`
	Content  string  `json:"content"`
	ImageURL *string `json:"image_url,omitempty"`
}

func (CreatePost) Kind() OperationKind { return KindCreatePost }
func (CreatePost) Version() int        { return 1 }

// Validate checks required fields.
func (p CreatePost) Validate() error {
	if p.AuthorID == "" {
		return fmt.Errorf("author_id is required")
	}
	if strings.TrimSpace(p.Content) == "" && p.ImageURL == nil {
		return fmt.Errorf("content or image_url is required")
	}
	return nil
}

// NewPayload returns a zero payload of the type bound to kind.
func NewPayload(kind OperationKind) (OperationPayload, error) {
	switch kind {
	case KindCreateJournalEntry:
		return &CreateJournalEntry{}, nil
	case KindCreateMoodEntry:
		return &CreateMoodEntry{}, nil
	case KindCreateTodoItem:
		return &CreateTodoItem{}, nil
	case KindUpdateTodoItem:
		return &UpdateTodoItem{}, nil
	case KindCompleteTodoItem:
		return &CompleteTodoItem{}, nil
	case KindCreatePost:
		return &CreatePost{}, nil
	}
	return nil, fmt.Errorf("unknown operation kind %q", kind)
}

// DecodePayload strictly decodes data into the payload type bound to kind and
// validates it. Unknown fields are rejected.
func DecodePayload(kind OperationKind, data []byte) (OperationPayload, error) {
	p, err := NewPayload(kind)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Compile-time checks that every payload satisfies OperationPayload.
var (
	_ OperationPayload = CreateJournalEntry{}
	_ OperationPayload = CreateMoodEntry{}
	_ OperationPayload = CreateTodoItem{}
	_ OperationPayload = UpdateTodoItem{}
	_ OperationPayload = CompleteTodoItem{}
	_ OperationPayload = CreatePost{}
)
