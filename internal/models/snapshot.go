package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// CacheKind identifies a cached read-model. Each kind has its own table.
type CacheKind string

const (
	CachePost         CacheKind = "post"
	CacheJournalEntry CacheKind = "journal-entry"
	CacheMoodEntry    CacheKind = "mood-entry"
)

var cacheTables = map[CacheKind]string{
	CachePost:         "cached_posts",
	CacheJournalEntry: "cached_journal_entries",
	CacheMoodEntry:    "cached_mood_entries",
}

// AllCacheKinds returns every cache kind in a stable order.
func AllCacheKinds() []CacheKind {
	return []CacheKind{CachePost, CacheJournalEntry, CacheMoodEntry}
}

// Valid reports whether k is a known cache kind.
func (k CacheKind) Valid() bool {
	_, ok := cacheTables[k]
	return ok
}

// Table returns the table backing k. Only valid kinds have a table.
func (k CacheKind) Table() string {
	return cacheTables[k]
}

// ParseCacheKind converts a wire name to a CacheKind.
func ParseCacheKind(s string) (CacheKind, error) {
	k := CacheKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown cache kind %q", s)
	}
	return k, nil
}

// CachedSnapshot is one cached, already-rendered read-model item.
type CachedSnapshot struct {
	Kind     CacheKind       `db:"-" json:"kind"`
	ID       string          `db:"id" json:"id"`
	Scope    string          `db:"scope_id" json:"scope"`
	Payload  json.RawMessage `db:"payload_json" json:"payload"`
	CachedAt int64           `db:"cached_at" json:"cached_at"` // unix nanoseconds
}

// CachedAtTime returns CachedAt as time.Time.
func (s *CachedSnapshot) CachedAtTime() time.Time {
	return time.Unix(0, s.CachedAt)
}

// Decode unmarshals the payload into v.
func (s *CachedSnapshot) Decode(v interface{}) error {
	if err := json.Unmarshal(s.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s snapshot %s: %w", s.Kind, s.ID, err)
	}
	return nil
}

// PostView is the denormalized social post shown in the feed.
type PostView struct {
	ID           string  `json:"id"`
	AuthorID     string  `json:"author_id"`
	AuthorName   string  `json:"author_name"`
	AvatarURL    *string `json:"avatar_url,omitempty"`
	Content      string  `json:"content"`
	ImageURL     *string `json:"image_url,omitempty"`
	LikeCount    int     `json:"like_count"`
	CommentCount int     `json:"comment_count"`
	CreatedAt    int64   `json:"created_at"`
}

// JournalEntryView is a journal entry as rendered in a connection's journal.
type JournalEntryView struct {
	ID           string  `json:"id"`
	ConnectionID string  `json:"connection_id"`
	AuthorID     string  `json:"author_id"`
	AuthorName   string  `json:"author_name"`
	Content      string  `json:"content"`
	ImageURL     *string `json:"image_url,omitempty"`
	CreatedAt    int64   `json:"created_at"`
}

// MoodEntryView is a logged mood as rendered in the mood history.
type MoodEntryView struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Mood      string  `json:"mood"`
	Notes     *string `json:"notes,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// TodoItemView is a to-do item as returned by the remote service.
type TodoItemView struct {
	ID          string  `json:"id"`
	ClientID    string  `json:"client_id,omitempty"`
	OwnerID     string  `json:"owner_id"`
	Title       string  `json:"title"`
	Notes       *string `json:"notes,omitempty"`
	DueAt       *int64  `json:"due_at,omitempty"`
	Completed   bool    `json:"completed"`
	CompletedAt *int64  `json:"completed_at,omitempty"`
}
