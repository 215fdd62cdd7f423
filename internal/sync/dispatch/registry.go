package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/logging"
	"github.com/kimhsiao/journalsync/internal/models"
)

// Dispatcher replays one pending operation.
type Dispatcher interface {
	Dispatch(ctx context.Context, op *models.PendingOperation) error
}

type binding struct {
	version int
	call    func(ctx context.Context, raw json.RawMessage) error
}

// Registry is the closed table of kind to collaborator bindings.
type Registry struct {
	bindings map[models.OperationKind]binding
}

// NewEmptyRegistry creates a Registry with no bindings.
func NewEmptyRegistry() *Registry {
	return &Registry{bindings: make(map[models.OperationKind]binding)}
}

// Register binds the kind of P to handler. The payload is decoded into P
// before handler runs. Registering a kind twice panics.
func Register[P models.OperationPayload](r *Registry, handler func(ctx context.Context, p P) error) {
	var zero P
	kind := zero.Kind()
	if _, exists := r.bindings[kind]; exists {
		panic(fmt.Sprintf("dispatch: kind %s registered twice", kind))
	}

	r.bindings[kind] = binding{
		version: zero.Version(),
		call: func(ctx context.Context, raw json.RawMessage) error {
			var p P
			if err := json.Unmarshal(raw, &p); err != nil {
				return errors.Wrap(errors.ErrInvalid, "undecodable "+kind.String()+" payload", err)
			}
			return handler(ctx, p)
		},
	}
}

// Kinds returns the bound kinds, sorted.
func (r *Registry) Kinds() []models.OperationKind {
	kinds := make([]models.OperationKind, 0, len(r.bindings))
	for k := range r.bindings {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dispatch decodes op and calls its collaborator. Unknown kinds, unsupported
// versions and undecodable payloads are permanent errors.
func (r *Registry) Dispatch(ctx context.Context, op *models.PendingOperation) error {
	b, ok := r.bindings[op.Kind]
	if !ok {
		return errors.Newf(errors.ErrUnknownKind, "no collaborator bound for kind %q", op.Kind)
	}
	if op.PayloadVersion != b.version {
		return errors.Newf(errors.ErrInvalid, "unsupported %s payload version %d", op.Kind, op.PayloadVersion)
	}
	return b.call(WithOperationID(ctx, op.ID), op.Payload)
}

// NewRegistry binds every operation kind to svc. When sink is non-nil, the
// entity returned by a successful create is written to the snapshot cache.
func NewRegistry(svc Services, sink SnapshotSink) *Registry {
	r := NewEmptyRegistry()

	Register(r, func(ctx context.Context, p models.CreateJournalEntry) error {
		v, err := svc.Journal.CreateJournalEntry(ctx, p)
		if err != nil {
			return err
		}
		if v != nil {
			refresh(ctx, sink, models.CacheJournalEntry, v.ID, v.ConnectionID, v)
		}
		return nil
	})
	Register(r, func(ctx context.Context, p models.CreateMoodEntry) error {
		v, err := svc.Mood.CreateMoodEntry(ctx, p)
		if err != nil {
			return err
		}
		if v != nil {
			refresh(ctx, sink, models.CacheMoodEntry, v.ID, v.UserID, v)
		}
		return nil
	})
	Register(r, func(ctx context.Context, p models.CreateTodoItem) error {
		_, err := svc.Todo.CreateTodoItem(ctx, p)
		return err
	})
	Register(r, func(ctx context.Context, p models.UpdateTodoItem) error {
		_, err := svc.Todo.UpdateTodoItem(ctx, p)
		return err
	})
	Register(r, func(ctx context.Context, p models.CompleteTodoItem) error {
		_, err := svc.Todo.CompleteTodoItem(ctx, p)
		return err
	})
	Register(r, func(ctx context.Context, p models.CreatePost) error {
		v, err := svc.Social.CreatePost(ctx, p)
		if err != nil {
			return err
		}
		if v != nil {
			refresh(ctx, sink, models.CachePost, v.ID, v.AuthorID, v)
		}
		return nil
	})

	return r
}

func refresh(ctx context.Context, sink SnapshotSink, kind models.CacheKind, id, scope string, v interface{}) {
	if sink == nil || id == "" {
		return
	}
	data, err := json.Marshal(v)
	if err == nil {
		err = sink.Upsert(ctx, &models.CachedSnapshot{Kind: kind, ID: id, Scope: scope, Payload: data})
	}
	if err != nil {
		logging.Warn("failed to cache created entity", map[string]interface{}{
			"kind":  kind,
			"id":    id,
			"error": err.Error(),
		})
	}
}

var _ Dispatcher = (*Registry)(nil)

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, op *models.PendingOperation) error

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, op *models.PendingOperation) error {
	return f(ctx, op)
}
