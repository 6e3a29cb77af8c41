//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-core/domain/chat"
	"context"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging during supervision.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// ChildEvent is emitted by a child subscription for a direct child of the watched path.
// Value is nil for Removed and Synced.
type ChildEvent struct {
	Kind  chat.EventKind
	Key   string
	Value any
}

// Subscription is a live watch on the store.
// Events is closed once the subscription ends; Err then tells why
// (nil after Close, ErrTransient when the store dropped it).
// Close is safe to call more than once.
type Subscription[T any] interface {
	Events() <-chan T
	Err() error
	Close()
}

// ReadOptions narrows a ReadOnce call.
type ReadOptions struct {
	LimitToLast int
}

type ReadOption func(*ReadOptions)

// LimitToLast keeps only the last n children (in key order) of the read node.
func LimitToLast(n int) ReadOption {
	return func(o *ReadOptions) { o.LimitToLast = n }
}

// Store is the real-time data store the core is written against.
// Values are JSON-like: map[string]any, []any, string, float64, bool or nil.
// Writing nil (or an empty map) removes a node. Paths are "/" separated.
type Store interface {
	AppendChild(ctx context.Context, path string, value any) (string, error)
	SetValue(ctx context.Context, path string, value any) error
	// UpdateFields merges fields into path; keys may be relative multi-segment paths.
	UpdateFields(ctx context.Context, path string, fields map[string]any) error
	// ReadOnce returns nil when nothing is stored at path.
	ReadOnce(ctx context.Context, path string, opts ...ReadOption) (any, error)
	SubscribeChildEvents(ctx context.Context, path string) (Subscription[ChildEvent], error)
	SubscribeValue(ctx context.Context, path string) (Subscription[any], error)
}

// ProfileService exposes the privacy flags of a participant's profile.
type ProfileService interface {
	Privacy(ctx context.Context, participant string) (chat.Privacy, error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ViewSink receives every recomputed conversation view.
type ViewSink[V any] interface {
	Consume(ctx context.Context, view V) error
}
