package services

import (
	"chat-core/domain/chat"
	"context"
	"sync"
)

// Watch is a live stream of T derived from one or more store subscriptions.
// Updates is closed when the watch ends; Err then tells why (nil after Close).
type Watch[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	once    sync.Once
	hidden  bool
	mu      sync.Mutex
	err     error
}

type PresenceWatch = Watch[chat.PresenceRecord]
type TypingWatch = Watch[chat.TypingState]
type BlockWatch = Watch[chat.BlockState]

func newWatch[T any](parent context.Context) (*Watch[T], context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Watch[T]{updates: make(chan T), cancel: cancel}, ctx
}

// hiddenWatch never yields anything. It ends on Close or when ctx is done.
func hiddenWatch[T any](parent context.Context) *Watch[T] {
	w, ctx := newWatch[T](parent)
	w.hidden = true
	w.run(ctx, func(ctx context.Context, _ func(T) bool) error {
		<-ctx.Done()
		return nil
	})
	return w
}

// run drives produce on its own goroutine and closes Updates once it returns.
func (w *Watch[T]) run(ctx context.Context, produce func(ctx context.Context, emit func(T) bool) error) {
	go func() {
		defer close(w.updates)
		err := produce(ctx, func(v T) bool {
			select {
			case w.updates <- v:
				return true
			case <-ctx.Done():
				return false
			}
		})
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
	}()
}

func (w *Watch[T]) Updates() <-chan T {
	return w.updates
}

// Hidden reports that the watched state is not visible to the viewer.
func (w *Watch[T]) Hidden() bool {
	return w.hidden
}

func (w *Watch[T]) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close stops the watch. Calling it again is a no-op.
func (w *Watch[T]) Close() {
	w.once.Do(w.cancel)
}
