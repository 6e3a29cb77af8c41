package repositories

import (
	"sync"
)

// subscription queues events for one watcher and pumps them to its consumer.
// Writers never block on a slow consumer: push only appends to the queue.
type subscription[T any] struct {
	events  chan T
	notify  chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	queue   []T
	err     error
	once    sync.Once
	onClose func()
}

func newSubscription[T any](onClose func()) *subscription[T] {
	s := &subscription[T]{
		events:  make(chan T),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go s.pump()
	return s
}

func (s *subscription[T]) Events() <-chan T {
	return s.events
}

func (s *subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the subscription. Calling it again is a no-op.
func (s *subscription[T]) Close() {
	s.end(nil)
}

func (s *subscription[T]) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

func (s *subscription[T]) push(evt T) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription[T]) pump() {
	defer close(s.events)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, evt := range batch {
			select {
			case s.events <- evt:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}
