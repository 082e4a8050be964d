package docstore

import (
	"context"
	"sync"
)

// subscription serializes listener calls and implements Close for both
// store implementations.
type subscription struct {
	fn     Listener
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex // held while fn runs
	closed bool
	once   sync.Once
}

func newSubscription(ctx context.Context, fn Listener) (*subscription, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &subscription{
		fn:     fn,
		cancel: cancel,
		done:   make(chan struct{}),
	}, ctx
}

// deliver calls the listener unless the subscription is closed.
func (s *subscription) deliver(snap Snapshot, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.fn(snap, err)
	return true
}

// Close stops the stream and waits for an in-flight listener call to return.
// It must not be called from inside the listener.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		<-s.done
	})
	return nil
}
