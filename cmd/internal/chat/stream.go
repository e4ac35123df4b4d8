package chat

import (
	"context"
	"sync"
)

// Stream is the lazy chunk sequence produced by one chat call.
//
// It is single-pass and not restartable: the consumer loops Next/Current
// until Next returns false, then checks Err. Closing the stream (or
// cancelling the request context) stops the underlying provider call.
//
// Usage:
//
//	st, err := svc.TextChat(ctx, prompt, id)
//	...
//	defer st.Close()
//	for st.Next() {
//	    w.Write([]byte(st.Current()))
//	}
//	if err := st.Err(); err != nil { ... }
type Stream struct {
	ch     chan string
	cancel context.CancelFunc
	cur    string

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func newStream(buffer int, cancel context.CancelFunc) *Stream {
	if buffer <= 0 {
		buffer = 1
	}
	return &Stream{
		ch:     make(chan string, buffer),
		cancel: cancel,
	}
}

// Next blocks until the next chunk arrives. It returns false once the
// producer has finished (successfully or not).
func (s *Stream) Next() bool {
	chunk, ok := <-s.ch
	if !ok {
		return false
	}
	s.cur = chunk
	return true
}

// Current returns the chunk made available by the last successful Next.
func (s *Stream) Current() string { return s.cur }

// Err reports how the stream ended. It is meaningful once Next has
// returned false. A nil error means the assistant turn was fully
// accumulated and committed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the stream: the producer is cancelled and the partial
// assistant turn is discarded. Safe to call multiple times and after the
// stream has already finished.
func (s *Stream) Close() {
	s.cancel()
}

// push hands one chunk to the consumer. It blocks when the buffer is full
// and fails once ctx is cancelled, which is how consumer disconnects
// propagate back into the provider call.
func (s *Stream) push(ctx context.Context, chunk string) error {
	select {
	case s.ch <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish records the terminal state and wakes the consumer. Called exactly
// once by the producer on every exit path.
func (s *Stream) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}
