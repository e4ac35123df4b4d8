package chat

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStreamDeliversChunksInOrder(t *testing.T) {
	st := newStream(4, func() {})

	go func() {
		ctx := context.Background()
		for _, c := range []string{"one", "two", "three"} {
			if err := st.push(ctx, c); err != nil {
				t.Errorf("push: %v", err)
				return
			}
		}
		st.finish(nil)
	}()

	var got []string
	for st.Next() {
		got = append(got, st.Current())
	}
	if err := st.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}

	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStreamDrainsBufferedChunksAfterFinish(t *testing.T) {
	st := newStream(4, func() {})

	ctx := context.Background()
	if err := st.push(ctx, "a"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := st.push(ctx, "b"); err != nil {
		t.Fatalf("push: %v", err)
	}
	st.finish(nil)

	var got []string
	for st.Next() {
		got = append(got, st.Current())
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b]", got)
	}
}

func TestStreamErrSurfacesProducerFailure(t *testing.T) {
	st := newStream(1, func() {})
	boom := errors.New("boom")
	st.finish(boom)

	if st.Next() {
		t.Fatal("Next() = true after finish with no chunks")
	}
	if !errors.Is(st.Err(), boom) {
		t.Fatalf("Err() = %v, want %v", st.Err(), boom)
	}
}

func TestStreamCloseCancelsProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := newStream(1, cancel)

	st.Close()
	st.Close() // idempotent

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Close did not cancel the producer context")
	}

	// A producer blocked in push must unblock with the context error.
	if err := st.push(ctx, "late"); !errors.Is(err, context.Canceled) {
		// The buffer has one free slot, so the first push succeeds; the
		// second one must fail.
		if err = st.push(ctx, "later"); !errors.Is(err, context.Canceled) {
			t.Fatalf("push after Close = %v, want context.Canceled", err)
		}
	}

	st.finish(ctx.Err())
	for st.Next() {
	}
	if !errors.Is(st.Err(), context.Canceled) {
		t.Fatalf("Err() = %v, want context.Canceled", st.Err())
	}
}
