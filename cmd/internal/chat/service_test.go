package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"loom/cmd/internal/model"
	"loom/cmd/internal/transcript"
)

type fakeProvider struct {
	chunks []string
	err    error

	// entered is closed on the first StreamChat call; release, when
	// non-nil, gates emission so tests can hold a stream open
	// deterministically.
	entered     chan struct{}
	enteredOnce sync.Once
	release     chan struct{}

	mu   sync.Mutex
	reqs []model.Request
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) StreamChat(ctx context.Context, req model.Request, emit func(string) error) (string, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	if p.entered != nil {
		p.enteredOnce.Do(func() { close(p.entered) })
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}

	var b strings.Builder
	for _, c := range p.chunks {
		if err := emit(c); err != nil {
			return "", err
		}
		b.WriteString(c)
	}
	return b.String(), nil
}

func (p *fakeProvider) lastRequest(t *testing.T) model.Request {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reqs) == 0 {
		t.Fatal("provider was never called")
	}
	return p.reqs[len(p.reqs)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drain(t *testing.T, st *Stream) (string, error) {
	t.Helper()
	var b strings.Builder
	for st.Next() {
		b.WriteString(st.Current())
	}
	return b.String(), st.Err()
}

func TestTextChatStreamsAndCommits(t *testing.T) {
	provider := &fakeProvider{chunks: []string{"Hel", "lo ", "there"}}
	store := transcript.NewInMemoryStore()
	svc := NewService(testLogger(), provider, store)

	st, err := svc.TextChat(context.Background(), "hi", "conv-1")
	if err != nil {
		t.Fatalf("TextChat: %v", err)
	}
	defer st.Close()

	got, err := drain(t, st)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "Hello there" {
		t.Fatalf("streamed %q, want %q", got, "Hello there")
	}

	msgs, err := store.ReadAll(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != transcript.RoleUser || msgs[0].Content != "hi" {
		t.Fatalf("first message = %+v, want user/hi", msgs[0])
	}
	if msgs[1].Role != transcript.RoleAssistant || msgs[1].Content != got {
		t.Fatalf("second message = %+v, want assistant turn equal to streamed text", msgs[1])
	}
}

func TestChatSendsMemoryPlusUserTurn(t *testing.T) {
	provider := &fakeProvider{chunks: []string{"sure"}}
	store := transcript.NewInMemoryStore()
	svc := NewService(testLogger(), provider, store, WithSystemPrompt("be brief"))

	ctx := context.Background()
	if err := store.Append(ctx, "conv-1",
		transcript.UserMessage("first question"),
		transcript.AssistantMessage("first answer"),
	); err != nil {
		t.Fatalf("seed: %v", err)
	}

	st, err := svc.TextChat(ctx, "second question", "conv-1")
	if err != nil {
		t.Fatalf("TextChat: %v", err)
	}
	defer st.Close()
	if _, err := drain(t, st); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	req := provider.lastRequest(t)
	if req.System != "be brief" {
		t.Fatalf("System = %q, want %q", req.System, "be brief")
	}
	if len(req.Messages) != 3 {
		t.Fatalf("got %d request messages, want 3", len(req.Messages))
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != transcript.RoleUser || last.Content != "second question" {
		t.Fatalf("last request message = %+v, want the new user turn", last)
	}
}

func TestChatUserTurnDurableBeforeStreaming(t *testing.T) {
	provider := &fakeProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		chunks:  []string{"ok"},
	}
	store := transcript.NewInMemoryStore()
	svc := NewService(testLogger(), provider, store)

	ctx := context.Background()
	st, err := svc.TextChat(ctx, "hi", "conv-1")
	if err != nil {
		t.Fatalf("TextChat: %v", err)
	}
	defer st.Close()

	<-provider.entered

	msgs, err := store.ReadAll(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != transcript.RoleUser {
		t.Fatalf("mid-stream transcript = %+v, want the user turn only", msgs)
	}

	close(provider.release)
	if _, err := drain(t, st); err != nil {
		t.Fatalf("stream error: %v", err)
	}
}

func TestChatCancelDiscardsPartialAssistantTurn(t *testing.T) {
	provider := &fakeProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := transcript.NewInMemoryStore()
	svc := NewService(testLogger(), provider, store)

	ctx := context.Background()
	st, err := svc.TextChat(ctx, "hi", "conv-1")
	if err != nil {
		t.Fatalf("TextChat: %v", err)
	}

	<-provider.entered
	st.Close()

	if _, err := drain(t, st); !errors.Is(err, context.Canceled) {
		t.Fatalf("stream error = %v, want context.Canceled", err)
	}

	// The lock is released by the producer; a follow-up exchange on the
	// same conversation must see only the user turn.
	waitForTranscriptLen(t, store, "conv-1", 1)
	msgs, _ := store.ReadAll(ctx, "conv-1")
	if msgs[0].Role != transcript.RoleUser {
		t.Fatalf("surviving message = %+v, want the user turn", msgs[0])
	}
}

func TestChatProviderErrorLeavesUserTurn(t *testing.T) {
	boom := &model.Error{Kind: model.ErrServer, Provider: "fake", Message: "overloaded"}
	provider := &fakeProvider{err: boom}
	store := transcript.NewInMemoryStore()
	svc := NewService(testLogger(), provider, store)

	st, err := svc.TextChat(context.Background(), "hi", "conv-1")
	if err != nil {
		t.Fatalf("TextChat: %v", err)
	}
	defer st.Close()

	if _, err := drain(t, st); !errors.Is(err, boom) {
		t.Fatalf("stream error = %v, want %v", err, boom)
	}

	waitForTranscriptLen(t, store, "conv-1", 1)
}

func TestChatValidationHasNoSideEffects(t *testing.T) {
	provider := &fakeProvider{chunks: []string{"x"}}
	store := transcript.NewInMemoryStore()
	svc := NewService(testLogger(), provider, store)

	ctx := context.Background()
	if _, err := svc.TextChat(ctx, "  ", "conv-1"); !errors.Is(err, ErrMissingPrompt) {
		t.Fatalf("blank prompt = %v, want ErrMissingPrompt", err)
	}
	if _, err := svc.TextChat(ctx, "hi", ""); !errors.Is(err, ErrMissingConversationID) {
		t.Fatalf("blank id = %v, want ErrMissingConversationID", err)
	}

	msgs, err := store.ReadAll(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("transcript has %d messages after rejected calls, want 0", len(msgs))
	}
}

func TestChatSerializesSameConversation(t *testing.T) {
	first := &fakeProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		chunks:  []string{"a"},
	}
	store := transcript.NewInMemoryStore()
	svc := NewService(testLogger(), first, store)

	ctx := context.Background()
	st1, err := svc.TextChat(ctx, "q1", "conv-1")
	if err != nil {
		t.Fatalf("TextChat 1: %v", err)
	}
	defer st1.Close()

	<-first.entered

	// A second exchange on the same conversation must wait behind the
	// first one.
	second := make(chan *Stream, 1)
	go func() {
		st2, err := svc.TextChat(ctx, "q2", "conv-1")
		if err != nil {
			t.Errorf("TextChat 2: %v", err)
			return
		}
		second <- st2
	}()

	select {
	case <-second:
		t.Fatal("second exchange started while the first held the conversation")
	case <-time.After(50 * time.Millisecond):
	}

	close(first.release)
	if _, err := drain(t, st1); err != nil {
		t.Fatalf("stream 1 error: %v", err)
	}

	select {
	case st2 := <-second:
		defer st2.Close()
		if _, err := drain(t, st2); err != nil {
			t.Fatalf("stream 2 error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second exchange never started after the first finished")
	}

	msgs, err := store.ReadAll(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4 (two full exchanges)", len(msgs))
	}
	if msgs[0].Content != "q1" || msgs[2].Content != "q2" {
		t.Fatalf("exchanges interleaved: %+v", msgs)
	}
}

// waitForTranscriptLen waits for the producer goroutine to release the
// conversation and settle the transcript at n messages.
func waitForTranscriptLen(t *testing.T, store transcript.Store, id string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := store.ReadAll(context.Background(), id)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if len(msgs) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	msgs, _ := store.ReadAll(context.Background(), id)
	t.Fatalf("transcript settled at %d messages, want %d: %+v", len(msgs), n, msgs)
}
