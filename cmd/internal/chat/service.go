// Package chat coordinates conversation memory with streaming model calls
// and exposes the HTTP/WebSocket chat surface.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"loom/cmd/internal/model"
	"loom/cmd/internal/transcript"
)

const (
	defaultStreamBuffer = 64
	commitTimeout       = 10 * time.Second
)

// Service is the streaming response coordinator.
//
// Per call it: validates input, acquires the conversation's lock, loads
// prior turns, durably appends the user turn, then streams the provider
// response through a bounded channel. The accumulated assistant turn is
// committed only when the provider stream completes; cancellation and
// provider failures discard the partial turn (the user turn stays).
type Service struct {
	log         *slog.Logger
	provider    model.Provider
	transcripts transcript.Store
	locks       *keyedMutex

	system    string
	maxTokens int
	buffer    int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithSystemPrompt sets the system prompt sent with every model request.
func WithSystemPrompt(prompt string) ServiceOption {
	return func(s *Service) { s.system = prompt }
}

// WithMaxTokens caps the model's response length.
func WithMaxTokens(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithStreamBuffer sets the chunk channel capacity between the provider
// goroutine and the consumer.
func WithStreamBuffer(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// NewService constructs a coordinator over the given provider and
// transcript store.
func NewService(log *slog.Logger, provider model.Provider, transcripts transcript.Store, opts ...ServiceOption) *Service {
	s := &Service{
		log:         log,
		provider:    provider,
		transcripts: transcripts,
		locks:       newKeyedMutex(),
		buffer:      defaultStreamBuffer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// TextChat starts a text-only exchange on conversationID.
func (s *Service) TextChat(ctx context.Context, prompt, conversationID string) (*Stream, error) {
	return s.chat(ctx, "text", prompt, conversationID, nil)
}

// MultiModalChat starts an exchange carrying media attachments. The media
// must already be validated (see model.NewMedia); it rides on the model
// request only and is never persisted.
func (s *Service) MultiModalChat(ctx context.Context, prompt, conversationID string, media []model.Media) (*Stream, error) {
	return s.chat(ctx, "multimodal", prompt, conversationID, media)
}

func (s *Service) chat(ctx context.Context, mode, prompt, conversationID string, media []model.Media) (*Stream, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrMissingPrompt
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrMissingConversationID
	}

	turnID := newTurnID(time.Now())

	unlock, err := s.locks.Lock(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// From here every early return must unlock; once the producer goroutine
	// is started, it owns the unlock.
	prior, err := s.transcripts.ReadAll(ctx, conversationID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("chat: load memory: %w", err)
	}

	userTurn := transcript.UserMessage(prompt)

	// The user turn is durable before streaming begins: a crash mid-stream
	// still leaves a consistent "user asked X" record.
	if err := s.transcripts.Append(ctx, conversationID, userTurn); err != nil {
		unlock()
		return nil, fmt.Errorf("chat: append user turn: %w", err)
	}

	req := model.Request{
		System:    s.system,
		Messages:  append(prior, userTurn),
		Media:     media,
		MaxTokens: s.maxTokens,
	}

	pctx, cancel := context.WithCancel(ctx)
	st := newStream(s.buffer, cancel)

	s.log.Info("chat.stream.start",
		"turn_id", turnID,
		"mode", mode,
		"conversation_id", conversationID,
		"provider", s.provider.Name(),
		"memory_messages", len(prior),
		"media", len(media),
	)

	go s.run(pctx, st, unlock, req, mode, conversationID, turnID)

	return st, nil
}

// run is the producer side of a Stream. It releases the conversation lock
// and finishes the stream on every exit path.
func (s *Service) run(ctx context.Context, st *Stream, unlock func(), req model.Request, mode, conversationID, turnID string) {
	defer unlock()

	start := time.Now()
	chunks := 0

	full, err := s.provider.StreamChat(ctx, req, func(chunk string) error {
		if err := st.push(ctx, chunk); err != nil {
			return err
		}
		chunks++
		chunksTotal.Inc()
		return nil
	})

	streamDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := outcomeModelFail
		if errors.Is(err, context.Canceled) {
			// Consumer went away. Discard the partial assistant turn; the
			// user turn already committed stays.
			outcome = outcomeCancelled
		}
		streamsTotal.WithLabelValues(mode, outcome).Inc()
		s.log.Warn("chat.stream.abort",
			"turn_id", turnID,
			"conversation_id", conversationID,
			"outcome", outcome,
			"chunks", chunks,
			"err", err,
		)
		st.finish(err)
		return
	}

	// Commit on a detached context: the exchange is complete even if the
	// consumer disconnects between the last chunk and the commit.
	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer commitCancel()

	if err := s.transcripts.Append(commitCtx, conversationID, transcript.AssistantMessage(full)); err != nil {
		streamsTotal.WithLabelValues(mode, outcomeStoreFail).Inc()
		s.log.Error("chat.commit.fail",
			"turn_id", turnID,
			"conversation_id", conversationID,
			"err", err,
		)
		st.finish(fmt.Errorf("chat: commit assistant turn: %w", err))
		return
	}

	streamsTotal.WithLabelValues(mode, outcomeCompleted).Inc()
	s.log.Info("chat.stream.done",
		"turn_id", turnID,
		"conversation_id", conversationID,
		"chunks", chunks,
		"chars", len(full),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	st.finish(nil)
}
