package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"loom/cmd/internal/history"
)

const (
	wsSubprotocol = "loom.chat.v1"

	wsMaxFrameBytes = 64 * 1024

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 5 * time.Minute
)

// Inbound and outbound frame types.
const (
	wsTypeChatSend = "chat.send"
	wsTypeChunk    = "chat.chunk"
	wsTypeDone     = "chat.done"
	wsTypeError    = "error"
)

type wsEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsChatSendPayload struct {
	Prompt       string `json:"prompt"`
	ChatID       string `json:"chat_id"`
	BusinessType string `json:"business_type,omitempty"`
}

type wsChunkPayload struct {
	Text string `json:"text"`
}

type wsDonePayload struct {
	ChatID string `json:"chat_id"`
}

type wsErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSGateway serves the streaming chat surface over WebSocket. A client sends
// chat.send frames and receives chat.chunk frames followed by chat.done; a
// new chat.send on the same connection starts the next exchange.
type WSGateway struct {
	log  *slog.Logger
	svc  *Service
	hist history.Store

	originRequired bool
	allowedOrigins []string
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
}

// WSOption adjusts gateway behaviour.
type WSOption func(*WSGateway)

// WithAllowedOrigins sets the cross-origin allowlist for the upgrade.
func WithAllowedOrigins(origins []string) WSOption {
	return func(g *WSGateway) { g.allowedOrigins = origins }
}

// WithOriginRequired controls whether a missing Origin header is rejected.
func WithOriginRequired(required bool) WSOption {
	return func(g *WSGateway) { g.originRequired = required }
}

// NewWSGateway constructs a gateway over the chat coordinator.
func NewWSGateway(log *slog.Logger, svc *Service, hist history.Store, opts ...WSOption) *WSGateway {
	g := &WSGateway{
		log:             log,
		svc:             svc,
		hist:            hist,
		originRequired:  true,
		allowedOrigins:  []string{"http://localhost", "http://127.0.0.1"},
		writeTimeout:    wsDefaultWriteTimeout,
		readIdleTimeout: wsDefaultReadIdle,
	}
	for _, opt := range opts {
		opt(g)
	}

	// websocket.Accept authorizes same-host origins by itself; cross-origin
	// hosts must appear in OriginPatterns, so the two layers have to agree.
	g.originPatterns = originPatterns(g.allowedOrigins)
	return g
}

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the chat exchange loop until the
// peer closes or an unrecoverable error occurs.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(wsMaxFrameBytes)

	ctx := r.Context()

	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyWSReadErr(err) {
			case wsReadClose, wsReadConnClosed:
				return
			case wsReadCtxDone:
				_ = conn.Close(websocket.StatusGoingAway, "idle")
				return
			case wsReadBadJSON:
				g.writeError(ctx, conn, "bad_json", "invalid JSON")
				continue
			default:
				g.log.Info("ws.read.fail", "err", err)
				_ = conn.Close(websocket.StatusAbnormalClosure, "read failed")
				return
			}
		}

		if env.Type != wsTypeChatSend {
			g.writeError(ctx, conn, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
			continue
		}

		var p wsChatSendPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			g.writeError(ctx, conn, "bad_payload", "invalid chat.send payload")
			continue
		}

		if err := g.runExchange(ctx, conn, p); err != nil {
			// Write failures mean the peer is gone; everything else was
			// already reported as an error frame.
			if isWSWriteErr(err) {
				return
			}
		}
	}
}

// runExchange records the conversation, starts a stream, and relays chunks
// until completion. Errors that reached the peer as frames return nil; a
// wsWriteError return means the connection itself is broken.
func (g *WSGateway) runExchange(ctx context.Context, conn *websocket.Conn, p wsChatSendPayload) error {
	prompt := strings.TrimSpace(p.Prompt)
	chatID := strings.TrimSpace(p.ChatID)
	businessType := strings.TrimSpace(p.BusinessType)
	if businessType == "" {
		businessType = defaultBusinessType
	}

	if prompt == "" || chatID == "" {
		g.writeError(ctx, conn, "invalid_request", "prompt and chat_id are required")
		return nil
	}

	if err := g.hist.Record(ctx, businessType, chatID); err != nil {
		g.log.Error("ws.history.record.fail", "business_type", businessType, "conversation_id", chatID, "err", err)
		g.writeError(ctx, conn, "store_error", "failed to record conversation")
		return nil
	}

	st, err := g.svc.TextChat(ctx, prompt, chatID)
	if err != nil {
		_, code := errorStatus(err)
		g.writeError(ctx, conn, code, err.Error())
		return nil
	}
	defer st.Close()

	for st.Next() {
		payload, _ := json.Marshal(wsChunkPayload{Text: st.Current()})
		if err := g.writeFrame(ctx, conn, wsEnvelope{Type: wsTypeChunk, Payload: payload}); err != nil {
			return wsWriteError{err}
		}
	}

	if err := st.Err(); err != nil {
		_, code := errorStatus(err)
		g.writeError(ctx, conn, code, err.Error())
		return nil
	}

	payload, _ := json.Marshal(wsDonePayload{ChatID: chatID})
	if err := g.writeFrame(ctx, conn, wsEnvelope{Type: wsTypeDone, Payload: payload}); err != nil {
		return wsWriteError{err}
	}
	return nil
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) (wsEnvelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return wsEnvelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return wsEnvelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return wsEnvelope{}, err
	}
	return env, nil
}

func (g *WSGateway) writeFrame(parent context.Context, conn *websocket.Conn, env wsEnvelope) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func (g *WSGateway) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	payload, _ := json.Marshal(wsErrorPayload{Code: code, Message: msg})
	_ = g.writeFrame(ctx, conn, wsEnvelope{Type: wsTypeError, Payload: payload})
}

type wsWriteError struct{ err error }

func (e wsWriteError) Error() string { return "ws write: " + e.err.Error() }
func (e wsWriteError) Unwrap() error { return e.err }

func isWSWriteErr(err error) bool {
	var we wsWriteError
	return errors.As(err, &we)
}

// ---- read error classification ----

type wsReadErrKind uint8

const (
	wsReadUnknown wsReadErrKind = iota
	wsReadClose
	wsReadCtxDone
	wsReadConnClosed
	wsReadBadJSON
)

func classifyWSReadErr(err error) wsReadErrKind {
	if websocket.CloseStatus(err) != -1 {
		return wsReadClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wsReadCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return wsReadConnClosed
	}

	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return wsReadBadJSON
	}
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return wsReadBadJSON
	}
	return wsReadUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" || origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
