// Package main provides a CI-friendly smoke test for the Loom chat surface.
//
// It validates:
//   - WebSocket handshake + subprotocol selection
//   - chat.send -> chat.chunk* -> chat.done
//   - history list contains the conversation id
//   - transcript shows the user turn and the committed assistant turn
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "loom.chat.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type chatSendPayload struct {
	Prompt       string `json:"prompt"`
	ChatID       string `json:"chat_id"`
	BusinessType string `json:"business_type,omitempty"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type msgView struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ai/chat/ws", "WebSocket URL")
		httpURL = flag.String("http", "http://127.0.0.1:8080", "HTTP base URL for history checks")
		origin  = flag.String("origin", "http://localhost", "Origin header to send")
		btype   = flag.String("type", "chat", "Business type")
		prompt  = flag.String("prompt", "say hello in one short sentence", "Prompt to send")
		timeout = flag.Duration("timeout", 60*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	chatID := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	root := context.Background()

	conn := mustConnect(root, *wsURL, *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	payload := mustJSON(chatSendPayload{Prompt: *prompt, ChatID: chatID, BusinessType: *btype})
	mustWrite(root, conn, envelope{Type: "chat.send", Payload: payload}, *timeout)

	text := mustStreamUntilDone(root, conn, *timeout, *verbose)
	if strings.TrimSpace(text) == "" {
		fatalf("empty assistant response")
	}

	mustHistoryContains(*httpURL, *btype, chatID, *timeout)
	mustTranscriptComplete(*httpURL, *btype, chatID, *prompt, text, *timeout)

	fmt.Printf("OK: chat_id=%s chars=%d\n", chatID, len(text))
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}

	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustStreamUntilDone(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration, verbose bool) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var b strings.Builder
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			fatalf("read: %v", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			fatalf("bad json: %v", err)
		}

		switch env.Type {
		case "chat.chunk":
			var p chunkPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				fatalf("bad chunk payload: %v", err)
			}
			b.WriteString(p.Text)
			if verbose {
				fmt.Print(p.Text)
			}
		case "chat.done":
			if verbose {
				fmt.Println()
			}
			return b.String()
		case "error":
			var p errorPayload
			_ = json.Unmarshal(env.Payload, &p)
			fatalf("server error: code=%q msg=%q", p.Code, p.Message)
		default:
			fatalf("unexpected frame type: %q", env.Type)
		}
	}
}

func mustHistoryContains(base, btype, chatID string, stepTimeout time.Duration) {
	var ids []string
	mustGetJSON(base+"/ai/history/"+btype, stepTimeout, &ids)

	for _, id := range ids {
		if id == chatID {
			return
		}
	}
	fatalf("history list missing %s: %v", chatID, ids)
}

func mustTranscriptComplete(base, btype, chatID, prompt, text string, stepTimeout time.Duration) {
	// The assistant commit happens just after the last chunk; allow a few
	// retries before declaring it lost.
	deadline := time.Now().Add(stepTimeout)
	for {
		var msgs []msgView
		mustGetJSON(base+"/ai/history/"+btype+"/"+chatID, stepTimeout, &msgs)

		if len(msgs) >= 2 {
			last := msgs[len(msgs)-1]
			if msgs[len(msgs)-2].Role != "user" || msgs[len(msgs)-2].Content != prompt {
				fatalf("user turn mismatch: %+v", msgs)
			}
			if last.Role != "assistant" || last.Content != text {
				fatalf("assistant turn mismatch: got %d chars, streamed %d", len(last.Content), len(text))
			}
			return
		}
		if time.Now().After(deadline) {
			fatalf("transcript incomplete: %d messages", len(msgs))
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func mustGetJSON(rawURL string, stepTimeout time.Duration, out any) {
	client := &http.Client{Timeout: stepTimeout}
	resp, err := client.Get(rawURL)
	if err != nil {
		fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fatalf("GET %s: status=%d body=%s", rawURL, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fatalf("decode %s: %v", rawURL, err)
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, env envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
