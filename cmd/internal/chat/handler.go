package chat

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"loom/cmd/internal/history"
	"loom/cmd/internal/model"
)

const (
	defaultBusinessType = "chat"

	// Multipart memory threshold; larger uploads spill to temp files.
	defaultMaxUploadBytes = 32 << 20 // 32 MiB
)

// Handler exposes the chat and history surface over HTTP.
type Handler struct {
	log  *slog.Logger
	svc  *Service
	reg  *Registry
	hist history.Store

	maxUploadBytes int64
}

// NewHandler constructs the HTTP surface over the coordinator and stores.
func NewHandler(log *slog.Logger, svc *Service, reg *Registry, hist history.Store) *Handler {
	return &Handler{
		log:            log,
		svc:            svc,
		reg:            reg,
		hist:           hist,
		maxUploadBytes: defaultMaxUploadBytes,
	}
}

// Register mounts the chat routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ai/chat", h.handleChat)
	mux.HandleFunc("/ai/history/", h.handleHistory)
}

// handleChat accepts prompt + chatId (+ optional multipart "files"),
// records the conversation id, and streams the response body chunk by
// chunk as text/plain.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or POST")
		return
	}

	media, err := h.parseAttachments(r)
	if err != nil {
		// Attachment validation fails fast: nothing has been recorded yet.
		writeError(w, http.StatusBadRequest, "invalid_attachment", err.Error())
		return
	}

	prompt := strings.TrimSpace(r.FormValue("prompt"))
	chatID := strings.TrimSpace(r.FormValue("chatId"))
	businessType := strings.TrimSpace(r.FormValue("type"))
	if businessType == "" {
		businessType = defaultBusinessType
	}
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "missing_prompt", "prompt is required")
		return
	}
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing_chat_id", "chatId is required")
		return
	}

	ctx := r.Context()

	if err := h.hist.Record(ctx, businessType, chatID); err != nil {
		h.log.Error("chat.history.record.fail", "business_type", businessType, "conversation_id", chatID, "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to record conversation")
		return
	}

	var st *Stream
	if len(media) == 0 {
		st, err = h.svc.TextChat(ctx, prompt, chatID)
	} else {
		st, err = h.svc.MultiModalChat(ctx, prompt, chatID, media)
	}
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	defer st.Close()

	flusher, _ := w.(http.Flusher)

	// The status line is held back until the first chunk so pre-stream
	// provider failures can still produce a real error status.
	started := false
	for st.Next() {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(w, st.Current()); err != nil {
			// Consumer disconnected; Close via defer cancels the producer.
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := st.Err(); err != nil {
		if !started {
			status, code := errorStatus(err)
			writeError(w, status, code, err.Error())
			return
		}
		// Chunks already flushed; the truncated body is the error signal.
		h.log.Warn("chat.stream.truncated", "conversation_id", chatID, "err", err)
		return
	}

	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
}

// handleHistory serves /ai/history/{type} and /ai/history/{type}/{chatId}.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ai/history/"), "/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		ids, err := h.reg.ListConversations(r.Context(), parts[0])
		if err != nil {
			status, code := errorStatus(err)
			writeError(w, status, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, ids)

	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		msgs, err := h.reg.GetTranscript(r.Context(), parts[0], parts[1])
		if err != nil {
			status, code := errorStatus(err)
			writeError(w, status, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, msgs)

	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown history route")
	}
}

// parseAttachments validates multipart uploads into Media values before any
// side effect can happen.
func (h *Handler) parseAttachments(r *http.Request) ([]model.Media, error) {
	ct := r.Header.Get("Content-Type")
	if r.Method != http.MethodPost || !strings.HasPrefix(ct, "multipart/") {
		return nil, nil
	}

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return nil, err
	}
	if r.MultipartForm == nil {
		return nil, nil
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		return nil, nil
	}

	media := make([]model.Media, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes))
		_ = f.Close()
		if err != nil {
			return nil, err
		}

		m, err := model.NewMedia(fh.Header.Get("Content-Type"), data)
		if err != nil {
			return nil, err
		}
		media = append(media, m)
	}
	return media, nil
}

func errorStatus(err error) (int, string) {
	if IsValidationError(err) {
		return http.StatusBadRequest, "invalid_request"
	}

	var merr *model.Error
	if errors.As(err, &merr) {
		if merr.Kind == model.ErrRateLimit {
			return http.StatusTooManyRequests, "rate_limited"
		}
		return http.StatusBadGateway, "model_error"
	}

	return http.StatusInternalServerError, "internal"
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}
