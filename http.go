package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"bizchat/audit"
	"bizchat/config"
	"bizchat/conversation"
	"bizchat/providers"
	"bizchat/stream"
)

// auditLog is the read side of the audit store
type auditLog interface {
	History(ctx context.Context, sessionID string) ([]audit.Entry, error)
	Count(ctx context.Context) (int, error)
}

// server owns the conversation and everything a request needs
type server struct {
	cfg       *config.Config
	store     *conversation.Store
	relay     stream.Relay
	opts      stream.Options
	views     *views
	auditing  bool
	provider  providers.ProviderInfo
	history   auditLog
	logger    zerolog.Logger
	messageID func() string
}

func newServer(cfg *config.Config, store *conversation.Store, relay stream.Relay, opts stream.Options, logger zerolog.Logger) *server {
	return &server{
		cfg:       cfg,
		store:     store,
		relay:     relay,
		opts:      opts,
		views:     newViews(),
		auditing:  opts.Recorder != nil,
		logger:    logger,
		messageID: newMessageID,
	}
}

func newMessageID() string {
	return "ai-message-" + uuid.NewString()
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/send_message", s.handleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/stream-response", s.handleStreamResponse).Methods(http.MethodGet)
	r.HandleFunc("/conversation", s.handleConversation).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Use(s.logRequests)
	return r
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.views.page(w, s.store.Snapshot()); err != nil {
		s.logger.Error().Err(err).Msg("failed to render page")
	}
}

type sendMessageResponse struct {
	MessageID string `json:"message_id"`
}

// handleSendMessage stores the user turn and returns the scaffold that opens the stream
func (s *server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	message := r.FormValue("message")
	if strings.TrimSpace(message) == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	if err := s.store.Append(conversation.UserTurn(message)); err != nil {
		s.logger.Error().Err(err).Msg("failed to store user turn")
		http.Error(w, "Failed to store message", http.StatusInternalServerError)
		return
	}

	messageID := s.messageID()
	s.logger.Debug().Str("message_id", messageID).Int("turns", s.store.Len()).Msg("user message stored")

	// non-browser clients only need the id to open the stream
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, sendMessageResponse{MessageID: messageID})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.views.scaffold(w, messageID, message); err != nil {
		s.logger.Error().Err(err).Msg("failed to render scaffold")
	}
}

// handleStreamResponse runs one session. The session outlives a disconnected
// client and is bounded by the LLM timeout instead.
func (s *server) handleStreamResponse(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	messageID := query.Get("message_id")
	userMessage := query.Get("user_message")
	if messageID == "" || strings.TrimSpace(userMessage) == "" {
		http.Error(w, "message_id and user_message are required", http.StatusBadRequest)
		return
	}

	out, err := stream.NewSSEWriter(w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.LLM.Timeout)
	defer cancel()

	session := stream.NewSession(messageID, s.store, s.relay, s.opts)
	session.Run(ctx, userMessage, out)
}

type conversationResponse struct {
	MaxTurns int                 `json:"max_turns"`
	Turns    []conversation.Turn `json:"turns"`
}

type auditEntryView struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	Input        string    `json:"input"`
	Output       string    `json:"output"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	DurationMS   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
}

type auditResponse struct {
	MessageID string           `json:"message_id"`
	Entries   []auditEntryView `json:"entries"`
}

// handleConversation returns the log, or with ?audit=<message_id> the audited
// exchanges of that session
func (s *server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if messageID := r.URL.Query().Get("audit"); messageID != "" {
		s.handleAuditHistory(w, r, messageID)
		return
	}

	writeJSON(w, conversationResponse{
		MaxTurns: s.store.MaxTurns(),
		Turns:    s.store.Snapshot(),
	})
}

func (s *server) handleAuditHistory(w http.ResponseWriter, r *http.Request, messageID string) {
	if s.history == nil {
		http.Error(w, "Audit logging is disabled", http.StatusNotFound)
		return
	}

	entries, err := s.history.History(r.Context(), messageID)
	if err != nil {
		s.logger.Error().Err(err).Str("message_id", messageID).Msg("failed to read audit history")
		http.Error(w, "Failed to read audit history", http.StatusInternalServerError)
		return
	}

	resp := auditResponse{MessageID: messageID, Entries: make([]auditEntryView, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, auditEntryView{
			ID:           e.ID,
			Timestamp:    e.Timestamp,
			Model:        e.Model,
			Input:        e.FullInput,
			Output:       e.FullOutput,
			InputTokens:  e.InputTokens,
			OutputTokens: e.OutputTokens,
			DurationMS:   e.Duration.Milliseconds(),
			Error:        e.Error,
		})
	}
	writeJSON(w, resp)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "healthy",
		"model":  s.relay.Model(),
		"services": map[string]bool{
			"http":  s.cfg.Server.HTTPPort > 0,
			"https": s.cfg.Server.HTTPSPort > 0,
		},
		"ports": map[string]int{
			"http":  s.cfg.Server.HTTPPort,
			"https": s.cfg.Server.HTTPSPort,
		},
		"conversation": map[string]int{
			"turns":     s.store.Len(),
			"max_turns": s.store.MaxTurns(),
		},
		"provider":       s.provider,
		"llm_configured": s.cfg.LLM.APIKey != "",
		"audit_logging":  s.auditing,
		"token_budget":   s.opts.TokenBudget,
	}

	if s.history != nil {
		if n, err := s.history.Count(r.Context()); err == nil {
			health["audited_interactions"] = n
		} else {
			s.logger.Warn().Err(err).Msg("failed to count audit rows")
		}
	}

	// Check SSL certificates for HTTPS
	if s.cfg.Server.HTTPSPort > 0 {
		_, _, found := findSSLCertificates(s.cfg.Server.BaseDomain, s.logger)
		health["ssl_certificates"] = found
	}

	writeJSON(w, health)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// statusWriter records the response status. It forwards Flush so SSE keeps working.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
