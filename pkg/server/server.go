// Package server exposes a minimal HTTP API around the chat manager and the
// AutoAssist orchestrator, including an SSE streaming endpoint.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cexll/assisthub-go/pkg/autoassist"
	"github.com/cexll/assisthub-go/pkg/chat"
	"github.com/cexll/assisthub-go/pkg/event"
)

// Server routes HTTP requests to the chat manager and orchestrator.
type Server struct {
	manager *chat.Manager
	orch    *autoassist.Orchestrator
	stream  *event.Stream
	log     *zap.Logger
	mux     *http.ServeMux
}

// New creates a Server with pre-wired routes. The returned server's Stream
// should be registered as the orchestrator's event sink so /autoassist/stream
// observes run progress.
func New(manager *chat.Manager, orch *autoassist.Orchestrator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &Server{
		manager: manager,
		orch:    orch,
		stream:  event.NewStream(),
		log:     log,
		mux:     http.NewServeMux(),
	}
	srv.routes()
	return srv
}

// Stream returns the SSE fan-out backing /autoassist/stream.
func (s *Server) Stream() *event.Stream { return s.stream }

func (s *Server) routes() {
	s.mux.HandleFunc("/chat", s.handleChat)
	s.mux.HandleFunc("/chat/edit", s.handleEdit)
	s.mux.HandleFunc("/autoassist", s.handleAutoAssist)
	s.mux.HandleFunc("/autoassist/stream", s.handleStream)
	s.mux.HandleFunc("/assistants", s.handleAssistants)
}

// ServeHTTP implements http.Handler and delegates to the internal mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var payload struct {
		AssistantID string `json:"assistant_id"`
		Message     string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	message := strings.TrimSpace(payload.Message)
	if message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	reply, err := s.manager.Send(r.Context(), payload.AssistantID, message, nil)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, map[string]string{"reply": reply})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var payload struct {
		AssistantID string `json:"assistant_id"`
		Index       int    `json:"index"`
		Message     string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	reply, err := s.manager.EditAndReplay(r.Context(), payload.AssistantID, payload.Index, payload.Message)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, map[string]string{"reply": reply})
}

func (s *Server) handleAutoAssist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	message := strings.TrimSpace(payload.Message)
	if message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if err := s.orch.HandleMessage(r.Context(), message, nil); err != nil {
		if errors.Is(err, autoassist.ErrBusy) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	agent, err := s.manager.Get(autoassist.AssistantID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"state":   s.orch.State(),
		"history": agent.DisplayHistory(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.stream.ServeHTTP(w, r)
}

func (s *Server) handleAssistants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type entry struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Summary string `json:"summary,omitempty"`
	}
	roster := s.manager.Roster()
	out := make([]entry, 0, len(roster))
	for _, a := range roster {
		out = append(out, entry{ID: a.ID, Title: a.Title, Summary: a.Summary})
	}
	writeJSON(w, out)
}

func writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrUnknownAssistant):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, chat.ErrBusy), errors.Is(err, autoassist.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
