// Package api exposes the orchestration engine over HTTP: command
// submission, character control, news intake, chat, and live event streams.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/castline/castd/internal/ai"
	"github.com/castline/castd/internal/broker"
	"github.com/castline/castd/internal/eventbus"
	"github.com/castline/castd/internal/news"
	"github.com/castline/castd/internal/orchestrator"
	"github.com/castline/castd/internal/scenario"
	"github.com/castline/castd/internal/state"
)

type Server struct {
	Broker    *broker.Broker
	Orch      *orchestrator.Orchestrator
	Scenarios *scenario.Registry
	Bus       *eventbus.Bus
	News      *news.Store
	SessionID string
	StartedAt time.Time
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/commands", s.handleCommands)
	mux.HandleFunc("/api/commands/", s.handleCommandItem)
	mux.HandleFunc("/api/characters", s.handleCharacters)
	mux.HandleFunc("/api/characters/", s.handleCharacterItem)
	mux.HandleFunc("/api/news", s.handleNews)
	mux.HandleFunc("/api/cycle", s.handleCycle)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/reactions", s.handleReactions)
	mux.HandleFunc("/api/scenarios", s.handleScenarios)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/events/subscribe", s.handleEventSubscribe)
	mux.HandleFunc("/api/events/ws", s.handleEventWS)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"time":         time.Now().UTC(),
		"uptime":       time.Since(s.StartedAt).String(),
		"health_score": s.Orch.HealthScore(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	status, err := s.Orch.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var cmd broker.Command
		if err := decodeJSON(r.Body, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if cmd.SessionID == "" {
			cmd.SessionID = s.SessionID
		}
		resp, err := s.Broker.Submit(r.Context(), cmd)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	case http.MethodGet:
		sessionID := r.URL.Query().Get("session_id")
		limit := parseInt(r.URL.Query().Get("limit"), 20)
		history, err := s.Broker.History(r.Context(), sessionID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleCommandItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/commands/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusNotFound, errNotFound("command"))
		return
	}
	commandID := segments[0]

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		resp, err := s.Broker.Status(r.Context(), commandID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	switch segments[1] {
	case "cancel":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		cancelled, err := s.Broker.Cancel(r.Context(), commandID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
	default:
		writeError(w, http.StatusNotFound, errNotFound("command action"))
	}
}

func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	status, err := s.Orch.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status.Characters)
}

func (s *Server) handleCharacterItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/characters/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusNotFound, errNotFound("character"))
		return
	}
	characterID := segments[0]

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		p, ok := s.Orch.Personality(characterID)
		if !ok {
			writeError(w, http.StatusNotFound, errNotFound("character"))
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	switch segments[1] {
	case "pause":
		if err := s.Orch.PauseCharacter(r.Context(), characterID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "character_id": characterID, "paused": true})
	case "resume":
		if err := s.Orch.ResumeCharacter(r.Context(), characterID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "character_id": characterID, "paused": false})
	default:
		writeError(w, http.StatusNotFound, errNotFound("character action"))
	}
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var item news.Item
		if err := decodeJSON(r.Body, &item); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		stored, err := s.Orch.InjectNews(r.Context(), item)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	case http.MethodGet:
		limit := parseInt(r.URL.Query().Get("limit"), 20)
		items, err := s.News.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	cycle, err := s.Orch.RunCycle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		CharacterID string       `json:"character_id"`
		Message     string       `json:"message"`
		History     []ai.Message `json:"history"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.CharacterID == "" || payload.Message == "" {
		writeError(w, http.StatusBadRequest, errors.New("character_id and message are required"))
		return
	}
	resp, err := s.Orch.Chat(r.Context(), payload.CharacterID, payload.Message, payload.History)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"character_id": payload.CharacterID,
		"response":     resp,
	})
}

func (s *Server) handleReactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	characterID := r.URL.Query().Get("character_id")
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	writeJSON(w, http.StatusOK, s.Orch.Reactions(characterID, limit))
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	names := s.Scenarios.Names()
	out := make([]scenario.Preset, 0, len(names))
	for _, name := range names {
		if p, ok := s.Scenarios.Get(name); ok {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	events, err := s.Bus.List(r.Context(), eventbus.Filter{
		SessionID: r.URL.Query().Get("session_id"),
		Type:      r.URL.Query().Get("type"),
		Limit:     parseInt(r.URL.Query().Get("limit"), 50),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleEventSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNotFound("streaming support"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = w.Write([]byte(":ok\n\n"))
	flusher.Flush()

	ctx := r.Context()
	sub := s.Bus.Subscribe(ctx, r.URL.Query().Get("session_id"))

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			payload, _ := json.Marshal(evt)
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, broker.ErrNotFound), errors.Is(err, state.ErrUnknownCharacter):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}
