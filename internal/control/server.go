// Package control is the operator's HTTP API.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chatrelay/internal/events"
	"chatrelay/internal/gate"
	"chatrelay/internal/history"
	"chatrelay/internal/settings"
)

const DefaultAddr = ":3000"

// Chat is a conversation the messaging account knows about.
type Chat struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Messenger is the part of the messaging client the API needs.
type Messenger interface {
	Ready() bool
	ListChats(ctx context.Context) ([]Chat, error)
}

type Saver interface {
	Save(settings.Settings) error
}

type Deps struct {
	Settings  *settings.Holder
	Store     Saver
	Gate      *gate.Gate
	History   *history.Store
	Messenger Messenger
	// Events backs GET /events and receives control events. Optional.
	Events *events.Hub
}

type Server struct {
	Deps
	staticDir string
}

func NewServer(deps Deps, staticDir string) *Server {
	return &Server{Deps: deps, staticDir: staticDir}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/chats", s.listChats)
	r.Get("/status", s.status)

	r.Get("/enabled", s.enabled)
	r.Post("/enable", s.setEnabled(true))
	r.Post("/disable", s.setEnabled(false))

	r.Get("/config", s.getConfig)
	r.Post("/config", s.postConfig)

	r.Post("/pause", s.pause)
	r.Post("/resume", s.resume)
	r.Get("/paused", s.paused)

	r.Get("/conversations", s.conversations)
	r.Route("/history/{chatID}", func(r chi.Router) {
		r.Get("/", s.getHistory)
		r.Delete("/", s.clearHistory)
	})

	if s.Events != nil {
		r.Get("/events", s.Events.ServeWS)
	}
	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}
	return r
}

// Serve runs the API on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("Control API listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("control api: %w", err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	if s.Messenger == nil || !s.Messenger.Ready() {
		writeError(w, http.StatusServiceUnavailable, "client is starting up")
		return
	}

	chats, err := s.Messenger.ListChats(r.Context())
	if err != nil {
		log.Error("Failed to list chats", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	ready := s.Messenger != nil && s.Messenger.Ready()
	writeJSON(w, http.StatusOK, map[string]bool{"connected": ready})
}

func (s *Server) enabled(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.Gate.Enabled()})
}

func (s *Server) setEnabled(on bool) http.HandlerFunc {
	kind := events.Disabled
	if on {
		kind = events.Enabled
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		s.Gate.SetEnabled(on)
		log.Info("Bot toggled", "enabled", on)
		s.publish(events.Event{Kind: kind})
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.Gate.Enabled()})
	}
}

type configView struct {
	Prompt    *string `json:"prompt"`
	AgentName *string `json:"agentName"`
	Delay     int64   `json:"delay"`
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	cur := s.Settings.Get()
	writeJSON(w, http.StatusOK, configView{
		Prompt:    optional(cur.Prompt),
		AgentName: optional(cur.AgentName),
		Delay:     int64(cur.Delay),
	})
}

func (s *Server) postConfig(w http.ResponseWriter, r *http.Request) {
	var req settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Configured() {
		writeError(w, http.StatusBadRequest, "prompt and agentName are required")
		return
	}

	s.Settings.Replace(req)
	log.Info("Settings updated", "agent", req.AgentName, "delay", int64(req.Delay))
	s.publish(events.Event{Kind: events.ConfigUpdated, Detail: req.AgentName})

	if s.Store != nil {
		if err := s.Store.Save(req); err != nil {
			log.Warn("Failed to save settings", "err", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	ChatID string `json:"chatId"`
}

func decodeChatID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "chatId is required")
		return "", false
	}
	return req.ChatID, true
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeChatID(w, r)
	if !ok {
		return
	}
	s.Gate.Pause(id)
	log.Info("Chat paused", "chat", id)
	s.publish(events.Event{Kind: events.Paused, ChatID: id})
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeChatID(w, r)
	if !ok {
		return
	}
	s.Gate.Resume(id)
	log.Info("Chat resumed", "chat", id)
	s.publish(events.Event{Kind: events.Resumed, ChatID: id})
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) paused(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Gate.Paused())
}

func (s *Server) conversations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.History.IDs())
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.History.Get(chi.URLParam(r, "chatID")))
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chatID")
	s.History.Clear(id)
	log.Info("History cleared", "chat", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publish(e events.Event) {
	if s.Events != nil {
		s.Events.Publish(e)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(start),
			"req", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
