package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/agentstream"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/sse"
)

const maxRequestBytes = 32 << 20

// ChatRequest is the body of POST /api/chat. The user is the authenticated
// caller, never a body field.
type ChatRequest struct {
	Messages       []core.Message      `json:"messages"`
	System         string              `json:"system,omitempty"`
	UserName       string              `json:"user_name,omitempty"`
	Location       *model.UserLocation `json:"location,omitempty"`
	Effort         string              `json:"effort,omitempty"`
	ThinkingBudget int64               `json:"thinking_budget,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	if req.Effort == "" {
		req.Effort = s.opts.Effort
	}
	if req.ThinkingBudget == 0 {
		req.ThinkingBudget = s.opts.ThinkingBudget
	}

	userID := UserFromContext(r.Context())

	runID := r.Header.Get("X-Run-Id")
	if runID == "" {
		runID = core.NewID()
	}
	if !s.claimRun(runID, userID) {
		respondError(w, http.StatusConflict, "run "+runID+" is already active")
		return
	}
	defer s.releaseRun(runID)

	w.Header().Set("X-Run-Id", runID)

	sink, err := sse.NewWriter(w)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stop := s.heartbeat(sink)
	defer stop()

	err = s.app.Stream(r.Context(), agentstream.Request{
		RunID:          runID,
		APIKey:         s.apiKey(r),
		Messages:       req.Messages,
		SystemPrompt:   req.System,
		UserLocation:   req.Location,
		UserID:         userID,
		UserName:       req.UserName,
		Effort:         req.Effort,
		ThinkingBudget: req.ThinkingBudget,
	}, sink)
	if err != nil {
		s.opts.Logger.Debug().Err(err).Str("run_id", runID).Msg("server.chat.ended")
	}
}

func (s *Server) claimRun(runID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[runID]; exists {
		return false
	}
	s.runs[runID] = userID
	return true
}

func (s *Server) releaseRun(runID string) {
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}

func (s *Server) runOwner(runID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.runs[runID]
	return owner, ok
}

// heartbeat pings sink until the returned function is called.
func (s *Server) heartbeat(sink *sse.Writer) func() {
	if s.opts.HeartbeatInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sink.Ping(); err != nil {
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (s *Server) apiKey(r *http.Request) string {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return s.opts.DefaultAPIKey
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.app.Chats().List(r.Context(), UserFromContext(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chats == nil {
		chats = []*core.Chat{}
	}
	respondJSON(w, http.StatusOK, chats)
}

// ownedChat loads a chat of the caller. Chats of other users are reported
// as missing.
func (s *Server) ownedChat(r *http.Request, id string) (*core.Chat, error) {
	chat, err := s.app.Chats().Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if chat.UserID != UserFromContext(r.Context()) {
		return nil, fmt.Errorf("chat %s: %w", id, core.ErrNotFound)
	}
	return chat, nil
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.ownedChat(r, chi.URLParam(r, "chatID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, chat)
}

func (s *Server) putChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chatID")

	var chat core.Chat
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&chat); err != nil {
		respondError(w, http.StatusBadRequest, "invalid chat: "+err.Error())
		return
	}
	if chat.ID != "" && chat.ID != id {
		respondError(w, http.StatusBadRequest, "chat id does not match the path")
		return
	}

	userID := UserFromContext(r.Context())

	existing, err := s.app.Chats().Get(r.Context(), id)
	switch {
	case err == nil && existing.UserID != userID:
		respondError(w, http.StatusNotFound, "chat "+id+" not found")
		return
	case err != nil && !errors.Is(err, core.ErrNotFound):
		respondStoreError(w, err)
		return
	}

	chat.ID = id
	chat.UserID = userID

	if err := s.app.Chats().Put(r.Context(), &chat); err != nil {
		respondStoreError(w, err)
		return
	}

	stored, err := s.app.Chats().Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stored)
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chatID")
	if _, err := s.ownedChat(r, id); err != nil {
		respondStoreError(w, err)
		return
	}
	if err := s.app.Chats().Delete(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	owner, ok := s.runOwner(runID)
	if !ok || owner != UserFromContext(r.Context()) {
		respondError(w, http.StatusNotFound, "run "+runID+" not found")
		return
	}
	if err := s.app.Cancel(runID); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
