package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-watchparty/internal/server"
)

const pingTimeout = 2 * time.Second

type OnlineUsersResponse struct {
	UserIds []int `json:"user_ids"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *App) onlineUsers(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, OnlineUsersResponse{UserIds: s.cs.OnlineUsers()})
}

func (s *App) getConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || conversationId <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.cs.Conversation(r.Context(), conversationId, userId)
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, server.ErrNotFound):
			errResp = NewNotFoundError()
		case errors.Is(err, server.ErrNotParticipant):
			errResp = NewForbiddenError()
		case errors.Is(err, server.ErrPersistence):
			errResp = NewServiceUnavailableError(err)
		default:
			errResp = NewInternalServerError(err)
		}
		s.log.Printf("get conversation %d: %v", conversationId, err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, conv)
}

func (s *App) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no origin
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client, err := server.NewClient(user, conn, s.cs, s.log)
	if err != nil {
		s.log.Println("error creating client:", err)
		conn.Close()
		return
	}

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
