package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-watchparty/internal/config"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/server"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/npezzotti/go-watchparty/internal/testutil"
	"github.com/npezzotti/go-watchparty/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, db *database.MockRepository, unread *database.MockUnreadStore, tokens map[string]types.User) (*App, *http.ServeMux) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Maybe()
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()

	logger := testutil.TestLogger(t)
	cs, err := server.NewChatServer(logger, db, unread, su, server.Options{MessagesPerSecond: 20})
	require.NoError(t, err)

	mux := http.NewServeMux()
	app := NewApp(mux, logger, cs, db, &stubAuthenticator{tokens: tokens}, &config.Config{
		ServerAddr:     "localhost:8080",
		AllowedOrigins: []string{"http://localhost:3000"},
	})
	return app, mux
}

func TestNewApp(t *testing.T) {
	db := &database.MockRepository{}
	app, _ := newTestApp(t, db, &database.MockUnreadStore{}, nil)

	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, "localhost:8080", app.srv.Addr, "expected server address to match config")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.NotNil(t, app.cs, "expected chat server to be set")
	assert.Equal(t, []string{"http://localhost:3000"}, app.allowedOrigins)
}

func Test_healthz(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("Ping", mock.Anything).Return(nil)
		app, _ := newTestApp(t, db, &database.MockUnreadStore{}, nil)

		rr := httptest.NewRecorder()
		app.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("database down", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("Ping", mock.Anything).Return(errors.New("connection refused"))
		app, _ := newTestApp(t, db, &database.MockUnreadStore{}, nil)

		rr := httptest.NewRecorder()
		app.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func Test_getConversation(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}
	tokens := map[string]types.User{"alice-token": alice}
	lastId := 100

	tcases := []struct {
		name     string
		path     string
		setup    func(db *database.MockRepository, unread *database.MockUnreadStore)
		expected int
	}{
		{
			name: "participant",
			path: "/api/conversations/10",
			setup: func(db *database.MockRepository, unread *database.MockUnreadStore) {
				db.On("GetConversation", mock.Anything, 10).Return(database.Conversation{
					Id: 10, Participants: []int{1, 2}, LastMessageId: &lastId,
				}, nil)
				unread.On("UnreadCounts", mock.Anything, 10).Return(map[int]int{1: 0, 2: 3}, nil)
			},
			expected: http.StatusOK,
		},
		{
			name: "not a participant",
			path: "/api/conversations/10",
			setup: func(db *database.MockRepository, unread *database.MockUnreadStore) {
				db.On("GetConversation", mock.Anything, 10).Return(database.Conversation{
					Id: 10, Participants: []int{2, 3},
				}, nil)
			},
			expected: http.StatusForbidden,
		},
		{
			name: "unknown conversation",
			path: "/api/conversations/11",
			setup: func(db *database.MockRepository, unread *database.MockUnreadStore) {
				db.On("GetConversation", mock.Anything, 11).Return(database.Conversation{}, sql.ErrNoRows)
			},
			expected: http.StatusNotFound,
		},
		{
			name: "database down",
			path: "/api/conversations/12",
			setup: func(db *database.MockRepository, unread *database.MockUnreadStore) {
				db.On("GetConversation", mock.Anything, 12).Return(database.Conversation{}, errors.New("connection refused"))
			},
			expected: http.StatusServiceUnavailable,
		},
		{
			name:     "bad id",
			path:     "/api/conversations/abc",
			expected: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)
			unread := &database.MockUnreadStore{}
			defer unread.AssertExpectations(t)
			if tc.setup != nil {
				tc.setup(db, unread)
			}
			app, _ := newTestApp(t, db, unread, tokens)

			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.Header.Set("Authorization", "Bearer alice-token")
			rr := httptest.NewRecorder()
			app.srv.Handler.ServeHTTP(rr, req)

			require.Equal(t, tc.expected, rr.Code)
			if tc.expected != http.StatusOK {
				return
			}

			var conv types.Conversation
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&conv))
			assert.Equal(t, []int{1, 2}, conv.Participants)
			assert.Equal(t, 3, conv.UnreadCount[2])
			require.NotNil(t, conv.LastMessageId)
			assert.Equal(t, 100, *conv.LastMessageId)
		})
	}
}

func Test_checkOrigin(t *testing.T) {
	app := &App{allowedOrigins: []string{"http://localhost:3000"}}

	tcases := []struct {
		origin   string
		expected bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://evil.example.com", false},
	}

	for _, tc := range tcases {
		t.Run("origin "+tc.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.expected, app.checkOrigin(req))
		})
	}
}

func Test_serveWs(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}
	app, _ := newTestApp(t, &database.MockRepository{}, &database.MockUnreadStore{}, map[string]types.User{"alice-token": alice})

	ts := httptest.NewServer(app.srv.Handler)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	t.Run("unauthenticated upgrade is rejected", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("authenticated connection gets the online users", func(t *testing.T) {
		header := http.Header{}
		header.Set("Authorization", "Bearer alice-token")
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.NoError(t, err)
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg server.ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, server.EventOnlineUsers, msg.Event)
		assert.Equal(t, []int{1}, msg.Notification.OnlineUsers)

		require.NoError(t, conn.WriteJSON(map[string]any{
			"id":        1,
			"join_room": map[string]any{"room_id": "movie-1"},
		}))

		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, server.EventResponse, msg.Event)
		assert.Equal(t, 1, msg.Id)
		assert.Equal(t, http.StatusOK, msg.Response.ResponseCode)

		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, server.EventRoomMembers, msg.Event)
		require.Len(t, msg.Notification.RoomMembers.Members, 1)
		assert.Equal(t, "alice", msg.Notification.RoomMembers.Members[0].Username)
	})

	t.Run("online endpoint", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/online", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "alice-token"})

		rr := httptest.NewRecorder()
		app.srv.Handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp OnlineUsersResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.NotNil(t, resp.UserIds)
	})
}
