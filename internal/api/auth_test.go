package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

func createTestToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func validClaims(userId int) jwt.MapClaims {
	return jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(time.Hour).Unix(),
	}
}

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int
		expected bool
	}{
		{
			name:     "no user",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user set",
			ctx:      WithUser(context.Background(), types.User{Id: 42, Username: "alice"}),
			userId:   42,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %d", tc.userId)
		})
	}
}

func TestJwtAuthenticator_Authenticate(t *testing.T) {
	account := database.Account{Id: 7, Username: "alice", AvatarRef: "avatars/7.png"}

	tcases := []struct {
		name    string
		token   string
		setup   func(db *database.MockRepository)
		want    types.User
		invalid bool
		wantErr bool
	}{
		{
			name:  "valid token",
			token: createTestToken(t, testSigningKey, validClaims(7)),
			setup: func(db *database.MockRepository) {
				db.On("GetAccountById", mock.Anything, 7).Return(account, nil)
			},
			want: types.User{Id: 7, Username: "alice", AvatarRef: "avatars/7.png"},
		},
		{
			name: "expired token",
			token: createTestToken(t, testSigningKey, jwt.MapClaims{
				userIdClaim: 7,
				expClaim:    time.Now().Add(-time.Minute).Unix(),
			}),
			invalid: true,
			wantErr: true,
		},
		{
			name:    "wrong key",
			token:   createTestToken(t, []byte("other-key"), validClaims(7)),
			invalid: true,
			wantErr: true,
		},
		{
			name:    "missing user id claim",
			token:   createTestToken(t, testSigningKey, jwt.MapClaims{expClaim: time.Now().Add(time.Hour).Unix()}),
			invalid: true,
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not-a-token",
			invalid: true,
			wantErr: true,
		},
		{
			name:  "unknown account",
			token: createTestToken(t, testSigningKey, validClaims(8)),
			setup: func(db *database.MockRepository) {
				db.On("GetAccountById", mock.Anything, 8).Return(database.Account{}, sql.ErrNoRows)
			},
			invalid: true,
			wantErr: true,
		},
		{
			name:  "database down",
			token: createTestToken(t, testSigningKey, validClaims(7)),
			setup: func(db *database.MockRepository) {
				db.On("GetAccountById", mock.Anything, 7).Return(database.Account{}, errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)
			if tc.setup != nil {
				tc.setup(db)
			}

			user, err := NewJwtAuthenticator(testSigningKey, db).Authenticate(context.Background(), tc.token)
			if !tc.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tc.want, user)
				return
			}

			require.Error(t, err)
			assert.Equal(t, tc.invalid, errors.Is(err, ErrInvalidToken))
		})
	}
}

func Test_tokenFromRequest(t *testing.T) {
	tcases := []struct {
		name  string
		req   func() *http.Request
		token string
		found bool
	}{
		{
			name: "cookie",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/ws", nil)
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "from-cookie"})
				r.Header.Set("Authorization", "Bearer from-header")
				return r
			},
			token: "from-cookie",
			found: true,
		},
		{
			name: "bearer header",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
				r.Header.Set("Authorization", "Bearer from-header")
				return r
			},
			token: "from-header",
			found: true,
		},
		{
			name: "query string",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
			},
			token: "from-query",
			found: true,
		},
		{
			name: "basic auth is ignored",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/ws", nil)
				r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
				return r
			},
		},
		{
			name: "none",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/ws", nil)
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			token, ok := tokenFromRequest(tc.req())
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.token, token)
		})
	}
}
