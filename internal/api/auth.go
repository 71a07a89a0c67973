package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/types"
)

const (
	tokenCookieKey = "token"
	tokenQueryKey  = "token"
	userIdClaim    = "user-id"
	expClaim       = "exp"
)

var ErrInvalidToken = errors.New("invalid token")

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func CurrentUser(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(userKey).(types.User)
	return user, ok
}

func UserId(ctx context.Context) (int, bool) {
	user, ok := CurrentUser(ctx)
	return user.Id, ok
}

// Authenticator resolves a bearer token to the identity behind it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (types.User, error)
}

// JwtAuthenticator accepts HS256 tokens carrying a user-id claim and loads the
// account they name.
type JwtAuthenticator struct {
	signingKey []byte
	db         database.Repository
}

func NewJwtAuthenticator(signingKey []byte, db database.Repository) *JwtAuthenticator {
	return &JwtAuthenticator{signingKey: signingKey, db: db}
}

func (a *JwtAuthenticator) userIdFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: parse token: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid user id claim", ErrInvalidToken)
	}

	return int(userId), nil
}

// Authenticate returns ErrInvalidToken for bad tokens and unknown accounts.
// Any other error means the account could not be loaded.
func (a *JwtAuthenticator) Authenticate(ctx context.Context, tokenString string) (types.User, error) {
	userId, err := a.userIdFromToken(tokenString)
	if err != nil {
		return types.User{}, err
	}

	account, err := a.db.GetAccountById(ctx, userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, fmt.Errorf("%w: account %d not found", ErrInvalidToken, userId)
		}
		return types.User{}, fmt.Errorf("get account: %w", err)
	}

	return types.User{
		Id:        account.Id,
		Username:  account.Username,
		AvatarRef: account.AvatarRef,
	}, nil
}

// tokenFromRequest looks for the token in the session cookie, then the
// Authorization header, then the query string, which is the only option for
// browser websocket clients on another origin.
func tokenFromRequest(r *http.Request) (string, bool) {
	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, true
	}

	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok && token != "" {
			return token, true
		}
	}

	if token := r.URL.Query().Get(tokenQueryKey); token != "" {
		return token, true
	}

	return "", false
}
