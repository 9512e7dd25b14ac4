package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	sessionCookieName = "void_relay_session"
	sessionIssuer     = "void-relay"
	defaultSessionTTL = 30 * 24 * time.Hour
)

// AuthSession is an established user session.
type AuthSession struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Authenticator restores or creates user sessions.
type Authenticator interface {
	// GetSession returns nil, nil when token carries no usable session.
	GetSession(ctx context.Context, token string) (*AuthSession, error)
	SignInAnonymously(ctx context.Context) (*AuthSession, error)
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Anonymous bool `json:"anon"`
}

// TokenAuth issues HS256 session tokens for anonymous users.
type TokenAuth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenAuth(secret string, ttl time.Duration, now func() time.Time) *TokenAuth {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &TokenAuth{secret: []byte(secret), ttl: ttl, now: now}
}

func (a *TokenAuth) GetSession(_ context.Context, token string) (*AuthSession, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		// expired, forged or foreign tokens mean no session
		return nil, nil
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, nil
	}
	return &AuthSession{UserID: claims.Subject, Token: token, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (a *TokenAuth) SignInAnonymously(_ context.Context) (*AuthSession, error) {
	now := a.now().UTC()
	userID := uuid.NewString()
	exp := now.Add(a.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Anonymous: true,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &AuthSession{UserID: userID, Token: signed, ExpiresAt: exp}, nil
}

func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

func setSessionCookie(w http.ResponseWriter, s *AuthSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.Token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
