package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTokenAuthRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	auth := NewTokenAuth("secret", time.Hour, func() time.Time { return now })
	ctx := context.Background()

	sess, err := auth.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if _, err := uuid.Parse(sess.UserID); err != nil {
		t.Fatalf("user id %q is not a uuid", sess.UserID)
	}
	if !sess.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expires at %v", sess.ExpiresAt)
	}

	restored, err := auth.GetSession(ctx, sess.Token)
	if err != nil || restored == nil {
		t.Fatalf("restore: sess=%v err=%v", restored, err)
	}
	if restored.UserID != sess.UserID {
		t.Fatalf("restored user %q, want %q", restored.UserID, sess.UserID)
	}
}

func TestTokenAuthRejectsUnusableTokens(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := now
	auth := NewTokenAuth("secret", time.Hour, func() time.Time { return clock })
	ctx := context.Background()

	sess, err := auth.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	other := NewTokenAuth("other-secret", time.Hour, func() time.Time { return now })
	for name, tok := range map[string]string{"empty": "", "garbage": "not-a-jwt"} {
		if s, err := auth.GetSession(ctx, tok); s != nil || err != nil {
			t.Fatalf("%s token: sess=%v err=%v", name, s, err)
		}
	}
	if s, err := other.GetSession(ctx, sess.Token); s != nil || err != nil {
		t.Fatalf("foreign token: sess=%v err=%v", s, err)
	}

	clock = now.Add(2 * time.Hour)
	if s, err := auth.GetSession(ctx, sess.Token); s != nil || err != nil {
		t.Fatalf("expired token: sess=%v err=%v", s, err)
	}
}

func TestSessionTokenPrefersBearer(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/state", nil)
	req.Header.Set("Authorization", "Bearer abc")
	if got := sessionToken(req); got != "abc" {
		t.Fatalf("bearer token = %q", got)
	}

	req = httptest.NewRequest("GET", "/api/state", nil)
	rr := httptest.NewRecorder()
	setSessionCookie(rr, &AuthSession{Token: "cookie-tok", ExpiresAt: time.Now().Add(time.Hour)})
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}
	if got := sessionToken(req); got != "cookie-tok" {
		t.Fatalf("cookie token = %q", got)
	}
}

func TestCookieStoreRoundTrip(t *testing.T) {
	rr := httptest.NewRecorder()
	cookieStore{r: httptest.NewRequest("GET", "/", nil), w: rr}.Set(codenameCacheKey, "Nova Prime")

	req := httptest.NewRequest("GET", "/", nil)
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}
	if got := cachedCodename(cookieStore{r: req, w: httptest.NewRecorder()}); got != "Nova Prime" {
		t.Fatalf("cached codename = %q", got)
	}
	if got := cachedCodename(nil); got != guestCodename {
		t.Fatalf("nil store codename = %q", got)
	}
}
