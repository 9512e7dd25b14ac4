package main

import (
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	codenameCacheKey = "void_relay_codename"
	guestCodename    = "GUEST"
)

// LocalStore is the client-side key-value cache.
type LocalStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// cookieStore keeps values in long-lived browser cookies.
type cookieStore struct {
	r *http.Request
	w http.ResponseWriter
}

func (c cookieStore) Get(key string) (string, bool) {
	ck, err := c.r.Cookie(key)
	if err != nil || ck.Value == "" {
		return "", false
	}
	v, err := url.QueryUnescape(ck.Value)
	if err != nil {
		return "", false
	}
	return v, true
}

func (c cookieStore) Set(key, value string) {
	http.SetCookie(c.w, &http.Cookie{
		Name:     key,
		Value:    url.QueryEscape(value),
		Path:     "/",
		Expires:  time.Now().Add(365 * 24 * time.Hour),
		SameSite: http.SameSiteLaxMode,
	})
}

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *memoryStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func cachedCodename(local LocalStore) string {
	if local == nil {
		return guestCodename
	}
	if v, ok := local.Get(codenameCacheKey); ok && v != "" {
		return v
	}
	return guestCodename
}
