package main

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

// apiKeyGuard checks X-API-Key against plain keys or bcrypt hashes.
// With no keys configured every request passes.
type apiKeyGuard struct {
	plain  [][]byte
	hashes [][]byte
}

func newAPIKeyGuard(keys, hashes []string) (*apiKeyGuard, error) {
	g := &apiKeyGuard{}
	for _, k := range keys {
		g.plain = append(g.plain, []byte(k))
	}
	for _, h := range hashes {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("invalid api key hash: %w", err)
		}
		g.hashes = append(g.hashes, []byte(h))
	}
	return g, nil
}

func (g *apiKeyGuard) enabled() bool {
	return len(g.plain) > 0 || len(g.hashes) > 0
}

func (g *apiKeyGuard) valid(key string) bool {
	if key == "" {
		return false
	}
	candidate := []byte(key)

	match := false
	for _, k := range g.plain {
		if subtle.ConstantTimeCompare(candidate, k) == 1 {
			match = true
		}
	}
	if match {
		return true
	}

	for _, h := range g.hashes {
		if bcrypt.CompareHashAndPassword(h, candidate) == nil {
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid key
func (g *apiKeyGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.enabled() && !g.valid(r.Header.Get(apiKeyHeader)) {
			writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
