package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// Auth accepts requests carrying one of the configured API keys, either as
// "Authorization: Bearer <key>" or "X-API-Key: <key>". apiKeys is a comma
// separated list so keys can be rotated without downtime; an empty list
// disables authentication. The matching key is recorded as the request's
// client identity (a short hash, never the key itself).
func Auth(apiKeys string) func(http.Handler) http.Handler {
	type apiKey struct {
		secret []byte
		id     string
	}
	var keys []apiKey
	for _, k := range strings.Split(apiKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			sum := sha256.Sum256([]byte(k))
			keys = append(keys, apiKey{secret: []byte(k), id: "key:" + hex.EncodeToString(sum[:4])})
		}
	}

	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := presentedKey(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			matched := ""
			for _, k := range keys {
				if subtle.ConstantTimeCompare([]byte(token), k.secret) == 1 {
					matched = k.id
				}
			}
			if matched == "" {
				writeJSONError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			if info := infoFrom(r.Context()); info != nil {
				info.client = matched
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedKey(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
