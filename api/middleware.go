/*
middleware.go - Identity resolution and scheduler authentication

PURPOSE:
  Credential verification happens upstream (gateway or session service); by
  the time a request reaches this process, the X-User-ID and X-User-Role
  headers are trusted. This file resolves those headers into an auth.Context
  exactly once per request and makes it available to handlers.

SCHEDULER:
  The daily-job trigger authenticates with a shared secret instead of a user
  credential. Comparison is constant-time so the secret cannot be probed
  byte by byte through response timing.
*/
package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/poiuytgh/leasecore/auth"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"

	headerSchedulerSecret = "X-Scheduler-Secret"
)

type ctxKey int

const identityKey ctxKey = 0

// Identity middleware resolves the verified caller headers into an
// auth.Context. Requests without headers proceed as anonymous; each handler
// enforces its own access rule.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := auth.Context{}
		switch auth.Role(r.Header.Get(headerUserRole)) {
		case auth.RoleTenant:
			ac = auth.Context{Role: auth.RoleTenant, SubjectID: r.Header.Get(headerUserID)}
		case auth.RoleAdmin:
			ac = auth.Context{Role: auth.RoleAdmin, SubjectID: r.Header.Get(headerUserID)}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ac)))
	})
}

// identity extracts the caller resolved by the Identity middleware.
func identity(r *http.Request) auth.Context {
	ac, _ := r.Context().Value(identityKey).(auth.Context)
	return ac
}

// requireUser rejects anonymous callers with 401. Returns the caller and
// whether the request may proceed.
func requireUser(w http.ResponseWriter, r *http.Request) (auth.Context, bool) {
	ac := identity(r)
	if ac.Anonymous() {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return ac, false
	}
	return ac, true
}

// RequireScheduler gates the job-trigger endpoint behind the shared secret.
// An empty configured secret disables the endpoint entirely.
func RequireScheduler(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeError(w, http.StatusNotFound, "Not found", nil)
				return
			}
			got := r.Header.Get(headerSchedulerSecret)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid scheduler credential", nil)
				return
			}
			ac := auth.Context{Role: auth.RoleScheduler}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ac)))
		})
	}
}
