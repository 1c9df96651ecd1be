package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"dobro.org/internal/auth"
	"dobro.org/internal/ban"
	"dobro.org/internal/identity"
	"dobro.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// optionalAuthPaths admit anonymous requests but still run the full gate
// when a credential is presented. A present-but-malformed header is rejected
// even here.
var optionalAuthPaths = []string{
	"/v1/forum",
}

// withAuth is the authorization gate: token signature and expiry, subject
// existence, then a live ban check. The decision is re-derived on every
// request so a ban takes effect within one request of being written.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(authHeader)
		if header == "" && isOptionalAuthPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				unauthorized(w, r, "token expired")
			case errors.Is(err, auth.ErrInvalidToken):
				unauthorized(w, r, "invalid token")
			default:
				writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable")
			}
			return
		}

		subject, err := a.identity.Find(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				unauthorized(w, r, "unknown subject")
				return
			}
			// A store failure must never be read as "not banned" or
			// "no such subject".
			writeError(w, r, http.StatusServiceUnavailable, "authorization check failed")
			return
		}

		status, err := a.bans.IsBanned(r.Context(), subject.ID)
		if err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "authorization check failed")
			return
		}
		if status.Banned {
			obs.BanRejectionsTotal.Inc()
			writeBanned(w, r, status)
			return
		}

		principal := auth.Principal{
			SubjectID: subject.ID,
			Name:      subject.Name,
			Email:     subject.Email,
			Tier:      subject.Tier,
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireTier rejects requests below the minimum tier. The comparison is
// ordered: an administrator transparently satisfies an organization-only
// route.
func RequireTier(min auth.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ensureTier(w, r, min) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ensureTier(w http.ResponseWriter, r *http.Request, min auth.Tier) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="dobro"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !principal.Tier.AtLeast(min) {
		writeError(w, r, http.StatusForbidden, "insufficient privileges")
		return false
	}
	return true
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="dobro"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

// writeBanned renders a suspension with enough structure for the client to
// show a countdown or a permanent-ban message. Distinct from a plain 403.
func writeBanned(w http.ResponseWriter, r *http.Request, status ban.Status) {
	payload := map[string]any{
		"error":     "account suspended",
		"banned":    true,
		"permanent": status.Permanent,
	}
	if status.Until != nil {
		payload["until"] = status.Until.UTC()
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusForbidden, payload)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func isOptionalAuthPath(path string) bool {
	for _, p := range optionalAuthPaths {
		if path == p {
			return true
		}
	}
	return false
}
