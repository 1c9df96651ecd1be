package httpapi

import (
	"net/http"
	"time"

	"dobro.org/internal/audit"
	"dobro.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	subject, err := a.identity.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	// A suspended subject may still log in; the gate rejects every
	// subsequent request with the suspension details. Refusing here would
	// hide the ban message from the client.
	token, err := auth.GenerateToken(subject.ID, subject.Tier, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"subject_id": subject.ID,
		"tier":       int(subject.Tier),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}
	subject, err := a.identity.Find(r.Context(), principal.SubjectID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	// The gate already refused suspended subjects, so this is effectively
	// always clean; it is included so clients render one shape.
	status, err := a.bans.IsBanned(r.Context(), subject.ID)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject": subject,
		"ban":     status,
	})
}
