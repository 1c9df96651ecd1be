package httpapi

import (
	"net/http"
	"strings"
	"time"

	"dobro.org/internal/audit"
	"dobro.org/internal/auth"
	"dobro.org/internal/ids"
)

type createBanRequest struct {
	SubjectID string     `json:"subject_id"`
	Reason    string     `json:"reason"`
	Until     *time.Time `json:"until"`
}

type createInfractionRequest struct {
	SubjectID string     `json:"subject_id"`
	Kind      string     `json:"kind"`
	Severity  int        `json:"severity"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type createSubjectRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Tier     int    `json:"tier"`
}

func (a *API) handleBans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req createBanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// The subject must exist; a ban for an unknown id would silently never
	// match anything.
	if _, err := a.identity.Find(r.Context(), req.SubjectID); err != nil {
		handleDomainError(w, r, err)
		return
	}

	inf, err := a.bans.CreateBan(r.Context(), req.SubjectID, req.Reason, req.Until)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	payload := map[string]string{"reason": inf.Reason}
	if inf.ExpiresAt != nil {
		payload["until"] = inf.ExpiresAt.Format(time.RFC3339)
	} else {
		payload["permanent"] = "true"
	}
	a.audit(r.Context(), &audit.Entry{
		ID:         ids.New(),
		ActorID:    principal.SubjectID,
		Action:     "ban.create",
		TargetType: "subject",
		TargetID:   inf.SubjectID,
		Payload:    payload,
	}, map[string]any{"subject_id": inf.SubjectID, "permanent": inf.ExpiresAt == nil})

	writeJSON(w, http.StatusCreated, inf)
}

func (a *API) handleInfractions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req createInfractionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := a.identity.Find(r.Context(), req.SubjectID); err != nil {
		handleDomainError(w, r, err)
		return
	}

	inf, err := a.bans.CreateInfraction(r.Context(), req.SubjectID, req.Kind, req.Severity, req.Reason, req.ExpiresAt)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	a.audit(r.Context(), &audit.Entry{
		ID:         ids.New(),
		ActorID:    principal.SubjectID,
		Action:     "infraction.create",
		TargetType: "subject",
		TargetID:   inf.SubjectID,
		Payload:    map[string]string{"kind": inf.Kind, "reason": inf.Reason},
	}, map[string]any{"subject_id": inf.SubjectID, "kind": inf.Kind})

	writeJSON(w, http.StatusCreated, inf)
}

func (a *API) handleSubjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req createSubjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	subject, err := a.identity.Register(r.Context(), req.Name, req.Email, req.Password, auth.Tier(req.Tier))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	a.audit(r.Context(), &audit.Entry{
		ID:         ids.New(),
		ActorID:    principal.SubjectID,
		Action:     "subject.create",
		TargetType: "subject",
		TargetID:   subject.ID,
		Payload:    map[string]string{"tier": subject.Tier.String()},
	}, map[string]any{"subject_id": subject.ID, "tier": int(subject.Tier)})

	w.Header().Set("Location", "/v1/subjects/"+subject.ID)
	writeJSON(w, http.StatusCreated, subject)
}

// handleSubjectScoped dispatches /v1/subjects/{id}/infractions.
func (a *API) handleSubjectScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/subjects/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "infractions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	list, err := a.bans.Infractions(r.Context(), parts[0])
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}
