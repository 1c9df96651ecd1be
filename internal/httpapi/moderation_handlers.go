package httpapi

import (
	"net/http"

	"dobro.org/internal/audit"
	"dobro.org/internal/auth"
)

type moderationDeleteRequest struct {
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id"`
	// AuthorID is a client hint only; the executor resolves the true author
	// from the stored record.
	AuthorID string `json:"author_id"`
}

func (a *API) handleModerationContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req moderationDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.moderation.Delete(r.Context(), principal.SubjectID, req.ContentType, req.ContentID, req.AuthorID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	// Durable entry plus notification already landed inside the store
	// transaction; this is the structured log line for operators.
	_ = audit.LogEvent(r.Context(), "moderation.content.delete", map[string]any{
		"content_type": result.ContentType,
		"content_id":   result.ContentID,
		"author_id":    result.AuthorID,
	})

	writeJSON(w, http.StatusOK, map[string]any{"message": result.Summary})
}
