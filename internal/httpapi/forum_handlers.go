package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"dobro.org/internal/audit"
	"dobro.org/internal/auth"
	"dobro.org/internal/forum"
	"dobro.org/internal/ids"
)

type createPostRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type createReplyRequest struct {
	Message       string `json:"message"`
	ParentReplyID string `json:"parent_reply_id"`
}

type linkDonationRequest struct {
	TagID string `json:"tag_id"`
}

func (a *API) handleForumPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	limit := parsePageParam(r.URL.Query().Get("limit"), forum.DefaultPageSize, 1)
	offset := parsePageParam(r.URL.Query().Get("offset"), 0, 0)

	page, err := a.reader.Page(r.Context(), limit, offset)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleForumPosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}

	var req createPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	post, err := a.forum.CreatePost(r.Context(), principal.SubjectID, req.Title, req.Body)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/forum/posts/"+post.ID)
	writeJSON(w, http.StatusCreated, post)
}

// handleForumPostScoped dispatches /v1/forum/posts/{id}/replies and
// /v1/forum/posts/{id}/donation-links.
func (a *API) handleForumPostScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/forum/posts/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	postID := parts[0]

	switch parts[1] {
	case "replies":
		a.createReply(w, r, postID)
	case "donation-links":
		a.linkDonation(w, r, postID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createReply(w http.ResponseWriter, r *http.Request, postID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}

	var req createReplyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := a.forum.CreateReply(r.Context(), principal.SubjectID, postID, req.ParentReplyID, req.Message)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (a *API) linkDonation(w http.ResponseWriter, r *http.Request, postID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !ensureTier(w, r, auth.TierOrganization) {
		return
	}

	var req linkDonationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tagID := strings.TrimSpace(req.TagID)
	if tagID == "" {
		tagID = ids.New()
	}

	if err := a.forum.LinkDonation(r.Context(), postID, tagID); err != nil {
		handleDomainError(w, r, err)
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	a.audit(r.Context(), &audit.Entry{
		ID:         ids.New(),
		ActorID:    principal.SubjectID,
		Action:     "forum.post.donation_link",
		TargetType: "post",
		TargetID:   postID,
		Payload:    map[string]string{"tag_id": tagID},
	}, map[string]any{"post_id": postID, "tag_id": tagID})

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": fmt.Sprintf("post %s linked to donation tag %s", postID, tagID),
	})
}
