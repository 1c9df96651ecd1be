package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"dobro.org/internal/auth"
	"dobro.org/internal/ban"
	"dobro.org/internal/forum"
	"dobro.org/internal/identity"
	"dobro.org/internal/moderation"
	"dobro.org/internal/notify"
	"dobro.org/internal/store/memory"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type testEnv struct {
	*apiClient
	store    *memory.Store
	identity *identity.Service
	bans     *ban.Ledger
}

func newTestAPI(t *testing.T) *testEnv {
	t.Helper()

	t.Setenv("DOBRO_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	store := memory.New()
	identitySvc, err := identity.NewService(store)
	if err != nil {
		t.Fatal(err)
	}
	bans, err := ban.NewLedger(store)
	if err != nil {
		t.Fatal(err)
	}
	reader, err := forum.NewReader(store)
	if err != nil {
		t.Fatal(err)
	}
	forumSvc, err := forum.NewService(store)
	if err != nil {
		t.Fatal(err)
	}
	executor, err := moderation.NewExecutor(store)
	if err != nil {
		t.Fatal(err)
	}
	notifications, err := notify.NewService(store)
	if err != nil {
		t.Fatal(err)
	}

	api := New(ReadyProbe{}, "test", Deps{
		Identity:      identitySvc,
		Bans:          bans,
		Reader:        reader,
		Forum:         forumSvc,
		Moderation:    executor,
		Notifications: notifications,
		Auditor:       store,
	})
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		apiClient: &apiClient{baseURL: srv.URL, client: srv.Client(), t: t},
		store:     store,
		identity:  identitySvc,
		bans:      bans,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u := path
	if params != nil {
		u += "?" + params.Encode()
	}
	return c.do(http.MethodGet, u, nil, headers)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// register creates a subject directly through the service and returns a
// bearer header obtained from the login endpoint.
func (env *testEnv) register(name string, tier auth.Tier) (string, map[string]string) {
	env.t.Helper()
	email := name + "@example.org"
	subject, err := env.identity.Register(env.t.Context(), name, email, "password-123", tier)
	if err != nil {
		env.t.Fatal(err)
	}

	resp := env.post("/v1/auth/login", map[string]any{
		"email": email, "password": "password-123",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		env.t.Fatalf("login status: %d", resp.StatusCode)
	}
	payload := decode[loginResponse](env.t, resp)
	if payload.Token == "" {
		env.t.Fatal("empty token issued")
	}
	return subject.ID, map[string]string{"Authorization": "Bearer " + payload.Token}
}

func TestLoginAndMe(t *testing.T) {
	env := newTestAPI(t)
	id, header := env.register("alice", auth.TierPerson)

	resp := env.get("/v1/me", nil, header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status: %d", resp.StatusCode)
	}
	me := decode[map[string]any](t, resp)
	subject, ok := me["subject"].(map[string]any)
	if !ok || subject["id"] != id {
		t.Fatalf("unexpected subject: %v", me)
	}
	if _, leaked := subject["password_hash"]; leaked {
		t.Fatal("password hash leaked in response")
	}
	banStatus, ok := me["ban"].(map[string]any)
	if !ok || banStatus["banned"] != false {
		t.Fatalf("expected clean ban status, got %v", me["ban"])
	}

	resp = env.post("/v1/auth/login", map[string]any{
		"email": "alice@example.org", "password": "wrong",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", resp.StatusCode)
	}
}

func TestForumFlow(t *testing.T) {
	env := newTestAPI(t)
	_, alice := env.register("alice", auth.TierPerson)
	_, bob := env.register("bob", auth.TierPerson)

	resp := env.post("/v1/forum/posts", map[string]any{
		"title": "Weekend cleanup", "body": "Meet at the park gate at 9.",
	}, alice)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create post status: %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") == "" {
		t.Fatal("expected Location header")
	}
	post := decode[map[string]any](t, resp)
	postID := post["id"].(string)

	resp = env.post("/v1/forum/posts/"+postID+"/replies", map[string]any{
		"message": "I'll bring gloves.",
	}, bob)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create reply status: %d", resp.StatusCode)
	}
	reply := decode[map[string]any](t, resp)
	replyID := reply["id"].(string)

	resp = env.post("/v1/forum/posts/"+postID+"/replies", map[string]any{
		"message": "Thanks!", "parent_reply_id": replyID,
	}, alice)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create sub-reply status: %d", resp.StatusCode)
	}
	sub := decode[map[string]any](t, resp)

	// A third nesting level is refused.
	resp = env.post("/v1/forum/posts/"+postID+"/replies", map[string]any{
		"message": "too deep", "parent_reply_id": sub["id"],
	}, bob)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for third level, got %d", resp.StatusCode)
	}

	// Anonymous listing sees the assembled tree.
	resp = env.get("/v1/forum", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("forum status: %d", resp.StatusCode)
	}
	page := decode[forum.Page](t, resp)
	if len(page.Posts) != 1 {
		t.Fatalf("expected one post, got %d", len(page.Posts))
	}
	got := page.Posts[0]
	if got.Author.Name != "alice" {
		t.Fatalf("author projection missing: %+v", got.Author)
	}
	if len(got.Replies) != 1 || len(got.Replies[0].SubReplies) != 1 {
		t.Fatalf("unexpected tree shape: %+v", got.Replies)
	}

	// Creating content anonymously is refused.
	resp = env.post("/v1/forum/posts", map[string]any{"title": "x", "body": "y"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 anonymous create, got %d", resp.StatusCode)
	}

	// A malformed credential on the optional-auth listing is rejected, not
	// downgraded to anonymous.
	resp = env.get("/v1/forum", nil, map[string]string{"Authorization": "Basic Zm9v"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed credential, got %d", resp.StatusCode)
	}
}

func TestBanEnforcement(t *testing.T) {
	env := newTestAPI(t)
	_, admin := env.register("root", auth.TierAdmin)
	subjectID, banned := env.register("subject-42", auth.TierPerson)

	// Works before the ban.
	resp := env.get("/v1/me", nil, banned)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pre-ban status: %d", resp.StatusCode)
	}

	resp = env.post("/v1/bans", map[string]any{
		"subject_id": subjectID, "reason": "harassment",
	}, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ban status: %d", resp.StatusCode)
	}

	// The very next request with the still-valid token is refused.
	resp = env.get("/v1/me", nil, banned)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 after ban, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["banned"] != true || body["permanent"] != true {
		t.Fatalf("expected permanent suspension payload, got %v", body)
	}
	if _, hasUntil := body["until"]; hasUntil {
		t.Fatalf("permanent ban must not carry until: %v", body)
	}

	// Login still succeeds; the gate owns the refusal.
	resp = env.post("/v1/auth/login", map[string]any{
		"email": "subject-42@example.org", "password": "password-123",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login while banned should succeed, got %d", resp.StatusCode)
	}
}

func TestExpiredBanNoLongerBlocks(t *testing.T) {
	env := newTestAPI(t)
	subjectID, header := env.register("alice", auth.TierPerson)

	expired := time.Now().Add(-time.Hour).UTC()
	err := env.store.AppendInfraction(t.Context(), &ban.Infraction{
		ID: "01", SubjectID: subjectID, Kind: ban.KindBan, Severity: ban.BanSeverity,
		CreatedAt: expired.Add(-time.Hour), ExpiresAt: &expired,
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := env.get("/v1/me", nil, header)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expired ban must not block, got %d", resp.StatusCode)
	}
}

func TestTemporaryBanCarriesExpiry(t *testing.T) {
	env := newTestAPI(t)
	_, admin := env.register("root", auth.TierAdmin)
	subjectID, banned := env.register("carol", auth.TierPerson)

	until := time.Now().Add(2 * time.Hour).UTC()
	resp := env.post("/v1/bans", map[string]any{
		"subject_id": subjectID, "reason": "spam", "until": until,
	}, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ban status: %d", resp.StatusCode)
	}

	resp = env.get("/v1/me", nil, banned)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["permanent"] != false || body["until"] == nil {
		t.Fatalf("expected temporary suspension payload, got %v", body)
	}
}

func TestModerationDeleteFlow(t *testing.T) {
	env := newTestAPI(t)
	_, admin := env.register("root", auth.TierAdmin)
	_, alice := env.register("alice", auth.TierPerson)
	_, bob := env.register("bob", auth.TierPerson)

	resp := env.post("/v1/forum/posts", map[string]any{
		"title": "Donated blankets", "body": "Thirty blankets dropped off today.",
	}, alice)
	post := decode[map[string]any](t, resp)
	postID := post["id"].(string)

	resp = env.post("/v1/forum/posts/"+postID+"/replies", map[string]any{
		"message": "Amazing work",
	}, bob)
	resp.Body.Close()

	// bob claims authorship in the request; the record says alice.
	resp = env.do(http.MethodDelete, "/v1/moderation/content", map[string]any{
		"content_type": "post", "content_id": postID, "author_id": "bob",
	}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status: %d", resp.StatusCode)
	}
	result := decode[map[string]any](t, resp)
	if result["message"] == "" {
		t.Fatal("expected summary message")
	}

	// Listing no longer shows the thread.
	resp = env.get("/v1/forum", nil, nil)
	page := decode[forum.Page](t, resp)
	if len(page.Posts) != 0 {
		t.Fatalf("deleted post still listed: %+v", page.Posts)
	}

	// Only the true author is notified.
	resp = env.get("/v1/notifications", nil, alice)
	inbox := decode[map[string][]notify.Notification](t, resp)
	items := inbox["items"]
	if len(items) != 1 || items[0].Kind != notify.KindContentRemoved {
		t.Fatalf("expected one removal notification, got %+v", items)
	}

	resp = env.get("/v1/notifications", nil, bob)
	bobInbox := decode[map[string][]notify.Notification](t, resp)
	if len(bobInbox["items"]) != 0 {
		t.Fatalf("claimed author must not be notified: %+v", bobInbox["items"])
	}

	// Mark read; a second subject cannot touch it.
	nid := items[0].ID
	resp = env.post("/v1/notifications/"+nid+"/read", nil, bob)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign mark-read should 404, got %d", resp.StatusCode)
	}
	resp = env.post("/v1/notifications/"+nid+"/read", nil, alice)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark-read status: %d", resp.StatusCode)
	}
}

func TestModerationRefusesDonationLinkedPost(t *testing.T) {
	env := newTestAPI(t)
	_, admin := env.register("root", auth.TierAdmin)
	_, org := env.register("shelter", auth.TierOrganization)

	resp := env.post("/v1/forum/posts", map[string]any{
		"title": "Campaign update", "body": "Funds received, receipts below.",
	}, org)
	post := decode[map[string]any](t, resp)
	postID := post["id"].(string)

	resp = env.post("/v1/forum/posts/"+postID+"/donation-links", map[string]any{
		"tag_id": "campaign-1",
	}, org)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("link status: %d", resp.StatusCode)
	}

	resp = env.do(http.MethodDelete, "/v1/moderation/content", map[string]any{
		"content_type": "post", "content_id": postID,
	}, admin)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["has_donations"] != true {
		t.Fatalf("expected has_donations flag, got %v", body)
	}

	// The post survives untouched and stays excluded from listings.
	if _, err := env.store.FindPostRecord(t.Context(), postID); err != nil {
		t.Fatalf("post should survive: %v", err)
	}
	resp = env.get("/v1/forum", nil, nil)
	page := decode[forum.Page](t, resp)
	if len(page.Posts) != 0 {
		t.Fatalf("linked post must not be listed: %+v", page.Posts)
	}
}

func TestAdminRoutesRequireAdminTier(t *testing.T) {
	env := newTestAPI(t)
	subjectID, person := env.register("alice", auth.TierPerson)

	resp := env.post("/v1/bans", map[string]any{"subject_id": subjectID}, person)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for person, got %d", resp.StatusCode)
	}

	resp = env.do(http.MethodDelete, "/v1/moderation/content", map[string]any{
		"content_type": "post", "content_id": "x",
	}, person)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for person, got %d", resp.StatusCode)
	}

	resp = env.post("/v1/bans", map[string]any{"subject_id": subjectID}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 anonymous, got %d", resp.StatusCode)
	}
}

func TestDonationLinkRequiresOrganizationTier(t *testing.T) {
	env := newTestAPI(t)
	_, alice := env.register("alice", auth.TierPerson)

	resp := env.post("/v1/forum/posts", map[string]any{
		"title": "My post", "body": "body",
	}, alice)
	post := decode[map[string]any](t, resp)
	postID := post["id"].(string)

	resp = env.post("/v1/forum/posts/"+postID+"/donation-links", map[string]any{
		"tag_id": "t",
	}, alice)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for person tier, got %d", resp.StatusCode)
	}
}

func TestSubjectInfractionsListing(t *testing.T) {
	env := newTestAPI(t)
	_, admin := env.register("root", auth.TierAdmin)
	subjectID, _ := env.register("alice", auth.TierPerson)

	resp := env.post("/v1/infractions", map[string]any{
		"subject_id": subjectID, "kind": "forum.offtopic", "severity": 10, "reason": "spam link",
	}, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("infraction status: %d", resp.StatusCode)
	}

	// The reserved suspension kind is refused on this endpoint.
	resp = env.post("/v1/infractions", map[string]any{
		"subject_id": subjectID, "kind": ban.KindBan, "severity": 1,
	}, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for reserved kind, got %d", resp.StatusCode)
	}

	resp = env.get("/v1/subjects/"+subjectID+"/infractions", nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("listing status: %d", resp.StatusCode)
	}
	listing := decode[map[string][]ban.Infraction](t, resp)
	if len(listing["items"]) != 1 || listing["items"][0].Kind != "forum.offtopic" {
		t.Fatalf("unexpected listing: %+v", listing["items"])
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := env.get(path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status: %d", path, resp.StatusCode)
		}
	}

	// Unknown paths sit behind the gate: anonymous callers see 401, an
	// authenticated caller gets the 404.
	resp := env.get("/v1/unknown", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	_, header := env.register("alice", auth.TierPerson)
	resp = env.get("/v1/unknown", nil, header)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
