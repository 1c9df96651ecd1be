package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"dobro.org/internal/audit"
	"dobro.org/internal/auth"
	"dobro.org/internal/ban"
	"dobro.org/internal/forum"
	"dobro.org/internal/identity"
	"dobro.org/internal/moderation"
	"dobro.org/internal/notify"
	"dobro.org/internal/obs"
)

// ReadyProbe checks the dependencies behind /readyz (e.g. pings the DB).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps collects the services the HTTP layer dispatches into.
type Deps struct {
	Identity      *identity.Service
	Bans          *ban.Ledger
	Reader        *forum.Reader
	Forum         *forum.Service
	Moderation    *moderation.Executor
	Notifications *notify.Service
	Auditor       audit.Appender
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	identity      *identity.Service
	bans          *ban.Ledger
	reader        *forum.Reader
	forum         *forum.Service
	moderation    *moderation.Executor
	notifications *notify.Service
	auditor       audit.Appender

	rateBurst  int
	ratePerSec int
}

// New wires routes. Tier requirements are attached at registration so a
// handler can assume its minimum tier holds.
func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    rp,
		version:       version,
		identity:      deps.Identity,
		bans:          deps.Bans,
		reader:        deps.Reader,
		forum:         deps.Forum,
		moderation:    deps.Moderation,
		notifications: deps.Notifications,
		auditor:       deps.Auditor,
		rateBurst:     20,
		ratePerSec:    10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session tokens
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/me", a.handleMe)

	// forum
	a.mux.HandleFunc("/v1/forum", a.handleForumPage)
	a.mux.HandleFunc("/v1/forum/posts", a.handleForumPosts)
	a.mux.HandleFunc("/v1/forum/posts/", a.handleForumPostScoped)

	// moderation + admin
	a.mux.Handle("/v1/moderation/content", RequireTier(auth.TierAdmin)(http.HandlerFunc(a.handleModerationContent)))
	a.mux.Handle("/v1/bans", RequireTier(auth.TierAdmin)(http.HandlerFunc(a.handleBans)))
	a.mux.Handle("/v1/infractions", RequireTier(auth.TierAdmin)(http.HandlerFunc(a.handleInfractions)))
	a.mux.Handle("/v1/subjects", RequireTier(auth.TierAdmin)(http.HandlerFunc(a.handleSubjects)))
	a.mux.Handle("/v1/subjects/", RequireTier(auth.TierAdmin)(http.HandlerFunc(a.handleSubjectScoped)))

	// notifications
	a.mux.HandleFunc("/v1/notifications", a.handleNotifications)
	a.mux.HandleFunc("/v1/notifications/", a.handleNotificationScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the default per-client rate limit. Must be called
// before Handler.
func (a *API) SetRateLimit(burst, perSec int) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSec > 0 {
		a.ratePerSec = perSec
	}
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	return h
}

// audit records a durable entry and the structured audit log line. Appender
// failures are logged, never surfaced: the request already succeeded and the
// moderation path carries its entry inside the store transaction instead.
func (a *API) audit(ctx context.Context, entry *audit.Entry, fields map[string]any) {
	if entry != nil && entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if a.auditor != nil && entry != nil {
		if err := a.auditor.Append(ctx, entry); err != nil {
			obs.LogError("audit_append", err, map[string]any{
				"action":    entry.Action,
				"target_id": entry.TargetID,
			})
		}
	}
	if entry != nil {
		_ = audit.LogEvent(ctx, entry.Action, fields)
	}
}
