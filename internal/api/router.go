package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/roomsync/roomsync/internal/api/middleware"
	"github.com/roomsync/roomsync/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	WebhookAuth *mw.WebhookAuth

	HealthHandler http.HandlerFunc

	DealWebhookHandler http.HandlerFunc
	UserWebhookHandler http.HandlerFunc

	GetRoomHandler       http.HandlerFunc
	ProvisionRoomHandler http.HandlerFunc
	RequestAccessHandler http.HandlerFunc

	GetAccountHandler    http.HandlerFunc
	LinkAccountHandler   http.HandlerFunc
	UnlinkAccountHandler http.HandlerFunc

	GetSettingsHandler   http.HandlerFunc
	SaveSettingsHandler  http.HandlerFunc
	ClearSettingsHandler http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
// Webhook deliveries authenticate with the replayed basic auth pair; panel
// routes carry the trusted identity headers set by the upstream gateway.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// CRM webhook deliveries
	r.Group(func(r chi.Router) {
		r.Use(deps.WebhookAuth.Authenticate)

		r.Post("/api/v1/webhook/deal", orNotImplemented(deps.DealWebhookHandler))
		r.Post("/api/v1/webhook/user", orNotImplemented(deps.UserWebhookHandler))
	})

	// Panel routes
	r.Group(func(r chi.Router) {
		r.Use(mw.Identity)

		r.Get("/api/v1/room/{dealID}", orNotImplemented(deps.GetRoomHandler))
		r.Post("/api/v1/room/{dealID}", orNotImplemented(deps.ProvisionRoomHandler))
		r.Post("/api/v1/room/{dealID}/request-access", orNotImplemented(deps.RequestAccessHandler))

		r.Get("/api/v1/account", orNotImplemented(deps.GetAccountHandler))
		r.Put("/api/v1/account", orNotImplemented(deps.LinkAccountHandler))
		r.Delete("/api/v1/account", orNotImplemented(deps.UnlinkAccountHandler))

		r.Get("/api/v1/settings", orNotImplemented(deps.GetSettingsHandler))
		r.Put("/api/v1/settings", orNotImplemented(deps.SaveSettingsHandler))
		r.Delete("/api/v1/settings", orNotImplemented(deps.ClearSettingsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
