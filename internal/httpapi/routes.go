// Package httpapi binds the request, read-tracking and rating operations to
// REST routes. Every /api route requires a bearer token whose subject is the
// caller's user id.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"marketplace-backend/internal/catalog"
	"marketplace-backend/internal/ledger"
	"marketplace-backend/internal/projections"
	"marketplace-backend/internal/ratings"
	"marketplace-backend/internal/readtracker"
)

// go-playground/validator/v10: validates request bodies at the edge.
var validate = validator.New()

// NotificationFeed reads a user's projected notifications.
type NotificationFeed interface {
	Recent(ctx context.Context, userID uint, limit int) ([]projections.Notification, error)
}

// Deps are the services the API serves.
type Deps struct {
	Listings *catalog.Service
	Ledger   *ledger.Service
	Reads    *readtracker.Tracker
	Ratings  *ratings.Collector
	Feed     NotificationFeed
	// Ping reports datastore health for /health.
	Ping      func(ctx context.Context) error
	JWTSecret []byte
}

type API struct {
	Deps
	log *zap.Logger
}

func New(deps Deps, log *zap.Logger) *API {
	return &API{Deps: deps, log: log.Named("http")}
}

// RegisterRoutes wires HTTP routes.
// gorilla/mux: static segments are registered before {id} patterns so they win.
func (a *API) RegisterRoutes(r *mux.Router) {
	r.Use(a.accessLog)
	r.HandleFunc("/health", a.healthHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(JWTAuth(a.JWTSecret))

	api.HandleFunc("/listings", a.createListing).Methods(http.MethodPost)
	api.HandleFunc("/listings/{id:[0-9]+}", a.getListing).Methods(http.MethodGet)
	api.HandleFunc("/listings/{id:[0-9]+}/requests", a.listingHistory).Methods(http.MethodGet)
	api.HandleFunc("/listings/{id:[0-9]+}/ratings", a.listingRatings).Methods(http.MethodGet)
	api.HandleFunc("/listings/{id:[0-9]+}/ratings/summary", a.listingRatingSummary).Methods(http.MethodGet)

	api.HandleFunc("/requests", a.createRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/pending", a.listPending).Methods(http.MethodGet)
	api.HandleFunc("/requests/unread", a.listResolvedUnread).Methods(http.MethodGet)
	api.HandleFunc("/requests/history", a.history).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id:[0-9]+}", a.getRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id:[0-9]+}/resolve", a.resolveRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}/ratings", a.submitRatings).Methods(http.MethodPost)

	api.HandleFunc("/users/{id:[0-9]+}/ratings", a.receivedRatings).Methods(http.MethodGet)
	api.HandleFunc("/users/{id:[0-9]+}/ratings/summary", a.userRatingSummary).Methods(http.MethodGet)

	api.HandleFunc("/notifications", a.recentNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read", a.markRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/count", a.unreadCount).Methods(http.MethodGet)
	api.HandleFunc("/inbox", a.inbox).Methods(http.MethodGet)
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	if a.Ping != nil {
		if err := a.Ping(r.Context()); err != nil {
			a.log.Warn("health check failed", zap.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
