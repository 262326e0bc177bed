package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ukydev/drowsiness-monitor/internal/middleware"
)

// Routes bundles the handlers and middleware served by the API.
type Routes struct {
	Auth       *AuthHandler
	Contacts   *ContactHandler
	Trips      *TripHandler
	Statistics *StatisticsHandler
	AI         *AIHandler

	AuthMiddleware  *middleware.AuthMiddleware
	RateLimiter     *middleware.RateLimitMiddleware
	RateLimitPerMin int
	CORSOrigins     string

	// Metrics, when set, is served on GET /metrics.
	Metrics func() map[string]interface{}
}

// NewRouter wires every route onto a gorilla/mux router. CORS wraps the
// router so preflight requests are answered before route matching.
func NewRouter(rt Routes) http.Handler {
	r := mux.NewRouter()

	if rt.RateLimiter != nil {
		r.Use(rt.RateLimiter.RateLimit(rt.RateLimitPerMin, 60))
	}
	r.Use(rt.AuthMiddleware.Authenticate)

	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Drowsiness Detection API is running"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if rt.Metrics != nil {
		r.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, rt.Metrics())
		}).Methods(http.MethodGet)
	}

	users := r.PathPrefix("/users").Subrouter()
	users.HandleFunc("/register", rt.Auth.Register).Methods(http.MethodPost)
	users.HandleFunc("/token", rt.Auth.Login).Methods(http.MethodPost)
	users.HandleFunc("/forgot-password", rt.Auth.ForgotPassword).Methods(http.MethodPost)
	users.HandleFunc("/reset-password", rt.Auth.ResetPassword).Methods(http.MethodPost)
	users.HandleFunc("/me", rt.Auth.GetProfile).Methods(http.MethodGet)
	users.HandleFunc("/me", rt.Auth.UpdateProfile).Methods(http.MethodPut)
	users.HandleFunc("/me/password", rt.Auth.ChangePassword).Methods(http.MethodPost)

	contacts := r.PathPrefix("/contacts").Subrouter()
	contacts.HandleFunc("", rt.Contacts.List).Methods(http.MethodGet)
	contacts.HandleFunc("/", rt.Contacts.List).Methods(http.MethodGet)
	contacts.HandleFunc("", rt.Contacts.Create).Methods(http.MethodPost)
	contacts.HandleFunc("/", rt.Contacts.Create).Methods(http.MethodPost)
	contacts.HandleFunc("/{id:[0-9]+}", rt.Contacts.Update).Methods(http.MethodPut)
	contacts.HandleFunc("/{id:[0-9]+}", rt.Contacts.Delete).Methods(http.MethodDelete)

	trips := r.PathPrefix("/trips").Subrouter()
	trips.HandleFunc("/start", rt.Trips.Start).Methods(http.MethodPost)
	trips.HandleFunc("/end", rt.Trips.End).Methods(http.MethodPost)
	trips.HandleFunc("/active", rt.Trips.Active).Methods(http.MethodGet)
	trips.HandleFunc("/detections", rt.Trips.CreateDetection).Methods(http.MethodPost)
	trips.HandleFunc("/{trip_id:[0-9]+}/logs", rt.Trips.CreateLog).Methods(http.MethodPost)

	statistics := r.PathPrefix("/statistics").Subrouter()
	statistics.HandleFunc("/trips", rt.Statistics.Trips).Methods(http.MethodGet)
	statistics.HandleFunc("/trips/{trip_id:[0-9]+}", rt.Statistics.TripDetail).Methods(http.MethodGet)
	statistics.HandleFunc("/summary", rt.Statistics.Summary).Methods(http.MethodGet)
	statistics.HandleFunc("/driving-hours", rt.Statistics.DrivingHours).Methods(http.MethodGet)
	statistics.HandleFunc("/calendar", rt.Statistics.Calendar).Methods(http.MethodGet)

	ai := r.PathPrefix("/ai").Subrouter()
	ai.HandleFunc("/detect", rt.AI.Detect).Methods(http.MethodPost)
	ai.HandleFunc("/ws/detect", rt.AI.Stream).Methods(http.MethodGet)

	return middleware.CORS(rt.CORSOrigins)(r)
}
