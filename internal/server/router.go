package server

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// RouterConfig wires the HTTP surface together
type RouterConfig struct {
	API           *APIHandler
	Hub           *Hub
	Metrics       http.Handler // optional
	DashboardPath string
	AuthToken     string // guards POST /api/refresh when set
	Logger        zerolog.Logger
}

// NewRouter builds the routes and wraps them in recovery, compression and request logging
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", serveDashboard(cfg.DashboardPath, cfg.Logger)).Methods("GET")
	r.HandleFunc("/index.html", serveDashboard(cfg.DashboardPath, cfg.Logger)).Methods("GET")
	r.HandleFunc("/health", cfg.API.HandleHealth).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/snapshot", cfg.API.HandleSnapshot).Methods("GET")
	api.HandleFunc("/latest", cfg.API.HandleLatest).Methods("GET")
	api.HandleFunc("/markers", cfg.API.HandleMarkers).Methods("GET")
	api.HandleFunc("/timeseries", cfg.API.HandleTimeSeries).Methods("GET")
	api.HandleFunc("/readings", cfg.API.HandleReadings).Methods("GET")
	api.HandleFunc("/sensors", cfg.API.HandleSensors).Methods("GET")
	api.HandleFunc("/history", cfg.API.HandleHistory).Methods("GET")
	api.HandleFunc("/history/hourly", cfg.API.HandleHourlyStats).Methods("GET")
	api.HandleFunc("/storage/stats", cfg.API.HandleStorageStats).Methods("GET")
	api.Handle("/refresh", requireToken(cfg.AuthToken, http.HandlerFunc(cfg.API.HandleRefresh))).Methods("POST")

	if cfg.Hub != nil {
		// websocket upgrades must not go through the compression wrapper
		r.Handle("/ws", cfg.Hub).Methods("GET")
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods("GET")
	}

	compressed := handlers.CompressHandler(r)
	root := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/ws" {
			r.ServeHTTP(w, req)
			return
		}
		compressed.ServeHTTP(w, req)
	})

	logged := handlers.CustomLoggingHandler(io.Discard, root, requestLogger(cfg.Logger))
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{cfg.Logger}),
		handlers.PrintRecoveryStack(false),
	)(logged)
}

// serveDashboard serves the dashboard page from disk
func serveDashboard(path string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug().Str("path", r.URL.Path).Msg("Serving dashboard")
		http.ServeFile(w, r, path)
	}
}

// requireToken rejects requests without the bearer token. An empty token disables the check.
func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validateToken(r.Header.Get("Authorization"), token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validateToken checks a "Bearer <token>" header
func validateToken(authHeader, token string) bool {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	got := strings.TrimPrefix(authHeader, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

// requestLogger formats access log lines through zerolog
func requestLogger(logger zerolog.Logger) handlers.LogFormatter {
	return func(_ io.Writer, p handlers.LogFormatterParams) {
		logger.Debug().
			Str("method", p.Request.Method).
			Str("path", p.URL.Path).
			Int("status", p.StatusCode).
			Int("size", p.Size).
			Str("remote", p.Request.RemoteAddr).
			Dur("took", time.Since(p.TimeStamp)).
			Msg("HTTP request")
	}
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("Recovered from handler panic")
}
