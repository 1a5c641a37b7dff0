package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the HTTP routes of the server.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware(s.port))

	api := router.PathPrefix("/v1").Subrouter()

	// Sources and records
	api.HandleFunc("/sources", s.handleListSources).Methods("GET")
	api.HandleFunc("/sources/{id}/timestamps", s.handleListTimestamps).Methods("GET")
	api.HandleFunc("/sources/{id}/records/{ts:-?[0-9]+}", s.handleRecord).Methods("GET")

	// Backup and restore
	api.HandleFunc("/sources/{id}/export", s.exports.HandleExport).Methods("GET")
	api.HandleFunc("/sources/{id}/import", s.exports.HandleImport).Methods("POST")

	// Trend runs
	api.HandleFunc("/trend", s.handleTrend).Methods("GET")
	api.HandleFunc("/trend", s.handleStopTrend).Methods("DELETE")
	api.HandleFunc("/trend/series", s.handleSeries).Methods("GET")
	api.HandleFunc("/trend/{id}", s.handleBeginTrend).Methods("POST")

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/ws", s.hub.HandleWebSocket).Methods("GET")

	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")

	return router
}

// corsMiddleware restricts cross-origin access to local front ends.
func corsMiddleware(port int) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		fmt.Sprintf("http://localhost:%d", port): true,
		fmt.Sprintf("http://127.0.0.1:%d", port): true,
		"http://localhost:3000":                  true,
		"http://127.0.0.1:3000":                  true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
