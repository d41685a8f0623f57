// Package health serves the daemon's HTTP liveness endpoint.
package health

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/dyluth/warren/internal/bytecode"
	"github.com/dyluth/warren/internal/instance"
)

// Checker reports the state of the runtimes.
type Checker interface {
	Ready() bool
	Runtimes() []instance.Summary
	CacheStats() bytecode.Stats
}

// Pinger checks an external dependency, such as the admin channel's Redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer provides HTTP health check endpoints for the daemon.
type HealthServer struct {
	checker Checker
	redis   Pinger
	server  *http.Server
}

// NewHealthServer creates a new health check server. redis may be nil when the admin
// channel is disabled.
func NewHealthServer(checker Checker, redis Pinger) *HealthServer {
	return &HealthServer{
		checker: checker,
		redis:   redis,
	}
}

// Start starts the HTTP health check server on addr.
func (h *HealthServer) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)

	h.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// Start server in background
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Health] Server error: %v", err)
		}
	}()

	log.Printf("[Health] Listening on %s", addr)
	return nil
}

// Shutdown gracefully shuts down the health check server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK once the authority runtime is ready, 503 Service Unavailable otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.checker.CacheStats()
	response := HealthResponse{
		Status:   "healthy",
		Runtimes: h.checker.Runtimes(),
		Cache:    &stats,
	}
	status := http.StatusOK

	if !h.checker.Ready() {
		response.Status = "unhealthy"
		response.Error = "authority runtime is not ready"
		status = http.StatusServiceUnavailable
	}

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.redis.Ping(ctx); err != nil {
			// Scripts still run without the admin channel.
			response.Redis = "disconnected"
		} else {
			response.Redis = "connected"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status   string             `json:"status"`
	Runtimes []instance.Summary `json:"runtimes"`
	Cache    *bytecode.Stats    `json:"cache,omitempty"`
	Redis    string             `json:"redis,omitempty"`
	Error    string             `json:"error,omitempty"`
}
