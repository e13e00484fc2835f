package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gamehub-backend/internal/auth"
	"github.com/gamehub-backend/internal/domain"
	"github.com/gamehub-backend/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Service is the set of operations exposed over HTTP
type Service interface {
	PublishServer(ctx context.Context, claims auth.Claims, req domain.PublishServerRequest) (*domain.ServerRecord, error)
	GetServer(ctx context.Context, address string) (*domain.ServerRecord, error)
	ListServers(ctx context.Context) ([]domain.ServerRecord, error)
	Matchmake(ctx context.Context, claims auth.Claims) (*domain.ServerRecord, error)
	GrantAchievement(ctx context.Context, claims auth.Claims, req domain.GrantAchievementRequest) (*domain.AchievementGrant, error)
	ListAchievements(ctx context.Context, claims auth.Claims, accountID uuid.UUID) (*domain.AccountAchievements, error)
	MyAchievements(ctx context.Context, claims auth.Claims) (*domain.AccountAchievements, error)
	SetRank(ctx context.Context, claims auth.Claims, accountID uuid.UUID, req domain.SetRankRequest) (*domain.AccountRank, error)
	GetRank(ctx context.Context, claims auth.Claims, accountID uuid.UUID) (*domain.AccountRank, error)
}

// CredentialVerifier extracts claims from an Authorization header
type CredentialVerifier interface {
	FromAuthorizationHeader(header string) (auth.Claims, error)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerCounter reports the size of the live-server index
type ServerCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Handler provides HTTP handlers for the game backend API
type Handler struct {
	service  Service
	verifier CredentialVerifier
	hub      *websocket.Hub
	checks   map[string]Pinger
	servers  ServerCounter
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler. checks are consulted by /ready,
// which also reports the index size from servers when it is set.
func NewHandler(service Service, verifier CredentialVerifier, hub *websocket.Hub, checks map[string]Pinger, servers ServerCounter, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		verifier: verifier,
		hub:      hub,
		checks:   checks,
		servers:  servers,
		logger:   logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// Lobby push
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/servers", func(r chi.Router) {
			r.Post("/", h.PublishServer)
			r.Get("/", h.ListServers)
			r.Get("/{address}", h.GetServer)
		})

		r.Post("/matchmaking", h.Matchmake)

		r.Post("/achievements/grants", h.GrantAchievement)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/me/achievements", h.MyAchievements)
			r.Get("/{accountID}/achievements", h.ListAchievements)
			r.Put("/{accountID}/rank", h.SetRank)
			r.Get("/{accountID}/rank", h.GetRank)
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// claims returns the verified claims of the request. A missing or invalid
// credential yields zero claims, which every protected operation rejects.
func (h *Handler) claims(r *http.Request) auth.Claims {
	header := r.Header.Get("Authorization")
	if header == "" {
		return auth.Claims{}
	}
	claims, err := h.verifier.FromAuthorizationHeader(header)
	if err != nil {
		h.logger.Debug("rejected credential", "error", err, "request_id", middleware.GetReqID(r.Context()))
		return auth.Claims{}
	}
	return claims
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeCreated writes a successful JSON response for a new resource
func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
		Reason:  domain.Reason(err),
	})
}

// writeFailure maps an operation error to its status and logs failures that
// are not the caller's fault
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusServiceUnavailable:
		h.logger.Error("store failure", "operation", op, "error", err, "request_id", middleware.GetReqID(r.Context()))
		h.writeError(w, status, domain.ErrStoreFailure)
	case http.StatusInternalServerError:
		h.logger.Error("operation failed", "operation", op, "error", err, "request_id", middleware.GetReqID(r.Context()))
		h.writeError(w, status, domain.ErrInternalError)
	default:
		h.writeError(w, status, err)
	}
}

// statusFor returns the HTTP status of an operation error
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyGranted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Request input is never rejected here. A malformed body or path parameter
// is handed to the service as a zero value, so the caller is authorized
// before the input is judged invalid.

// decode reads a JSON body into v and reports whether it was well formed
func (h *Handler) decode(r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.Debug("malformed request body", "error", err, "request_id", middleware.GetReqID(r.Context()))
		return false
	}
	return true
}

// accountIDParam parses the accountID path parameter; anything unparseable
// becomes uuid.Nil
func accountIDParam(r *http.Request) uuid.UUID {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	}
	if mapName := r.URL.Query().Get("map_name"); mapName != "" {
		stats["map_name"] = mapName
		stats["subscribers"] = h.hub.GetSubscriberCount(mapName)
	}
	h.writeSuccess(w, stats)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports whether every backing store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
				Success: false,
				Data:    map[string]string{"status": "not ready", "dependency": name},
				Error:   domain.ErrStoreFailure.Error(),
				Reason:  domain.Reason(domain.ErrStoreFailure),
			})
			return
		}
	}
	status := map[string]interface{}{"status": "ready"}
	if h.servers != nil {
		count, err := h.servers.Count(ctx)
		if err != nil {
			h.logger.Warn("counting indexed servers failed", "error", err)
		} else {
			status["indexed_servers"] = count
		}
	}
	h.writeSuccess(w, status)
}

// PublishServer handles a game server publishing its state
func (h *Handler) PublishServer(w http.ResponseWriter, r *http.Request) {
	var req domain.PublishServerRequest
	if !h.decode(r, &req) {
		req = domain.PublishServerRequest{}
	}

	record, err := h.service.PublishServer(r.Context(), h.claims(r), req)
	if err != nil {
		h.writeFailure(w, r, "publish_server", err)
		return
	}

	h.writeSuccess(w, record)
}

// ListServers returns all live servers
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.service.ListServers(r.Context())
	if err != nil {
		h.writeFailure(w, r, "list_servers", err)
		return
	}

	h.writeSuccess(w, servers)
}

// GetServer returns a live server by address
func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	server, err := h.service.GetServer(r.Context(), address)
	if err != nil {
		h.writeFailure(w, r, "get_server", err)
		return
	}

	h.writeSuccess(w, server)
}

// Matchmake recommends a server to the caller
func (h *Handler) Matchmake(w http.ResponseWriter, r *http.Request) {
	server, err := h.service.Matchmake(r.Context(), h.claims(r))
	if err != nil {
		h.writeFailure(w, r, "matchmake", err)
		return
	}

	h.writeSuccess(w, server)
}

// GrantAchievement grants an achievement to an account
func (h *Handler) GrantAchievement(w http.ResponseWriter, r *http.Request) {
	var req domain.GrantAchievementRequest
	if !h.decode(r, &req) {
		req = domain.GrantAchievementRequest{}
	}

	grant, err := h.service.GrantAchievement(r.Context(), h.claims(r), req)
	if err != nil {
		h.writeFailure(w, r, "grant_achievement", err)
		return
	}

	h.writeCreated(w, grant)
}

// MyAchievements returns the caller's achievements
func (h *Handler) MyAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := h.service.MyAchievements(r.Context(), h.claims(r))
	if err != nil {
		h.writeFailure(w, r, "my_achievements", err)
		return
	}

	h.writeSuccess(w, achievements)
}

// ListAchievements returns an account's achievements
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := h.service.ListAchievements(r.Context(), h.claims(r), accountIDParam(r))
	if err != nil {
		h.writeFailure(w, r, "list_achievements", err)
		return
	}

	h.writeSuccess(w, achievements)
}

// SetRank sets an account's rank
func (h *Handler) SetRank(w http.ResponseWriter, r *http.Request) {
	var req domain.SetRankRequest
	if !h.decode(r, &req) {
		req = domain.SetRankRequest{}
	}

	rank, err := h.service.SetRank(r.Context(), h.claims(r), accountIDParam(r), req)
	if err != nil {
		h.writeFailure(w, r, "set_rank", err)
		return
	}

	h.writeSuccess(w, rank)
}

// GetRank returns an account's effective rank
func (h *Handler) GetRank(w http.ResponseWriter, r *http.Request) {
	rank, err := h.service.GetRank(r.Context(), h.claims(r), accountIDParam(r))
	if err != nil {
		h.writeFailure(w, r, "get_rank", err)
		return
	}

	h.writeSuccess(w, rank)
}
