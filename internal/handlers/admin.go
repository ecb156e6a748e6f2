package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/query-gateway/internal/accesslog"
	"github.com/sdko-org/query-gateway/internal/analytics"
	"github.com/sdko-org/query-gateway/internal/models"
	"github.com/sdko-org/query-gateway/internal/registry"
	"github.com/sirupsen/logrus"
)

type cacheAdmin interface {
	Invalidate(ctx context.Context, keys ...string) error
	Purge(ctx context.Context) (int64, error)
}

type statsSource interface {
	Stats(ctx context.Context, endpointID string, since time.Time) (*accesslog.UsageStats, error)
}

// AdminHandler serves the administrative surface: endpoint registration,
// cache invalidation, usage stats and generated documentation.
type AdminHandler struct {
	registry  *registry.Registry
	cache     cacheAdmin
	recorder  statsSource
	analytics *analytics.Client
	log       *logrus.Entry
}

func NewAdminHandler(logger *logrus.Logger, reg *registry.Registry, cache cacheAdmin, recorder statsSource, analyticsClient *analytics.Client) *AdminHandler {
	return &AdminHandler{
		registry:  reg,
		cache:     cache,
		recorder:  recorder,
		analytics: analyticsClient,
		log:       logger.WithField("component", "admin_handler"),
	}
}

type registerRequest struct {
	Name               string                 `json:"name"`
	Path               string                 `json:"path"`
	Method             string                 `json:"method"`
	QueryTemplate      string                 `json:"query_template"`
	Description        string                 `json:"description"`
	Parameters         models.ParameterSchema `json:"parameters"`
	AuthRequired       bool                   `json:"auth_required"`
	RateLimitPerMinute int                    `json:"rate_limit_per_minute"`
}

func (h *AdminHandler) RegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	def := &models.EndpointDefinition{
		Name:               req.Name,
		Path:               req.Path,
		Method:             req.Method,
		QueryTemplate:      req.QueryTemplate,
		Description:        req.Description,
		Parameters:         req.Parameters,
		AuthRequired:       req.AuthRequired,
		RateLimitPerMinute: req.RateLimitPerMinute,
	}

	id, err := h.registry.Register(r.Context(), def)
	if err != nil {
		var validation *registry.ValidationError
		if errors.As(err, &validation) {
			writeError(w, http.StatusBadRequest, validation.Error())
			return
		}
		h.log.WithError(err).Error("Endpoint registration failed")
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *AdminHandler) DeactivateEndpoint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.registry.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Endpoint not found")
			return
		}
		h.log.WithError(err).Error("Endpoint deactivation failed")
		writeError(w, http.StatusInternalServerError, "Deactivation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// InvalidateCache removes specific keys when given, or every cached result.
func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keys []string `json:"keys"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	if len(req.Keys) > 0 {
		if err := h.cache.Invalidate(r.Context(), req.Keys...); err != nil {
			h.log.WithError(err).Error("Cache invalidation failed")
			writeError(w, http.StatusInternalServerError, "Invalidation failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"invalidated": len(req.Keys)})
		return
	}

	removed, err := h.cache.Purge(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Cache purge failed")
		writeError(w, http.StatusInternalServerError, "Purge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invalidated": removed})
}

// EndpointStats returns aggregated usage for one endpoint. The window is
// controlled by a "hours" query parameter, defaulting to 24.
func (h *AdminHandler) EndpointStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			hours = parsed
		}
	}

	stats, err := h.recorder.Stats(r.Context(), id, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		h.log.WithError(err).Error("Usage aggregation failed")
		writeError(w, http.StatusInternalServerError, "Stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// EndpointInsights feeds usage stats to the text-generation service.
func (h *AdminHandler) EndpointInsights(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	stats, err := h.recorder.Stats(r.Context(), id, time.Now().Add(-24*time.Hour))
	if err != nil {
		h.log.WithError(err).Error("Usage aggregation failed")
		writeError(w, http.StatusInternalServerError, "Stats unavailable")
		return
	}

	text, err := h.analytics.GenerateInsights(r.Context(), stats)
	if err != nil {
		if errors.Is(err, analytics.ErrDisabled) {
			writeError(w, http.StatusServiceUnavailable, "Analytics service not configured")
			return
		}
		h.log.WithError(err).Error("Insight generation failed")
		writeError(w, http.StatusBadGateway, "Insight generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"insights": text})
}

// EndpointDocs feeds the endpoint definition to the text-generation service.
func (h *AdminHandler) EndpointDocs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	def, err := h.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Endpoint not found")
			return
		}
		h.log.WithError(err).Error("Endpoint lookup failed")
		writeError(w, http.StatusInternalServerError, "Lookup failed")
		return
	}

	text, err := h.analytics.GenerateDocumentation(r.Context(), def)
	if err != nil {
		if errors.Is(err, analytics.ErrDisabled) {
			writeError(w, http.StatusServiceUnavailable, "Analytics service not configured")
			return
		}
		h.log.WithError(err).Error("Documentation generation failed")
		writeError(w, http.StatusBadGateway, "Documentation generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"documentation": text})
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
