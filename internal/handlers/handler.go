package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sdko-org/query-gateway/internal/gateway"
	"github.com/sirupsen/logrus"
)

type pipeline interface {
	Handle(ctx context.Context, req gateway.Request) gateway.Response
}

// GatewayHandler adapts HTTP requests onto the gateway pipeline. It is the
// catch-all route: any path may have been registered as an endpoint.
type GatewayHandler struct {
	gw  pipeline
	log *logrus.Entry
}

func NewGatewayHandler(logger *logrus.Logger, gw pipeline) *GatewayHandler {
	return &GatewayHandler{
		gw:  gw,
		log: logger.WithField("component", "gateway_handler"),
	}
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := parseParameters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp := h.gw.Handle(r.Context(), gateway.Request{
		Path:       r.URL.Path,
		Method:     r.Method,
		Parameters: params,
		AuthHeader: r.Header.Get("Authorization"),
		ClientIP:   getClientIP(r),
		UserAgent:  r.UserAgent(),
	})

	if resp.RateLimit != nil {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(resp.RateLimit.Limit))
		remaining := resp.RateLimit.Limit - resp.RateLimit.CurrentCount
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resp.RateLimit.WindowEnd.Unix(), 10))
	}

	writeJSON(w, resp.Status, resp)
}

// parseParameters merges query string values with a JSON object body.
// Query values stay strings; the executor coerces them against the
// endpoint's schema. Body values win on name collisions.
func parseParameters(r *http.Request) (map[string]interface{}, error) {
	params := make(map[string]interface{})

	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			params[name] = values[0]
		}
	}

	if r.Body != nil && r.Method != http.MethodGet {
		var body map[string]interface{}
		decoder := json.NewDecoder(r.Body)
		if err := decoder.Decode(&body); err == nil {
			for name, value := range body {
				params[name] = value
			}
		} else if !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	return params, nil
}
