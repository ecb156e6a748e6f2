package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/query-gateway/internal/accesslog"
	"github.com/sdko-org/query-gateway/internal/cache"
	"github.com/sdko-org/query-gateway/internal/executor"
	"github.com/sdko-org/query-gateway/internal/metrics"
	"github.com/sdko-org/query-gateway/internal/models"
	"github.com/sdko-org/query-gateway/internal/ratelimit"
	"github.com/sdko-org/query-gateway/internal/registry"
	"github.com/sdko-org/query-gateway/internal/tokens"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// The stores are consumed through narrow interfaces so tests can substitute
// in-memory implementations for any stage of the pipeline.

type EndpointResolver interface {
	Resolve(ctx context.Context, path, method string) (*models.EndpointDefinition, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, presented string) tokens.AuthResult
}

type RateLimiter interface {
	CheckAndConsume(ctx context.Context, clientID, endpointID string, limitPerMinute int) (ratelimit.Decision, error)
}

type ResultCache interface {
	Lookup(ctx context.Context, key string) (*cache.Entry, error)
	Store(ctx context.Context, key, endpointID string, payload json.RawMessage, execution, ttl time.Duration) error
	RecordHit(ctx context.Context, key string) error
}

type QueryRunner interface {
	Execute(ctx context.Context, def *models.EndpointDefinition, params map[string]interface{}) (*executor.ResultSet, error)
}

type AccessRecorder interface {
	Record(entry *models.AccessLog)
}

// Request is one inbound call, transport-agnostic.
type Request struct {
	Path       string
	Method     string
	Parameters map[string]interface{}
	AuthHeader string
	ClientIP   string
	UserAgent  string
}

// Response is the uniform result shape. Exactly one of Data and Error is
// set; Status mirrors the HTTP code the transport should emit.
type Response struct {
	Status int         `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`

	RateLimit *ratelimit.Decision `json:"-"`
}

// Options tune pipeline behavior.
type Options struct {
	CacheTTL time.Duration
	// SingleFlight collapses concurrent cache misses on the same key into
	// one backing execution. Off, concurrent misses all execute and the
	// last writer's cache store wins.
	SingleFlight bool
}

// Gateway runs the request pipeline: resolve, authenticate, rate limit,
// cache lookup, execute, cache store, audit.
type Gateway struct {
	resolver EndpointResolver
	auth     Authenticator
	limiter  RateLimiter
	cache    ResultCache
	runner   QueryRunner
	recorder AccessRecorder
	metrics  *metrics.Metrics
	log      *logrus.Entry
	opts     Options
	flight   singleflight.Group
}

func New(logger *logrus.Logger, resolver EndpointResolver, auth Authenticator, limiter RateLimiter, resultCache ResultCache, runner QueryRunner, recorder AccessRecorder, m *metrics.Metrics, opts Options) *Gateway {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	return &Gateway{
		resolver: resolver,
		auth:     auth,
		limiter:  limiter,
		cache:    resultCache,
		runner:   runner,
		recorder: recorder,
		metrics:  m,
		log:      logger.WithField("component", "gateway"),
		opts:     opts,
	}
}

// Handle runs one request through the pipeline. Every exit, success or
// failure, produces a structured Response and exactly one access log entry
// carrying the elapsed wall time; no error escapes.
func (g *Gateway) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	entry := &models.AccessLog{
		RequestID:  uuid.NewString(),
		Timestamp:  start,
		ClientIP:   req.ClientIP,
		UserAgent:  req.UserAgent,
		Method:     strings.ToUpper(req.Method),
		Path:       req.Path,
		Parameters: accesslog.EncodeParams(req.Parameters),
	}

	finish := func(resp Response, cacheHit bool) Response {
		entry.Status = resp.Status
		entry.CacheHit = cacheHit
		entry.ErrorMessage = resp.Error
		entry.Duration = time.Since(start)
		g.recorder.Record(entry)
		if g.metrics != nil {
			g.metrics.RequestsTotal.WithLabelValues(strconv.Itoa(resp.Status)).Inc()
			g.metrics.RequestDuration.Observe(time.Since(start).Seconds())
		}
		return resp
	}

	def, err := g.resolver.Resolve(ctx, req.Path, req.Method)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return finish(Response{Status: 404, Error: "Endpoint not found"}, false)
		}
		g.log.WithError(err).Error("Endpoint resolution failed")
		return finish(Response{Status: 500, Error: "Endpoint resolution failed"}, false)
	}
	entry.EndpointID = def.ID

	if def.AuthRequired {
		credential := bearerToken(req.AuthHeader)
		if credential == "" {
			return finish(Response{Status: 401, Error: tokens.ReasonMissing}, false)
		}
		result := g.auth.Authenticate(ctx, credential)
		if !result.Authenticated {
			return finish(Response{Status: 401, Error: result.Reason}, false)
		}
	}

	decision, err := g.limiter.CheckAndConsume(ctx, req.ClientIP, def.ID, def.RateLimitPerMinute)
	if err != nil {
		// Limiter store failure fails open rather than blocking traffic.
		g.log.WithError(err).Warn("Rate limit check failed, allowing request")
	} else if !decision.Allowed {
		if g.metrics != nil {
			g.metrics.RateLimited.Inc()
		}
		resp := Response{Status: 429, Error: "Rate limit exceeded", RateLimit: &decision}
		return finish(resp, false)
	}

	key := cache.Fingerprint(req.Path, req.Parameters)
	if cached, err := g.cache.Lookup(ctx, key); err == nil {
		if err := g.cache.RecordHit(ctx, key); err != nil {
			g.log.WithError(err).Warn("Failed to record cache hit")
		}
		if g.metrics != nil {
			g.metrics.CacheHits.Inc()
		}
		resp := Response{Status: 200, Data: cached.Payload, RateLimit: &decision}
		return finish(resp, true)
	} else if !errors.Is(err, cache.ErrMiss) {
		g.log.WithError(err).Warn("Cache lookup failed, treating as miss")
	}

	if g.metrics != nil {
		g.metrics.CacheMisses.Inc()
	}

	payload, execErr := g.execute(ctx, key, def, req.Parameters)
	if execErr != nil {
		return finish(Response{Status: 500, Error: execErr.Error(), RateLimit: &decision}, false)
	}

	resp := Response{Status: 200, Data: payload, RateLimit: &decision}
	return finish(resp, false)
}

// execute runs the backing query and populates the cache. The execution
// context is detached from the caller: a disconnecting client does not
// abort an execution whose result is still useful to future callers.
func (g *Gateway) execute(ctx context.Context, key string, def *models.EndpointDefinition, params map[string]interface{}) (json.RawMessage, error) {
	run := func() (interface{}, error) {
		execCtx := context.WithoutCancel(ctx)
		start := time.Now()
		rs, err := g.runner.Execute(execCtx, def, params)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(rs)
		if err != nil {
			return nil, &executor.ExecutionError{Kind: executor.KindBackend, Detail: "failed to encode result", Err: err}
		}

		if err := g.cache.Store(execCtx, key, def.ID, payload, time.Since(start), g.opts.CacheTTL); err != nil {
			g.log.WithError(err).Warn("Failed to cache query result")
		}
		return json.RawMessage(payload), nil
	}

	if !g.opts.SingleFlight {
		result, err := run()
		if err != nil {
			return nil, err
		}
		return result.(json.RawMessage), nil
	}

	result, err, _ := g.flight.Do(key, run)
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") || strings.HasPrefix(header, "bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return header
}
