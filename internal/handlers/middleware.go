package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytesSent  int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesSent += n
	return n, err
}

// LoggingMiddleware emits one structured line per request. Durable audit
// entries are written by the gateway itself; this is operator telemetry.
func LoggingMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	logEntry := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(lrw, r)

			logEntry.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     lrw.statusCode,
				"duration":   time.Since(start),
				"client_ip":  getClientIP(r),
				"bytes":      lrw.bytesSent,
				"user_agent": r.UserAgent(),
			}).Info("Request processed")
		})
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// GlobalRateLimiter throttles each client IP across the whole listener,
// in front of the per-endpoint windows inside the pipeline.
type GlobalRateLimiter struct {
	limit   int
	window  time.Duration
	clients map[string]*clientLimiter
	mu      sync.Mutex
}

func NewGlobalRateLimiter(limit int, window time.Duration) *GlobalRateLimiter {
	return &GlobalRateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientLimiter),
	}
}

func (g *GlobalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)

		g.mu.Lock()
		client, exists := g.clients[clientIP]
		if !exists {
			client = &clientLimiter{
				limiter: rate.NewLimiter(
					rate.Limit(float64(g.limit)/g.window.Seconds()),
					g.limit,
				),
			}
			g.clients[clientIP] = client
		}
		client.lastSeen = time.Now()
		g.mu.Unlock()

		if !client.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StartCleanup reaps idle client buckets until ctx is done.
func (g *GlobalRateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.mu.Lock()
				for ip, client := range g.clients {
					if time.Since(client.lastSeen) > 3*time.Minute {
						delete(g.clients, ip)
					}
				}
				g.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func getClientIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		var err error
		ip, _, err = net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
	}
	if strings.Contains(ip, ",") {
		parts := strings.Split(ip, ",")
		ip = strings.TrimSpace(parts[0])
	}
	return ip
}
