package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/sdko-org/query-gateway/internal/accesslog"
	"github.com/sdko-org/query-gateway/internal/analytics"
	"github.com/sdko-org/query-gateway/internal/registry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeCacheAdmin struct {
	invalidated []string
	purged      int64
}

func (f *fakeCacheAdmin) Invalidate(_ context.Context, keys ...string) error {
	f.invalidated = append(f.invalidated, keys...)
	return nil
}

func (f *fakeCacheAdmin) Purge(_ context.Context) (int64, error) {
	return f.purged, nil
}

type fakeStatsSource struct {
	stats *accesslog.UsageStats
}

func (f *fakeStatsSource) Stats(_ context.Context, endpointID string, since time.Time) (*accesslog.UsageStats, error) {
	s := *f.stats
	s.EndpointID = endpointID
	s.Since = since
	return &s, nil
}

func setupAdminTest(t *testing.T) (*AdminHandler, sqlmock.Sqlmock, *fakeCacheAdmin) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn, PreferSimpleProtocol: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cache := &fakeCacheAdmin{purged: 12}
	stats := &fakeStatsSource{stats: &accesslog.UsageStats{TotalRequests: 10, CacheHits: 4, CacheHitRate: 0.4}}
	h := NewAdminHandler(logger, registry.New(logger, db), cache, stats, analytics.NewClient(logger, "", ""))
	return h, mock, cache
}

func TestRegisterEndpointCreated(t *testing.T) {
	h, mock, _ := setupAdminTest(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "endpoint_definitions"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO "endpoint_definitions"`).
		WillReturnRows(sqlmock.NewRows([]string{"auth_required", "rate_limit_per_minute", "is_active"}).
			AddRow(false, 100, true))
	mock.ExpectCommit()

	body := `{
		"name": "list-users",
		"path": "/api/v1/users",
		"method": "GET",
		"query_template": "SELECT id FROM users LIMIT {{limit}}",
		"parameters": {"limit": {"type": "int", "default": 100}},
		"rate_limit_per_minute": 100
	}`
	req := httptest.NewRequest(http.MethodPost, "/admin/endpoints", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.RegisterEndpoint(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.NotEmpty(t, decoded["id"])
}

func TestRegisterEndpointValidationError(t *testing.T) {
	h, _, _ := setupAdminTest(t)

	body := `{"name": "bad", "path": "no-slash", "method": "GET", "query_template": "SELECT 1"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/endpoints", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.RegisterEndpoint(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "path")
}

func TestRegisterEndpointMalformedBody(t *testing.T) {
	h, _, _ := setupAdminTest(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/endpoints", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()

	h.RegisterEndpoint(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidateCacheSpecificKeys(t *testing.T) {
	h, _, cache := setupAdminTest(t)

	body := `{"keys": ["k1", "k2"]}`
	req := httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.InvalidateCache(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"k1", "k2"}, cache.invalidated)
	assert.Contains(t, rec.Body.String(), `"invalidated":2`)
}

func TestInvalidateCachePurgesWithoutKeys(t *testing.T) {
	h, _, cache := setupAdminTest(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.InvalidateCache(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, cache.invalidated)
	assert.Contains(t, rec.Body.String(), `"invalidated":12`)
}

func TestEndpointStatsDefaultWindow(t *testing.T) {
	h, _, _ := setupAdminTest(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/endpoints/ep-1/stats", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "ep-1"})
	rec := httptest.NewRecorder()

	h.EndpointStats(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var stats accesslog.UsageStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "ep-1", stats.EndpointID)
	assert.Equal(t, int64(10), stats.TotalRequests)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), stats.Since, time.Minute)
}

func TestEndpointInsightsWithoutAnalytics(t *testing.T) {
	h, _, _ := setupAdminTest(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/endpoints/ep-1/insights", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "ep-1"})
	rec := httptest.NewRecorder()

	h.EndpointInsights(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
