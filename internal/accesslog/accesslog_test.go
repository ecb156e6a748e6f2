package accesslog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sdko-org/query-gateway/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupRecorderTest(t *testing.T) (*Recorder, sqlmock.Sqlmock) {
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

	return New(logger, db), mock
}

func TestEncodeParams(t *testing.T) {
	assert.Equal(t, "{}", EncodeParams(nil))
	assert.Equal(t, "{}", EncodeParams(map[string]interface{}{}))

	// Map keys serialize sorted, so equal sets encode identically.
	a := EncodeParams(map[string]interface{}{"b": 2, "a": 1})
	b := EncodeParams(map[string]interface{}{"a": 1, "b": 2})
	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":1,"b":2}`, a)
}

func TestWriteInsertsEntry(t *testing.T) {
	r, mock := setupRecorderTest(t)

	mock.ExpectQuery(`INSERT INTO "access_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err := r.Write(context.Background(), &models.AccessLog{
		RequestID: "req-1",
		Timestamp: time.Now(),
		Method:    "GET",
		Path:      "/api/v1/users",
		Status:    200,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteInsertFailure(t *testing.T) {
	r, mock := setupRecorderTest(t)

	mock.ExpectQuery(`INSERT INTO "access_logs"`).
		WillReturnError(assert.AnError)

	err := r.Write(context.Background(), &models.AccessLog{RequestID: "req-1"})
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	r, mock := setupRecorderTest(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "access_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(200))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "access_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(150))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "access_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectQuery(`SELECT AVG\(duration\) FROM "access_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(float64(25 * time.Millisecond)))
	mock.ExpectQuery(`SELECT date_trunc`).
		WillReturnRows(sqlmock.NewRows([]string{"hour", "requests"}).
			AddRow(since, 120).
			AddRow(since.Add(time.Hour), 80))

	stats, err := r.Stats(context.Background(), "ep-1", since)
	require.NoError(t, err)

	assert.Equal(t, int64(200), stats.TotalRequests)
	assert.Equal(t, int64(150), stats.CacheHits)
	assert.Equal(t, int64(10), stats.ErrorCount)
	assert.InDelta(t, 0.75, stats.CacheHitRate, 1e-9)
	assert.InDelta(t, 0.05, stats.ErrorRate, 1e-9)
	assert.InDelta(t, 25.0, stats.AvgDurationMs, 1e-9)
	require.Len(t, stats.Hourly, 2)
	assert.Equal(t, int64(120), stats.Hourly[0].Requests)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsEmptyWindow(t *testing.T) {
	r, mock := setupRecorderTest(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "access_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "access_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "access_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT AVG\(duration\) FROM "access_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(nil))
	mock.ExpectQuery(`SELECT date_trunc`).
		WillReturnRows(sqlmock.NewRows([]string{"hour", "requests"}))

	stats, err := r.Stats(context.Background(), "ep-1", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)

	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.CacheHitRate)
	assert.Zero(t, stats.AvgDurationMs)
	assert.Empty(t, stats.Hourly)
}
