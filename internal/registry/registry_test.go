package registry

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

func setupRegistryTest(t *testing.T) (*Registry, sqlmock.Sqlmock) {
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

func endpointColumns() []string {
	return []string{"id", "name", "path", "method", "query_template", "description", "parameters", "auth_required", "rate_limit_per_minute", "is_active", "created_at", "updated_at"}
}

func validDefinition() *models.EndpointDefinition {
	return &models.EndpointDefinition{
		Name:               "list-users",
		Path:               "/api/v1/users",
		Method:             "get",
		QueryTemplate:      "SELECT id, name FROM users LIMIT {{limit}}",
		Parameters:         models.ParameterSchema{"limit": {Type: "int", Default: float64(100)}},
		RateLimitPerMinute: 100,
	}
}

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	reg, _ := setupRegistryTest(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*models.EndpointDefinition)
	}{
		{"empty name", func(d *models.EndpointDefinition) { d.Name = "" }},
		{"relative path", func(d *models.EndpointDefinition) { d.Path = "api/v1/users" }},
		{"bad method", func(d *models.EndpointDefinition) { d.Method = "FETCH" }},
		{"empty template", func(d *models.EndpointDefinition) { d.QueryTemplate = "  " }},
		{"negative limit", func(d *models.EndpointDefinition) { d.RateLimitPerMinute = -1 }},
		{"bad param type", func(d *models.EndpointDefinition) {
			d.Parameters = models.ParameterSchema{"x": {Type: "blob"}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := validDefinition()
			tc.mutate(def)

			_, err := reg.Register(ctx, def)

			var validation *ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}
}

func TestRegisterSupersedesActiveDefinition(t *testing.T) {
	reg, mock := setupRegistryTest(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "endpoint_definitions"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "endpoint_definitions"`).
		WillReturnRows(sqlmock.NewRows([]string{"auth_required", "rate_limit_per_minute", "is_active"}).
			AddRow(false, 100, true))
	mock.ExpectCommit()

	id, err := reg.Register(context.Background(), validDefinition())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterNormalizesMethod(t *testing.T) {
	reg, mock := setupRegistryTest(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "endpoint_definitions"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO "endpoint_definitions"`).
		WillReturnRows(sqlmock.NewRows([]string{"auth_required", "rate_limit_per_minute", "is_active"}).
			AddRow(false, 100, true))
	mock.ExpectCommit()

	def := validDefinition()
	def.Method = " post "
	_, err := reg.Register(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, "POST", def.Method)
}

func TestResolveActiveEndpoint(t *testing.T) {
	reg, mock := setupRegistryTest(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM "endpoint_definitions"`).
		WillReturnRows(sqlmock.NewRows(endpointColumns()).
			AddRow("ep-1", "list-users", "/api/v1/users", "GET", "SELECT 1", "", []byte(`{"limit":{"type":"int"}}`), false, 100, true, now, now))

	def, err := reg.Resolve(context.Background(), "/api/v1/users", "get")
	require.NoError(t, err)
	assert.Equal(t, "ep-1", def.ID)
	assert.Equal(t, "GET", def.Method)
	assert.Contains(t, def.Parameters, "limit")
}

func TestResolveUnknownEndpoint(t *testing.T) {
	reg, mock := setupRegistryTest(t)

	mock.ExpectQuery(`SELECT (.+) FROM "endpoint_definitions"`).
		WillReturnRows(sqlmock.NewRows(endpointColumns()))

	_, err := reg.Resolve(context.Background(), "/no/such/path", "GET")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeactivateUnknownEndpoint(t *testing.T) {
	reg, mock := setupRegistryTest(t)

	mock.ExpectExec(`UPDATE "endpoint_definitions"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := reg.Deactivate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
