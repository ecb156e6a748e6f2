package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sdko-org/query-gateway/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no active definition matches a path and method.
var ErrNotFound = errors.New("endpoint not found")

// ValidationError rejects a malformed endpoint definition at registration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid endpoint definition: %s %s", e.Field, e.Reason)
}

// Registry stores endpoint definitions keyed by (path, method).
type Registry struct {
	db  *gorm.DB
	log *logrus.Entry
}

func New(logger *logrus.Logger, db *gorm.DB) *Registry {
	return &Registry{
		db:  db,
		log: logger.WithField("component", "endpoint_registry"),
	}
}

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
}

// Register stores a new definition and returns its id. An existing active
// definition for the same (path, method) is superseded: it is deactivated in
// the same transaction, so Resolve only ever sees one active definition per
// route.
func (r *Registry) Register(ctx context.Context, def *models.EndpointDefinition) (string, error) {
	if def.Name == "" {
		return "", &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !strings.HasPrefix(def.Path, "/") {
		return "", &ValidationError{Field: "path", Reason: "must start with /"}
	}
	def.Method = strings.ToUpper(strings.TrimSpace(def.Method))
	if !allowedMethods[def.Method] {
		return "", &ValidationError{Field: "method", Reason: "must be one of GET, POST, PUT, DELETE"}
	}
	if strings.TrimSpace(def.QueryTemplate) == "" {
		return "", &ValidationError{Field: "query_template", Reason: "must not be empty"}
	}
	if def.RateLimitPerMinute < 0 {
		return "", &ValidationError{Field: "rate_limit_per_minute", Reason: "must not be negative"}
	}
	for name, spec := range def.Parameters {
		switch spec.Type {
		case "string", "int", "integer", "float", "number", "bool", "boolean":
		default:
			return "", &ValidationError{Field: "parameters." + name, Reason: "unknown type " + spec.Type}
		}
	}

	def.ID = uuid.NewString()
	def.IsActive = true

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.EndpointDefinition{}).
			Where("path = ? AND method = ? AND is_active", def.Path, def.Method).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(def).Error
	})
	if err != nil {
		r.log.WithError(err).Error("Endpoint registration failed")
		return "", fmt.Errorf("endpoint registration failed: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"endpoint_id": def.ID,
		"path":        def.Path,
		"method":      def.Method,
	}).Info("Registered endpoint")
	return def.ID, nil
}

// Resolve returns the active definition for an exact (path, method) match.
// Paths are compared as literal strings; template segments such as {id} are
// not expanded, routing with path parameters belongs to an outer layer.
func (r *Registry) Resolve(ctx context.Context, path, method string) (*models.EndpointDefinition, error) {
	var def models.EndpointDefinition
	err := r.db.WithContext(ctx).
		Where("path = ? AND method = ? AND is_active", path, strings.ToUpper(method)).
		First(&def).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("endpoint resolution failed: %w", err)
	}
	return &def, nil
}

// Deactivate retires a definition without deleting it.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.EndpointDefinition{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("endpoint deactivation failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a definition by id regardless of active state.
func (r *Registry) Get(ctx context.Context, id string) (*models.EndpointDefinition, error) {
	var def models.EndpointDefinition
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&def).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("endpoint lookup failed: %w", err)
	}
	return &def, nil
}
