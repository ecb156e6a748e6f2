package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/query-gateway/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrorKind tags an ExecutionError by its cause.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindTimeout    ErrorKind = "timeout"
	KindBackend    ErrorKind = "backend"
)

// ExecutionError is the tagged failure result of a query execution. Backend
// detail is carried verbatim; there are no partial results.
type ExecutionError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query execution failed (%s): %s", e.Kind, e.Detail)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ResultSet is an ordered sequence of records from one execution.
type ResultSet struct {
	Columns     []string                 `json:"columns"`
	Rows        []map[string]interface{} `json:"rows"`
	RowCount    int                      `json:"row_count"`
	ExecutionMs int64                    `json:"execution_ms"`
}

type Config struct {
	Timeout    time.Duration
	MaxRetries int
	MaxLimit   int
}

// Executor validates parameters against an endpoint's schema, binds them
// into the query template and runs the result against the backing store.
type Executor struct {
	db      *gorm.DB
	log     *logrus.Entry
	timeout time.Duration
	retries int
	maxRows int
	backoff time.Duration
}

func New(logger *logrus.Logger, db *gorm.DB, cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 1000
	}
	return &Executor{
		db:      db,
		log:     logger.WithField("component", "query_executor"),
		timeout: cfg.Timeout,
		retries: cfg.MaxRetries,
		maxRows: cfg.MaxLimit,
		backoff: 200 * time.Millisecond,
	}
}

// Execute runs the endpoint's query template with the supplied parameters.
// Failures come back as *ExecutionError: validation problems before any
// backend call, timeouts when the bounded deadline is hit, and backend
// errors otherwise. Transient backend errors are retried with exponential
// backoff; validation errors and timeouts are not.
func (e *Executor) Execute(ctx context.Context, def *models.EndpointDefinition, params map[string]interface{}) (*ResultSet, error) {
	validated, err := validateParams(def.Parameters, params)
	if err != nil {
		return nil, err
	}

	// Cap the page size a declared limit parameter can request.
	if limit, ok := validated["limit"].(int64); ok && limit > int64(e.maxRows) {
		validated["limit"] = int64(e.maxRows)
	}

	query, args, err := bindTemplate(def.QueryTemplate, validated)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	log := e.log.WithFields(logrus.Fields{
		"endpoint_id": def.ID,
		"endpoint":    def.Name,
	})

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			wait := e.backoff * (1 << (attempt - 1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, e.classify(ctx, lastErr)
			}
			log.WithField("attempt", attempt+1).Warn("Retrying query execution")
		}

		rs, err := e.runQuery(ctx, query, args)
		if err == nil {
			rs.ExecutionMs = time.Since(start).Milliseconds()
			log.WithFields(logrus.Fields{
				"rows":     rs.RowCount,
				"duration": time.Since(start),
			}).Debug("Query executed")
			return rs, nil
		}

		lastErr = err
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			break
		}
	}

	execErr := e.classify(ctx, lastErr)
	log.WithError(lastErr).Error("Query execution failed")
	return nil, execErr
}

func (e *Executor) runQuery(ctx context.Context, query string, args []interface{}) (*ResultSet, error) {
	rows, err := e.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &ResultSet{Columns: columns, Rows: []map[string]interface{}{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if raw, ok := values[i].([]byte); ok {
				record[col] = string(raw)
			} else {
				record[col] = values[i]
			}
		}
		rs.Rows = append(rs.Rows, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rs.RowCount = len(rs.Rows)
	return rs, nil
}

func (e *Executor) classify(ctx context.Context, err error) *ExecutionError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &ExecutionError{Kind: KindTimeout, Detail: "query timed out", Err: err}
	}
	detail := "query failed"
	if err != nil {
		detail = err.Error()
	}
	return &ExecutionError{Kind: KindBackend, Detail: detail, Err: err}
}
