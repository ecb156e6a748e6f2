package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ParameterSpec declares one accepted query parameter.
type ParameterSpec struct {
	Type     string      `json:"type"`
	Required bool        `json:"required"`
	Default  interface{} `json:"default,omitempty"`
}

// ParameterSchema maps parameter names to their specs. Stored as jsonb.
type ParameterSchema map[string]ParameterSpec

func (s ParameterSchema) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *ParameterSchema) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported type %T for parameter schema", value)
	}
}

type EndpointDefinition struct {
	ID                 string          `gorm:"primaryKey;type:varchar(36)"`
	Name               string          `gorm:"type:varchar(255);not null"`
	Path               string          `gorm:"type:varchar(512);not null;index:idx_endpoint_route"`
	Method             string          `gorm:"type:varchar(10);not null;index:idx_endpoint_route"`
	QueryTemplate      string          `gorm:"type:text;not null"`
	Description        string          `gorm:"type:text"`
	Parameters         ParameterSchema `gorm:"type:jsonb"`
	AuthRequired       bool            `gorm:"not null;default:false"`
	RateLimitPerMinute int             `gorm:"not null;default:60"`
	IsActive           bool            `gorm:"not null;default:true;index"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Token struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	TokenHash   string `gorm:"type:varchar(64);not null;uniqueIndex"`
	TokenPrefix string `gorm:"type:varchar(16)"`
	UserID      string `gorm:"type:varchar(64);not null;index"`
	Scopes      string `gorm:"type:text"`
	ExpiresAt   *time.Time
	IsActive    bool `gorm:"not null;default:true"`
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

type RateLimitWindow struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	ClientID     string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_rate_limit_window"`
	EndpointID   string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_rate_limit_window"`
	RequestCount int       `gorm:"not null;default:0"`
	WindowStart  time.Time `gorm:"not null;uniqueIndex:idx_rate_limit_window"`
	WindowEnd    time.Time `gorm:"not null;index"`
	Blocked      bool      `gorm:"not null;default:false"`
}

type AccessLog struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	RequestID    string    `gorm:"type:varchar(36);not null"`
	EndpointID   string    `gorm:"type:varchar(36);index"`
	Timestamp    time.Time `gorm:"index;not null"`
	ClientIP     string    `gorm:"type:varchar(45);not null"`
	UserAgent    string    `gorm:"type:text"`
	Method       string    `gorm:"type:varchar(10);not null"`
	Path         string    `gorm:"type:text;not null;index:,length:256"`
	Parameters   string    `gorm:"type:text"`
	Status       int       `gorm:"not null;index"`
	Duration     time.Duration
	CacheHit     bool   `gorm:"not null;default:false"`
	ErrorMessage string `gorm:"type:text"`
}

func (EndpointDefinition) TableName() string {
	return "endpoint_definitions"
}

func (Token) TableName() string {
	return "api_tokens"
}

func (RateLimitWindow) TableName() string {
	return "rate_limit_windows"
}

func (AccessLog) TableName() string {
	return "access_logs"
}
