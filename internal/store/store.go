// Package store persists upload records, per-order results and the Cin7
// API call log. The schema is owned externally; schema.sql documents the
// tables these queries expect.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Upload statuses.
const (
	UploadProcessing = "processing"
	UploadCompleted  = "completed"
	UploadFailed     = "failed"
)

// Result statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

// Upload is one submitted file.
type Upload struct {
	ID               uuid.UUID     `json:"id"`
	Filename         string        `json:"filename"`
	TotalRows        int           `json:"total_rows"`
	SuccessfulOrders int           `json:"successful_orders"`
	FailedOrders     int           `json:"failed_orders"`
	Status           string        `json:"status"`
	ErrorLog         []UploadError `json:"error_log,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// UploadError is one entry of an upload's error log.
type UploadError struct {
	OrderKey string `json:"order_key"`
	Row      int    `json:"row"`
	Error    string `json:"error"`
}

// Result is the persisted outcome of one logical order. Retries update the
// same record.
type Result struct {
	ID           uuid.UUID       `json:"id"`
	UploadID     uuid.UUID       `json:"upload_id"`
	OrderKey     string          `json:"order_key"`
	RowNumbers   []int           `json:"row_numbers"`
	Status       string          `json:"status"`
	SaleID       string          `json:"sale_id,omitempty"`
	SaleOrderID  string          `json:"sale_order_id,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorType    string          `json:"error_type,omitempty"`
	OrderData    json.RawMessage `json:"order_data,omitempty"`
	RetryCount   int             `json:"retry_count"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	LastRetryAt  *time.Time      `json:"last_retry_at,omitempty"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
}

// APILogEntry is one row of cin7_api_log.
type APILogEntry struct {
	ID             uuid.UUID
	UploadID       uuid.UUID
	Trigger        string
	Endpoint       string
	Method         string
	RequestURL     string
	RequestHeaders map[string]string
	RequestBody    json.RawMessage
	ResponseStatus int
	ResponseBody   json.RawMessage
	ErrorMessage   string
	DurationMS     int64
}

// Store is the persistence surface shared by the Postgres and in-memory
// implementations.
type Store interface {
	CreateUpload(ctx context.Context, u *Upload) error
	CompleteUpload(ctx context.Context, id uuid.UUID, successful, failed int, errs []UploadError) error
	GetUpload(ctx context.Context, id uuid.UUID) (Upload, error)

	CreateResult(ctx context.Context, r *Result) error
	UpdateResult(ctx context.Context, r Result) error
	GetResult(ctx context.Context, id uuid.UUID) (Result, error)
	ListResultsByStatus(ctx context.Context, uploadID uuid.UUID, status string) ([]Result, error)

	InsertAPILog(ctx context.Context, e APILogEntry) error
}
