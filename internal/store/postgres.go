package store

// postgres.go implements Store on pgx. Nullable columns go through the
// pgtype helpers in convert.go; JSON columns are marshalled here so the
// driver only ever sees []byte.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Postgres is a Store backed by a pool or transaction.
type Postgres struct {
	db DBTX
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Postgres store.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

const createUpload = `
INSERT INTO sales_order_upload (id, filename, total_rows, successful_orders, failed_orders, status, created_at)
VALUES ($1, $2, $3, 0, 0, $4, $5)`

// CreateUpload inserts u, assigning an ID and creation time when unset.
func (p *Postgres) CreateUpload(ctx context.Context, u *Upload) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Status == "" {
		u.Status = UploadProcessing
	}
	_, err := p.db.Exec(ctx, createUpload, u.ID, u.Filename, u.TotalRows, u.Status, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	return nil
}

const completeUpload = `
UPDATE sales_order_upload
SET successful_orders = $2, failed_orders = $3, status = $4, error_log = $5, completed_at = $6
WHERE id = $1`

// CompleteUpload records the final counts and error log of an upload.
func (p *Postgres) CompleteUpload(ctx context.Context, id uuid.UUID, successful, failed int, errs []UploadError) error {
	log, err := marshalJSON(errs)
	if err != nil {
		return fmt.Errorf("complete upload: %w", err)
	}
	tag, err := p.db.Exec(ctx, completeUpload, id, successful, failed, UploadCompleted, log, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const getUpload = `
SELECT id, filename, total_rows, successful_orders, failed_orders, status, error_log, created_at, completed_at
FROM sales_order_upload
WHERE id = $1`

// GetUpload returns an upload by ID.
func (p *Postgres) GetUpload(ctx context.Context, id uuid.UUID) (Upload, error) {
	var (
		u         Upload
		log       []byte
		completed pgtype.Timestamptz
	)
	err := p.db.QueryRow(ctx, getUpload, id).Scan(
		&u.ID, &u.Filename, &u.TotalRows, &u.SuccessfulOrders, &u.FailedOrders,
		&u.Status, &log, &u.CreatedAt, &completed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Upload{}, ErrNotFound
	}
	if err != nil {
		return Upload{}, fmt.Errorf("get upload: %w", err)
	}
	if len(log) > 0 {
		if err := json.Unmarshal(log, &u.ErrorLog); err != nil {
			return Upload{}, fmt.Errorf("decode error log: %w", err)
		}
	}
	u.CompletedAt = FromPgTimestamptz(completed)
	return u, nil
}

const createResult = `
INSERT INTO sales_order_result (
    id, upload_id, order_key, row_numbers, status, sale_id, sale_order_id,
    error_message, error_type, order_data, retry_count, created_at, processed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// CreateResult inserts r, assigning an ID and creation time when unset.
func (p *Postgres) CreateResult(ctx context.Context, r *Result) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	rows, err := marshalJSON(r.RowNumbers)
	if err != nil {
		return fmt.Errorf("create result: %w", err)
	}
	_, err = p.db.Exec(ctx, createResult,
		r.ID, r.UploadID, r.OrderKey, rows, r.Status,
		ToPgText(r.SaleID), ToPgText(r.SaleOrderID),
		ToPgText(r.ErrorMessage), ToPgText(r.ErrorType), rawJSON(r.OrderData),
		r.RetryCount, r.CreatedAt, ToPgTimestamptz(r.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("create result: %w", err)
	}
	return nil
}

const updateResult = `
UPDATE sales_order_result
SET status = $2, sale_id = $3, sale_order_id = $4, error_message = $5, error_type = $6,
    order_data = $7, retry_count = $8, processed_at = $9, last_retry_at = $10, resolved_at = $11
WHERE id = $1`

// UpdateResult overwrites the mutable fields of the result with r.ID.
func (p *Postgres) UpdateResult(ctx context.Context, r Result) error {
	tag, err := p.db.Exec(ctx, updateResult,
		r.ID, r.Status, ToPgText(r.SaleID), ToPgText(r.SaleOrderID),
		ToPgText(r.ErrorMessage), ToPgText(r.ErrorType), rawJSON(r.OrderData),
		r.RetryCount, ToPgTimestamptz(r.ProcessedAt), ToPgTimestamptz(r.LastRetryAt),
		ToPgTimestamptz(r.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("update result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const resultColumns = `
SELECT id, upload_id, order_key, row_numbers, status, sale_id, sale_order_id,
       error_message, error_type, order_data, retry_count, created_at,
       processed_at, last_retry_at, resolved_at
FROM sales_order_result`

// GetResult returns a result by ID.
func (p *Postgres) GetResult(ctx context.Context, id uuid.UUID) (Result, error) {
	r, err := scanResult(p.db.QueryRow(ctx, resultColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("get result: %w", err)
	}
	return r, nil
}

// ListResultsByStatus returns an upload's results, oldest first. An empty
// status returns every result.
func (p *Postgres) ListResultsByStatus(ctx context.Context, uploadID uuid.UUID, status string) ([]Result, error) {
	rows, err := p.db.Query(ctx,
		resultColumns+` WHERE upload_id = $1 AND ($2 = '' OR status = $2) ORDER BY created_at, order_key`,
		uploadID, status,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

const insertAPILog = `
INSERT INTO cin7_api_log (
    id, upload_id, trigger, endpoint, method, request_url, request_headers,
    request_body, response_status, response_body, error_message, duration_ms, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// InsertAPILog writes one API call record.
func (p *Postgres) InsertAPILog(ctx context.Context, e APILogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	headers, err := marshalJSON(e.RequestHeaders)
	if err != nil {
		return fmt.Errorf("insert api log: %w", err)
	}
	_, err = p.db.Exec(ctx, insertAPILog,
		e.ID, ToPgUUID(e.UploadID), ToPgText(e.Trigger), e.Endpoint, e.Method, e.RequestURL,
		headers, rawJSON(e.RequestBody), ToPgInt4(e.ResponseStatus), rawJSON(e.ResponseBody),
		ToPgText(e.ErrorMessage), e.DurationMS, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert api log: %w", err)
	}
	return nil
}

func scanResult(row pgx.Row) (Result, error) {
	var (
		r                                  Result
		rowNumbers, orderData              []byte
		saleID, saleOrderID, errMsg, errTy pgtype.Text
		processed, lastRetry, resolved     pgtype.Timestamptz
	)
	err := row.Scan(
		&r.ID, &r.UploadID, &r.OrderKey, &rowNumbers, &r.Status, &saleID, &saleOrderID,
		&errMsg, &errTy, &orderData, &r.RetryCount, &r.CreatedAt,
		&processed, &lastRetry, &resolved,
	)
	if err != nil {
		return Result{}, err
	}
	if len(rowNumbers) > 0 {
		if err := json.Unmarshal(rowNumbers, &r.RowNumbers); err != nil {
			return Result{}, fmt.Errorf("decode row numbers: %w", err)
		}
	}
	r.SaleID = saleID.String
	r.SaleOrderID = saleOrderID.String
	r.ErrorMessage = errMsg.String
	r.ErrorType = errTy.String
	if len(orderData) > 0 {
		r.OrderData = json.RawMessage(orderData)
	}
	r.ProcessedAt = FromPgTimestamptz(processed)
	r.LastRetryAt = FromPgTimestamptz(lastRetry)
	r.ResolvedAt = FromPgTimestamptz(resolved)
	return r, nil
}

// marshalJSON encodes v for a JSON column; nil values stay NULL.
func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func rawJSON(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
