package submit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/cin7sync/internal/cin7"
	"github.com/JonMunkholm/cin7sync/internal/csvparse"
	"github.com/JonMunkholm/cin7sync/internal/store"
)

// Error types recorded on failed orders.
const (
	ErrorCustomerNotFound = "customer_not_found"
	ErrorMissingFields    = "missing_fields"
	ErrorAPI              = "api_error"
	ErrorValidation       = "validation_error"
)

// Batch preconditions. Each aborts the whole run before any order is
// processed.
var (
	ErrNoCredentials = errors.New("Cin7 credentials not configured")
	ErrEmptyMapping  = errors.New("column mapping not set")
	ErrNoValidRows   = errors.New("no valid rows to process")
)

var (
	// ErrNoStore is returned by Retry when results are not persisted.
	ErrNoStore = errors.New("no result store configured")

	// ErrAlreadySucceeded is returned by Retry for a successful result.
	ErrAlreadySucceeded = errors.New("order already succeeded")
)

// previewLimit caps the per-outcome previews in a Summary.
const previewLimit = 10

// OrderResult is the outcome of one logical order.
type OrderResult struct {
	ID           uuid.UUID  `json:"id"`
	UploadID     uuid.UUID  `json:"upload_id"`
	OrderKey     string     `json:"order_key"`
	RowNumbers   []int      `json:"row_numbers"`
	Status       string     `json:"status"`
	SaleID       string     `json:"sale_id,omitempty"`
	SaleOrderID  string     `json:"sale_order_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorType    string     `json:"error_type,omitempty"`
	RetryCount   int        `json:"retry_count"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`

	SalePayload      *cin7.SalePayload      `json:"sale_payload,omitempty"`
	SaleOrderPayload *cin7.SaleOrderPayload `json:"sale_order_payload,omitempty"`
	WhatIsNeeded     map[string]any         `json:"what_is_needed,omitempty"`
}

// RowNumber is the order's first source row.
func (r *OrderResult) RowNumber() int {
	if len(r.RowNumbers) == 0 {
		return 0
	}
	return r.RowNumbers[0]
}

func (r *OrderResult) fail(errType, format string, args ...any) {
	r.Status = store.StatusFailed
	r.ErrorType = errType
	r.ErrorMessage = fmt.Sprintf(format, args...)
}

// Preview is the short form of an order in a Summary.
type Preview struct {
	OrderKey    string `json:"order_key"`
	RowNumber   int    `json:"row_number"`
	SaleID      string `json:"sale_id,omitempty"`
	SaleOrderID string `json:"sale_order_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Summary counts a run. Previews hold at most ten orders each.
type Summary struct {
	UploadID       uuid.UUID           `json:"upload_id"`
	Successful     int                 `json:"successful"`
	Failed         int                 `json:"failed"`
	SuccessPreview []Preview           `json:"successful_rows"`
	FailedPreview  []Preview           `json:"failed_rows"`
	Errors         []store.UploadError `json:"-"`
}

func (s *Summary) add(r *OrderResult) {
	p := Preview{
		OrderKey:    r.OrderKey,
		RowNumber:   r.RowNumber(),
		SaleID:      r.SaleID,
		SaleOrderID: r.SaleOrderID,
	}
	if r.Status == store.StatusSuccess {
		s.Successful++
		if len(s.SuccessPreview) < previewLimit {
			s.SuccessPreview = append(s.SuccessPreview, p)
		}
		return
	}

	s.Failed++
	p.Error = r.ErrorMessage
	if len(s.FailedPreview) < previewLimit {
		s.FailedPreview = append(s.FailedPreview, p)
	}
	s.Errors = append(s.Errors, store.UploadError{OrderKey: r.OrderKey, Row: r.RowNumber(), Error: r.ErrorMessage})
}

// orderData is the JSON persisted in a result's order_data column. It keeps
// the source rows and mapping so a retry can rebuild the order.
type orderData struct {
	Rows             []csvparse.ParsedRow   `json:"rows"`
	Mapping          csvparse.Mapping       `json:"mapping"`
	SalePayload      *cin7.SalePayload      `json:"sale_payload,omitempty"`
	SaleOrderPayload *cin7.SaleOrderPayload `json:"sale_order_payload,omitempty"`
	WhatIsNeeded     map[string]any         `json:"what_is_needed,omitempty"`
}

func decodeOrderData(raw json.RawMessage) (orderData, error) {
	var d orderData
	if len(raw) == 0 {
		return d, errors.New("result has no stored order data")
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("decode order data: %w", err)
	}
	if len(d.Rows) == 0 {
		return d, errors.New("result has no stored rows")
	}
	return d, nil
}
