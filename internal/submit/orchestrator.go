// Package submit drives the two-step Cin7 submission for grouped orders:
// a Sale header first, then a Sale Order referencing it, with a fixed delay
// after every order-level API outcome.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/cin7sync/internal/builder"
	"github.com/JonMunkholm/cin7sync/internal/cin7"
	"github.com/JonMunkholm/cin7sync/internal/config"
	"github.com/JonMunkholm/cin7sync/internal/csvparse"
	"github.com/JonMunkholm/cin7sync/internal/store"
	"github.com/JonMunkholm/cin7sync/internal/validate"
)

// API is the part of the Cin7 client the orchestrator calls.
type API interface {
	CreateSale(ctx context.Context, sale cin7.SalePayload) cin7.Response
	CreateSaleOrder(ctx context.Context, order cin7.SaleOrderPayload) cin7.Response
}

// ResultStore persists per-order results.
type ResultStore interface {
	CreateResult(ctx context.Context, r *store.Result) error
	UpdateResult(ctx context.Context, r store.Result) error
	GetResult(ctx context.Context, id uuid.UUID) (store.Result, error)
}

// Recorder receives order outcomes. Satisfied by *metrics.Registry.
type Recorder interface {
	OrderProcessed(status, errorType string)
	OrderRetried(status string)
}

// ProgressFunc is called after each order with the count done so far.
type ProgressFunc func(done, total int, r *OrderResult)

// Orchestrator submits orders for one job. It is not safe for concurrent
// use; orders are processed sequentially.
type Orchestrator struct {
	client   API
	builder  *builder.Builder
	store    ResultStore
	settings config.Settings
	sleep    func(context.Context, time.Duration)
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder
	progress ProgressFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the inter-order delay.
func WithSleep(fn func(context.Context, time.Duration)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder reports order outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithProgress registers a per-order progress callback for Run.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// New creates an orchestrator. A nil store disables persistence and Retry.
func New(client API, b *builder.Builder, st ResultStore, settings config.Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		builder:  b,
		store:    st,
		settings: settings,
		sleep:    sleepContext,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) delay(ctx context.Context) {
	o.sleep(ctx, o.settings.DelayBetweenOrders)
}

// Run processes groups in order and returns the counts. A failed order
// never stops the batch.
func (o *Orchestrator) Run(ctx context.Context, uploadID uuid.UUID, groups []validate.OrderGroup, m csvparse.Mapping) (Summary, error) {
	sum := Summary{UploadID: uploadID}
	switch {
	case o.client == nil:
		return sum, ErrNoCredentials
	case len(m) == 0:
		return sum, ErrEmptyMapping
	case len(groups) == 0:
		return sum, ErrNoValidRows
	}

	o.logger.Info("submission started", slog.Int("orders", len(groups)))
	for i, g := range groups {
		r := o.ProcessOrder(ctx, uploadID, g, m)
		sum.add(r)
		if o.progress != nil {
			o.progress(i+1, len(groups), r)
		}
	}
	o.logger.Info("submission finished",
		slog.Int("successful", sum.Successful),
		slog.Int("failed", sum.Failed),
	)
	return sum, nil
}

// ProcessOrder submits one order group. Every failure is captured in the
// returned result.
func (o *Orchestrator) ProcessOrder(ctx context.Context, uploadID uuid.UUID, g validate.OrderGroup, m csvparse.Mapping) *OrderResult {
	r := &OrderResult{
		UploadID:   uploadID,
		OrderKey:   g.Key,
		RowNumbers: g.RowNumbers(),
		Status:     store.StatusProcessing,
	}
	log := o.logger.With(slog.String("order_key", g.Key), slog.Any("rows", r.RowNumbers))

	o.create(ctx, r, g, m)
	o.attempt(ctx, r, g.Rows, m, "")

	now := o.now()
	r.ProcessedAt = &now
	o.persist(ctx, r, g.Rows, m, func(rec *store.Result) { rec.ProcessedAt = &now })

	if o.recorder != nil {
		o.recorder.OrderProcessed(r.Status, r.ErrorType)
	}
	if r.Status == store.StatusSuccess {
		log.Info("order submitted", slog.String("sale_id", r.SaleID), slog.String("sale_order_id", r.SaleOrderID))
	} else {
		log.Warn("order failed", slog.String("error_type", r.ErrorType), slog.String("error", r.ErrorMessage))
	}
	return r
}

// Retry re-runs a failed result. A result whose Sale was already created
// resumes at the Sale Order step.
func (o *Orchestrator) Retry(ctx context.Context, resultID uuid.UUID) (*OrderResult, error) {
	if o.store == nil {
		return nil, ErrNoStore
	}
	if o.client == nil {
		return nil, ErrNoCredentials
	}
	rec, err := o.store.GetResult(ctx, resultID)
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	if rec.Status == store.StatusSuccess {
		return nil, ErrAlreadySucceeded
	}
	data, err := decodeOrderData(rec.OrderData)
	if err != nil {
		return nil, err
	}

	r := &OrderResult{
		ID:         rec.ID,
		UploadID:   rec.UploadID,
		OrderKey:   rec.OrderKey,
		RowNumbers: rec.RowNumbers,
		Status:     store.StatusProcessing,
		RetryCount: rec.RetryCount + 1,
	}
	log := o.logger.With(slog.String("result_id", rec.ID.String()), slog.String("order_key", rec.OrderKey))

	resume := ""
	if rec.SaleID != "" && rec.SaleOrderID == "" {
		resume = rec.SaleID
		log.Info("resuming order at sale order step", slog.String("sale_id", resume))
	}
	o.attempt(ctx, r, data.Rows, data.Mapping, resume)

	now := o.now()
	r.ProcessedAt = &now
	if r.Status == store.StatusSuccess {
		r.ResolvedAt = &now
	}
	o.persist(ctx, r, data.Rows, data.Mapping, func(u *store.Result) {
		u.ProcessedAt = &now
		u.LastRetryAt = &now
		u.ResolvedAt = r.ResolvedAt
	})

	if o.recorder != nil {
		o.recorder.OrderRetried(r.Status)
	}
	log.Info("retry finished", slog.String("status", r.Status), slog.Int("retry_count", r.RetryCount))
	return r, nil
}

// attempt runs the Sale and Sale Order steps. When saleID is set the Sale
// step is skipped.
func (o *Orchestrator) attempt(ctx context.Context, r *OrderResult, rows []csvparse.ParsedRow, m csvparse.Mapping, saleID string) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("order processing panicked", slog.String("order_key", r.OrderKey), slog.Any("panic", p))
			r.fail(ErrorValidation, "Unexpected error: %v", p)
		}
	}()

	if len(rows) == 0 {
		r.fail(ErrorValidation, "Order has no rows")
		return
	}

	sale, err := o.builder.BuildSale(ctx, rows[0], m)
	r.SalePayload = &sale
	r.WhatIsNeeded = o.builder.WhatIsNeeded(ctx, rows, m)

	order := o.builder.BuildSaleOrder(ctx, rows, m, builder.PlaceholderSaleID)
	r.SaleOrderPayload = &order

	if saleID == "" {
		switch {
		case errors.Is(err, builder.ErrMissingCustomer):
			r.fail(ErrorMissingFields, "%s", err.Error())
			return
		case errors.Is(err, builder.ErrCustomerNotFound):
			r.fail(ErrorCustomerNotFound, "Customer '%s' not found in Cin7", customerLabel(rows[0], m))
			return
		case err != nil:
			r.fail(ErrorValidation, "%s", err.Error())
			return
		case sale.CustomerID == "":
			r.fail(ErrorCustomerNotFound, "Customer '%s' could not be resolved to a CustomerID", customerLabel(rows[0], m))
			return
		case len(order.Lines) == 0:
			r.fail(ErrorValidation, "Order has no line items that resolve to Cin7 products")
			return
		}

		resp := o.client.CreateSale(ctx, sale)
		if !resp.OK {
			r.fail(ErrorAPI, "Failed to create Sale: %s", resp.Message)
			o.delay(ctx)
			return
		}
		saleID = resp.ID()
		if saleID == "" {
			r.fail(ErrorAPI, "Sale created but no ID returned")
			o.delay(ctx)
			return
		}
		r.SaleID = saleID
		o.delay(ctx)
	} else {
		r.SaleID = saleID
		if len(order.Lines) == 0 {
			r.fail(ErrorValidation, "Sale created (ID: %s) but Sale Order has no line items that resolve to Cin7 products", saleID)
			return
		}
	}

	order.SaleID = saleID
	soResp := o.client.CreateSaleOrder(ctx, order)
	if !soResp.OK {
		r.fail(ErrorAPI, "Sale created (ID: %s) but Sale Order failed: %s", saleID, soResp.Message)
		o.delay(ctx)
		return
	}

	// Sale orders share their sale's ID when the response carries none.
	r.SaleOrderID = soResp.ID()
	if r.SaleOrderID == "" {
		r.SaleOrderID = saleID
	}
	r.Status = store.StatusSuccess
	r.ErrorType = ""
	r.ErrorMessage = ""
	o.delay(ctx)
}

func customerLabel(row csvparse.ParsedRow, m csvparse.Mapping) string {
	if v := m.Get(row, csvparse.FieldCustomerName); v != "" {
		return v
	}
	return m.Get(row, csvparse.FieldCustomerEmail)
}

// create inserts the result record before any API call so a crash leaves a
// processing row behind.
func (o *Orchestrator) create(ctx context.Context, r *OrderResult, g validate.OrderGroup, m csvparse.Mapping) {
	if o.store == nil {
		return
	}
	raw := o.encode(r.OrderKey, orderData{Rows: g.Rows, Mapping: m})
	rec := &store.Result{
		UploadID:   r.UploadID,
		OrderKey:   r.OrderKey,
		RowNumbers: r.RowNumbers,
		Status:     store.StatusProcessing,
		OrderData:  raw,
	}
	if err := o.store.CreateResult(ctx, rec); err != nil {
		o.logger.Error("failed to create order result", slog.String("order_key", r.OrderKey), slog.Any("error", err))
		return
	}
	r.ID = rec.ID
}

func (o *Orchestrator) persist(ctx context.Context, r *OrderResult, rows []csvparse.ParsedRow, m csvparse.Mapping, fill func(*store.Result)) {
	if o.store == nil || r.ID == uuid.Nil {
		return
	}
	raw := o.encode(r.OrderKey, orderData{
		Rows:             rows,
		Mapping:          m,
		SalePayload:      r.SalePayload,
		SaleOrderPayload: r.SaleOrderPayload,
		WhatIsNeeded:     r.WhatIsNeeded,
	})

	rec := store.Result{
		ID:           r.ID,
		Status:       r.Status,
		SaleID:       r.SaleID,
		SaleOrderID:  r.SaleOrderID,
		ErrorMessage: r.ErrorMessage,
		ErrorType:    r.ErrorType,
		OrderData:    raw,
		RetryCount:   r.RetryCount,
	}
	if fill != nil {
		fill(&rec)
	}
	if err := o.store.UpdateResult(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Error("failed to update order result", slog.String("order_key", r.OrderKey), slog.Any("error", err))
	}
}

// encode returns nil when d cannot be marshalled; the result row is still
// written without order data.
func (o *Orchestrator) encode(orderKey string, d orderData) json.RawMessage {
	raw, err := json.Marshal(d)
	if err != nil {
		o.logger.Warn("failed to encode order data", slog.String("order_key", orderKey), slog.Any("error", err))
		return nil
	}
	return raw
}
