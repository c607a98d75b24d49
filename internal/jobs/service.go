// Package jobs runs submission jobs in the background and tracks their
// progress. Every job and every one-off validation, retry or ping builds
// its own Cin7 client, resolver and builder; nothing is shared between
// jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/cin7sync/internal/builder"
	"github.com/JonMunkholm/cin7sync/internal/cin7"
	"github.com/JonMunkholm/cin7sync/internal/config"
	"github.com/JonMunkholm/cin7sync/internal/csvparse"
	"github.com/JonMunkholm/cin7sync/internal/lookup"
	"github.com/JonMunkholm/cin7sync/internal/metrics"
	"github.com/JonMunkholm/cin7sync/internal/store"
	"github.com/JonMunkholm/cin7sync/internal/submit"
	"github.com/JonMunkholm/cin7sync/internal/validate"
)

// ErrJobNotFound is returned for unknown or expired job IDs.
var ErrJobNotFound = errors.New("job not found")

// Phase is a job's lifecycle stage.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhasePreloading Phase = "preloading"
	PhaseValidating Phase = "validating"
	PhaseSubmitting Phase = "submitting"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Progress is a snapshot of one job.
type Progress struct {
	JobID       uuid.UUID           `json:"job_id"`
	UploadID    uuid.UUID           `json:"upload_id"`
	Filename    string              `json:"filename"`
	Phase       Phase               `json:"phase"`
	TotalOrders int                 `json:"total_orders"`
	Processed   int                 `json:"processed"`
	Successful  int                 `json:"successful"`
	Failed      int                 `json:"failed"`
	Invalid     int                 `json:"invalid"`
	Rejected    []store.UploadError `json:"rejected,omitempty"`
	Error       string              `json:"error,omitempty"`
	Summary     *submit.Summary     `json:"summary,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
}

// Percent returns Processed as a percentage of TotalOrders.
func (p Progress) Percent() int {
	if p.TotalOrders == 0 {
		return 0
	}
	return p.Processed * 100 / p.TotalOrders
}

// Finished reports whether the job reached a final phase.
func (p Progress) Finished() bool {
	return p.Phase == PhaseCompleted || p.Phase == PhaseFailed
}

// Request is one submission.
type Request struct {
	Filename string
	Rows     []csvparse.ParsedRow
	Mapping  csvparse.Mapping

	// Settings overrides the service defaults when set.
	Settings *config.Settings
}

// Service owns the job table.
type Service struct {
	store      store.Store
	cin7       config.Cin7Config
	settings   config.Settings
	limiter    *Limiter
	retention  time.Duration
	clientOpts []cin7.Option
	orchOpts   []submit.Option
	metrics    *metrics.Registry
	logger     *slog.Logger

	mu   sync.RWMutex
	jobs map[uuid.UUID]*job
}

type job struct {
	mu        sync.Mutex
	progress  Progress
	listeners []chan Progress
	done      chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithClientOptions appends Cin7 client options applied after the ones
// derived from configuration.
func WithClientOptions(opts ...cin7.Option) Option {
	return func(s *Service) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithOrchestratorOptions appends options for every job's orchestrator.
func WithOrchestratorOptions(opts ...submit.Option) Option {
	return func(s *Service) { s.orchOpts = append(s.orchOpts, opts...) }
}

// WithMetrics records API calls, jobs and orders on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Service) { s.metrics = reg }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a job service persisting to st.
func NewService(st store.Store, creds config.Cin7Config, settings config.Settings, cfg config.JobsConfig, opts ...Option) *Service {
	s := &Service{
		store:     st,
		cin7:      creds,
		settings:  settings,
		limiter:   NewLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		retention: cfg.Retention,
		logger:    slog.Default(),
		jobs:      make(map[uuid.UUID]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) credentials() (cin7.Credentials, error) {
	if !s.cin7.Configured() {
		return cin7.Credentials{}, submit.ErrNoCredentials
	}
	creds := cin7.Credentials{
		AccountID:      s.cin7.AccountID,
		ApplicationKey: s.cin7.ApplicationKey,
		BaseURL:        s.cin7.BaseURL,
	}
	if err := creds.Validate(); err != nil {
		return creds, fmt.Errorf("%w: %v", submit.ErrNoCredentials, err)
	}
	return creds, nil
}

// client builds a fresh client whose calls are logged under uploadID and
// trigger.
func (s *Service) client(uploadID uuid.UUID, trigger string, log *slog.Logger) (*cin7.Client, error) {
	creds, err := s.credentials()
	if err != nil {
		return nil, err
	}

	var observers []cin7.Observer
	if s.store != nil {
		observers = append(observers, store.NewAPILogger(s.store, uploadID, trigger, log))
	}
	if s.metrics != nil {
		observers = append(observers, s.metrics)
	}

	opts := []cin7.Option{
		cin7.WithMinInterval(s.cin7.MinInterval),
		cin7.WithTimeouts(s.cin7.RequestTimeout, s.cin7.PingTimeout, s.cin7.PageTimeout),
		cin7.WithMaxPages(s.cin7.MaxPages),
		cin7.WithRetries(s.cin7.MaxRetries, s.cin7.RetryBackoff),
		cin7.WithLogger(log),
		cin7.WithObserver(cin7.Observers(observers...)),
	}
	return cin7.New(creds, append(opts, s.clientOpts...)...), nil
}

func (s *Service) settingsFor(override *config.Settings) (config.Settings, error) {
	if override == nil {
		return s.settings, nil
	}
	if err := override.Validate(); err != nil {
		return s.settings, err
	}
	return *override, nil
}

func (s *Service) orchestrator(client *cin7.Client, b *builder.Builder, settings config.Settings, log *slog.Logger, extra ...submit.Option) *submit.Orchestrator {
	opts := append([]submit.Option{submit.WithLogger(log)}, s.orchOpts...)
	if s.metrics != nil {
		opts = append(opts, submit.WithRecorder(s.metrics))
	}
	return submit.New(client, b, s.store, settings, append(opts, extra...)...)
}

// Start checks the batch preconditions, creates the upload record and runs
// the job in the background. It waits for a job slot up to the configured
// wait time. The job is not tied to ctx once started.
//
// The job validates every order against the preloaded catalog first and
// submits only the valid ones. Invalid orders count as processed, are
// listed in Rejected and are written to the upload's error log. A job with
// no valid order fails with ErrNoValidRows without posting anything.
func (s *Service) Start(ctx context.Context, req Request) (Progress, error) {
	if _, err := s.credentials(); err != nil {
		return Progress{}, err
	}
	if len(req.Mapping) == 0 {
		return Progress{}, submit.ErrEmptyMapping
	}
	groups := validate.GroupRows(req.Rows, req.Mapping)
	if len(groups) == 0 {
		return Progress{}, submit.ErrNoValidRows
	}
	settings, err := s.settingsFor(req.Settings)
	if err != nil {
		return Progress{}, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return Progress{}, err
	}

	up := &store.Upload{Filename: req.Filename, TotalRows: len(req.Rows)}
	if err := s.store.CreateUpload(ctx, up); err != nil {
		s.limiter.Release()
		return Progress{}, fmt.Errorf("create upload: %w", err)
	}

	j := &job{
		progress: Progress{
			JobID:       uuid.New(),
			UploadID:    up.ID,
			Filename:    req.Filename,
			Phase:       PhaseQueued,
			TotalOrders: len(groups),
			StartedAt:   time.Now().UTC(),
		},
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[j.progress.JobID] = j
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.JobStarted()
	}
	go s.run(j, req.Rows, req.Mapping, settings)

	return j.snapshot(), nil
}

func (s *Service) run(j *job, rows []csvparse.ParsedRow, m csvparse.Mapping, settings config.Settings) {
	p := j.snapshot()
	log := s.logger.With(slog.String("job_id", p.JobID.String()), slog.String("upload_id", p.UploadID.String()))
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			log.Error("submission job panicked", slog.Any("panic", r))
			j.finish(PhaseFailed, fmt.Sprintf("internal error: %v", r), nil)
		}
		final := j.snapshot()
		if s.metrics != nil {
			s.metrics.JobFinished(string(final.Phase))
		}
		j.closeListeners()
		close(j.done)
		s.limiter.Release()
		s.cleanup(final.JobID)
	}()

	client, err := s.client(p.UploadID, store.TriggerUpload, log)
	if err != nil {
		j.finish(PhaseFailed, err.Error(), nil)
		return
	}

	j.setPhase(PhasePreloading)
	resolver := lookup.NewResolver(client, log)
	b := builder.New(resolver, settings)
	v := validate.New(resolver, settings, b).WithLogger(log)
	_, _ = v.Preload(ctx)

	j.setPhase(PhaseValidating)
	batch := v.ValidateBatch(ctx, rows, m)
	rejected := rejections(batch.Invalid)
	if s.metrics != nil {
		for range rejected {
			s.metrics.OrderProcessed(store.StatusFailed, submit.ErrorValidation)
		}
	}
	j.reject(rejected)
	log.Info("batch validated",
		slog.Int("valid_orders", batch.Summary.ValidOrders),
		slog.Int("invalid_orders", batch.Summary.InvalidOrders),
	)

	valid := batch.ValidGroups()
	if len(valid) == 0 {
		if err := s.store.CompleteUpload(ctx, p.UploadID, 0, len(rejected), rejected); err != nil {
			log.Error("failed to complete upload record", slog.Any("error", err))
		}
		j.finish(PhaseFailed, submit.ErrNoValidRows.Error(), nil)
		return
	}

	j.setPhase(PhaseSubmitting)
	orch := s.orchestrator(client, b, settings, log, submit.WithProgress(func(done, _ int, r *submit.OrderResult) {
		j.record(len(rejected)+done, r)
	}))

	sum, err := orch.Run(ctx, p.UploadID, valid, m)
	if err != nil {
		j.finish(PhaseFailed, err.Error(), nil)
		return
	}

	errs := append(append([]store.UploadError{}, rejected...), sum.Errors...)
	if err := s.store.CompleteUpload(ctx, p.UploadID, sum.Successful, sum.Failed+len(rejected), errs); err != nil {
		log.Error("failed to complete upload record", slog.Any("error", err))
	}
	j.finish(PhaseCompleted, "", &sum)
}

// rejections turns invalid orders into upload error log entries.
func rejections(invalid []validate.RowResult) []store.UploadError {
	out := make([]store.UploadError, 0, len(invalid))
	for _, r := range invalid {
		out = append(out, store.UploadError{
			OrderKey: r.OrderKey,
			Row:      r.RowNumber,
			Error:    strings.Join(r.Errors, "; "),
		})
	}
	return out
}

// cleanup forgets a finished job after the retention period.
func (s *Service) cleanup(id uuid.UUID) {
	if s.retention <= 0 {
		return
	}
	time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		delete(s.jobs, id)
		s.mu.Unlock()
	})
}

func (s *Service) get(id uuid.UUID) (*job, error) {
	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// Progress returns the current snapshot of a job.
func (s *Service) Progress(id uuid.UUID) (Progress, error) {
	j, err := s.get(id)
	if err != nil {
		return Progress{}, err
	}
	return j.snapshot(), nil
}

// Subscribe returns a channel receiving progress updates. It receives the
// current snapshot first and is closed when the job finishes. Slow
// listeners miss intermediate updates.
func (s *Service) Subscribe(id uuid.UUID) (<-chan Progress, error) {
	j, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ch := make(chan Progress, 10)

	j.mu.Lock()
	defer j.mu.Unlock()
	ch <- j.progress
	if j.progress.Finished() {
		close(ch)
		return ch, nil
	}
	j.listeners = append(j.listeners, ch)
	return ch, nil
}

// Wait blocks until the job finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, id uuid.UUID) (Progress, error) {
	j, err := s.get(id)
	if err != nil {
		return Progress{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// WaitForJobs blocks until every running job has finished or ctx is done.
func (s *Service) WaitForJobs(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// LimiterStatus reports job slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// ValidateRequest is one validation pass.
type ValidateRequest struct {
	Rows     []csvparse.ParsedRow
	Mapping  csvparse.Mapping
	Preload  bool
	Settings *config.Settings
}

// Validate runs the batch validator against the live catalog.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (validate.BatchResult, error) {
	if len(req.Mapping) == 0 {
		return validate.BatchResult{}, submit.ErrEmptyMapping
	}
	settings, err := s.settingsFor(req.Settings)
	if err != nil {
		return validate.BatchResult{}, err
	}
	client, err := s.client(uuid.Nil, store.TriggerValidation, s.logger)
	if err != nil {
		return validate.BatchResult{}, err
	}

	resolver := lookup.NewResolver(client, s.logger)
	v := validate.New(resolver, settings, builder.New(resolver, settings)).WithLogger(s.logger)
	if req.Preload {
		_, _ = v.Preload(ctx)
	}
	return v.ValidateBatch(ctx, req.Rows, req.Mapping), nil
}

// Retry re-runs one failed order result.
func (s *Service) Retry(ctx context.Context, resultID uuid.UUID) (*submit.OrderResult, error) {
	rec, err := s.store.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(slog.String("upload_id", rec.UploadID.String()), slog.String("result_id", resultID.String()))
	client, err := s.client(rec.UploadID, store.TriggerRetry, log)
	if err != nil {
		return nil, err
	}
	resolver := lookup.NewResolver(client, log)
	orch := s.orchestrator(client, builder.New(resolver, s.settings), s.settings, log)
	return orch.Retry(ctx, resultID)
}

// Upload returns an upload record.
func (s *Service) Upload(ctx context.Context, id uuid.UUID) (store.Upload, error) {
	return s.store.GetUpload(ctx, id)
}

// Results lists an upload's results, optionally filtered by status.
func (s *Service) Results(ctx context.Context, uploadID uuid.UUID, status string) ([]store.Result, error) {
	return s.store.ListResultsByStatus(ctx, uploadID, status)
}

// Ping checks connectivity and credentials with GET /me.
func (s *Service) Ping(ctx context.Context) (cin7.Response, error) {
	client, err := s.client(uuid.Nil, store.TriggerPing, s.logger)
	if err != nil {
		return cin7.Response{}, err
	}
	return client.TestConnection(ctx), nil
}

func (j *job) snapshot() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

func (j *job) setPhase(p Phase) {
	j.update(func(pr *Progress) { pr.Phase = p })
}

func (j *job) reject(rejected []store.UploadError) {
	j.update(func(pr *Progress) {
		pr.Invalid = len(rejected)
		pr.Processed = len(rejected)
		pr.Rejected = rejected
	})
}

func (j *job) record(done int, r *submit.OrderResult) {
	j.update(func(pr *Progress) {
		pr.Processed = done
		if r.Status == store.StatusSuccess {
			pr.Successful++
		} else {
			pr.Failed++
		}
	})
}

func (j *job) finish(phase Phase, msg string, sum *submit.Summary) {
	now := time.Now().UTC()
	j.update(func(pr *Progress) {
		pr.Phase = phase
		pr.Error = msg
		pr.Summary = sum
		pr.FinishedAt = &now
	})
}

// update applies fn and notifies listeners without blocking.
func (j *job) update(fn func(*Progress)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.progress)
	for _, ch := range j.listeners {
		select {
		case ch <- j.progress:
		default:
		}
	}
}

func (j *job) closeListeners() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ch := range j.listeners {
		close(ch)
	}
	j.listeners = nil
}
