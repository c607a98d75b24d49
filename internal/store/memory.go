package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It backs the CLI when no database is
// configured.
type Memory struct {
	mu      sync.Mutex
	uploads map[uuid.UUID]Upload
	results map[uuid.UUID]Result
	logs    []APILogEntry
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		uploads: make(map[uuid.UUID]Upload),
		results: make(map[uuid.UUID]Result),
	}
}

func (m *Memory) CreateUpload(_ context.Context, u *Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Status == "" {
		u.Status = UploadProcessing
	}
	m.uploads[u.ID] = *u
	return nil
}

func (m *Memory) CompleteUpload(_ context.Context, id uuid.UUID, successful, failed int, errs []UploadError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.uploads[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	u.SuccessfulOrders = successful
	u.FailedOrders = failed
	u.ErrorLog = append([]UploadError(nil), errs...)
	u.Status = UploadCompleted
	u.CompletedAt = &now
	m.uploads[id] = u
	return nil
}

func (m *Memory) GetUpload(_ context.Context, id uuid.UUID) (Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.uploads[id]
	if !ok {
		return Upload{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) CreateResult(_ context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.results[r.ID] = cloneResult(*r)
	return nil
}

func (m *Memory) UpdateResult(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.results[r.ID]
	if !ok {
		return ErrNotFound
	}
	r.UploadID = old.UploadID
	r.OrderKey = old.OrderKey
	r.RowNumbers = old.RowNumbers
	r.CreatedAt = old.CreatedAt
	m.results[r.ID] = cloneResult(r)
	return nil
}

func (m *Memory) GetResult(_ context.Context, id uuid.UUID) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.results[id]
	if !ok {
		return Result{}, ErrNotFound
	}
	return cloneResult(r), nil
}

func (m *Memory) ListResultsByStatus(_ context.Context, uploadID uuid.UUID, status string) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Result
	for _, r := range m.results {
		if r.UploadID == uploadID && (status == "" || r.Status == status) {
			out = append(out, cloneResult(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrderKey < out[j].OrderKey
	})
	return out, nil
}

func (m *Memory) InsertAPILog(_ context.Context, e APILogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.logs = append(m.logs, e)
	return nil
}

// APILogs returns a copy of the recorded API calls.
func (m *Memory) APILogs() []APILogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]APILogEntry(nil), m.logs...)
}

func cloneResult(r Result) Result {
	r.RowNumbers = append([]int(nil), r.RowNumbers...)
	if r.OrderData != nil {
		r.OrderData = append(json.RawMessage(nil), r.OrderData...)
	}
	return r
}
