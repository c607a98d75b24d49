package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/cin7sync/internal/cin7"
	"github.com/JonMunkholm/cin7sync/internal/config"
	"github.com/JonMunkholm/cin7sync/internal/csvparse"
	"github.com/JonMunkholm/cin7sync/internal/jobs"
	"github.com/JonMunkholm/cin7sync/internal/store"
	"github.com/JonMunkholm/cin7sync/internal/submit"
	"github.com/JonMunkholm/cin7sync/internal/validate"
)

// fakeJobs records the requests it receives and returns canned results.
type fakeJobs struct {
	startErr   error
	started    []jobs.Request
	progress   map[uuid.UUID]jobs.Progress
	validated  []jobs.ValidateRequest
	retryErr   error
	results    []store.Result
	lastStatus string
	ping       cin7.Response
}

func (f *fakeJobs) Start(_ context.Context, req jobs.Request) (jobs.Progress, error) {
	if f.startErr != nil {
		return jobs.Progress{}, f.startErr
	}
	f.started = append(f.started, req)
	return jobs.Progress{JobID: uuid.New(), UploadID: uuid.New(), TotalOrders: len(req.Rows)}, nil
}

func (f *fakeJobs) Progress(id uuid.UUID) (jobs.Progress, error) {
	p, ok := f.progress[id]
	if !ok {
		return jobs.Progress{}, jobs.ErrJobNotFound
	}
	return p, nil
}

func (f *fakeJobs) Subscribe(id uuid.UUID) (<-chan jobs.Progress, error) {
	p, ok := f.progress[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	ch := make(chan jobs.Progress, 3)
	ch <- jobs.Progress{JobID: id, Phase: jobs.PhaseSubmitting, TotalOrders: p.TotalOrders, Processed: 1}
	ch <- jobs.Progress{JobID: id, Phase: jobs.PhaseSubmitting, TotalOrders: p.TotalOrders, Processed: 2}
	ch <- p
	close(ch)
	return ch, nil
}

func (f *fakeJobs) Validate(_ context.Context, req jobs.ValidateRequest) (validate.BatchResult, error) {
	f.validated = append(f.validated, req)
	return validate.BatchResult{Summary: validate.Summary{Rows: len(req.Rows)}}, nil
}

func (f *fakeJobs) Retry(_ context.Context, id uuid.UUID) (*submit.OrderResult, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	return &submit.OrderResult{ID: id, Status: store.StatusSuccess, SaleID: "S1", SaleOrderID: "S1"}, nil
}

func (f *fakeJobs) Upload(_ context.Context, id uuid.UUID) (store.Upload, error) {
	return store.Upload{}, store.ErrNotFound
}

func (f *fakeJobs) Results(_ context.Context, _ uuid.UUID, status string) ([]store.Result, error) {
	f.lastStatus = status
	return f.results, nil
}

func (f *fakeJobs) Ping(context.Context) (cin7.Response, error) {
	return f.ping, nil
}

func (f *fakeJobs) LimiterStatus() jobs.LimiterStatus {
	return jobs.LimiterStatus{Available: 2, MaxConcurrent: 2}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{MaxUploadSize: 1 << 20},
	}
}

func newTestServer(t *testing.T, svc *fakeJobs, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	return NewServer(svc, cfg, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("cin7_api_calls_total 0\n"))
	})))
}

func do(t *testing.T, s *Server, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func batchBody(t *testing.T, mapping map[string]string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"filename": "orders.csv",
		"rows": []csvparse.ParsedRow{
			{RowNumber: 2, Data: map[string]string{"Customer": "Acme", "SKU": "A1", "Qty": "2"}},
		},
		"mapping": mapping,
	})
	require.NoError(t, err)
	return b
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeJobs{}, nil)

	rec := do(t, s, http.MethodGet, "/health", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.Jobs.MaxConcurrent)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, &fakeJobs{}, nil)

	rec := do(t, s, http.MethodGet, "/metrics", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cin7_api_calls_total")
}

func TestParseUpload(t *testing.T) {
	s := newTestServer(t, &fakeJobs{}, nil)

	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	fw, err := mpw.CreateFormFile("file", "orders.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("CustomerName,SKU,Quantity,Price\nAcme,A1,2,10.00\n,,,10.00\n"))
	require.NoError(t, err)
	require.NoError(t, mpw.Close())

	rec := do(t, s, http.MethodPost, "/api/parse", buf.Bytes(), http.Header{
		"Content-Type": {mpw.FormDataContentType()},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body parseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "orders.csv", body.Filename)
	require.Len(t, body.Rows, 1)
	assert.Equal(t, []int{3}, body.Skipped)
	assert.Equal(t, "CustomerName", body.SuggestedMapping[csvparse.FieldCustomerName])
	assert.Equal(t, "SKU", body.SuggestedMapping[csvparse.FieldSKU])
	assert.Equal(t, []string{"Quantity"}, body.DetectedColumns[csvparse.FieldQuantity])
}

func TestParseErrors(t *testing.T) {
	s := newTestServer(t, &fakeJobs{}, nil)

	t.Run("no file", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/parse", nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "FILE004", decodeError(t, rec).Code)
	})

	t.Run("header only", func(t *testing.T) {
		var buf bytes.Buffer
		mpw := multipart.NewWriter(&buf)
		fw, err := mpw.CreateFormFile("file", "empty.csv")
		require.NoError(t, err)
		_, _ = fw.Write([]byte("CustomerName,SKU,Quantity\n"))
		require.NoError(t, mpw.Close())

		rec := do(t, s, http.MethodPost, "/api/parse", buf.Bytes(), http.Header{
			"Content-Type": {mpw.FormDataContentType()},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "FILE005", decodeError(t, rec).Code)
	})
}

func TestValidate(t *testing.T) {
	svc := &fakeJobs{}
	s := newTestServer(t, svc, nil)

	rec := do(t, s, http.MethodPost, "/api/validate", batchBody(t, map[string]string{
		"CustomerName": "Customer",
		"SKU":          "SKU",
	}), nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, svc.validated, 1)
	assert.Equal(t, "Customer", svc.validated[0].Mapping[csvparse.FieldCustomerName])
	assert.Contains(t, rec.Body.String(), `"rows":1`)
}

func TestValidateBadRequests(t *testing.T) {
	s := newTestServer(t, &fakeJobs{}, nil)

	tests := []struct {
		name     string
		body     []byte
		wantCode string
	}{
		{
			name:     "malformed json",
			body:     []byte(`{"rows":`),
			wantCode: "VAL006",
		},
		{
			name:     "unknown mapping field",
			body:     batchBody(t, map[string]string{"Colour": "Customer"}),
			wantCode: "VAL002",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/validate", tt.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestSubmit(t *testing.T) {
	svc := &fakeJobs{}
	s := newTestServer(t, svc, nil)

	rec := do(t, s, http.MethodPost, "/api/submit", batchBody(t, map[string]string{"CustomerName": "Customer"}), nil)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var body submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEqual(t, uuid.Nil, body.JobID)
	assert.Equal(t, "/api/jobs/"+body.JobID.String(), body.StatusURL)
	require.Len(t, svc.started, 1)
	assert.Equal(t, "orders.csv", svc.started[0].Filename)
}

func TestSubmitServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"busy", jobs.ErrTooManyJobs, http.StatusTooManyRequests, "JOB001"},
		{"no credentials", submit.ErrNoCredentials, http.StatusServiceUnavailable, "CIN003"},
		{"empty mapping", submit.ErrEmptyMapping, http.StatusBadRequest, "VAL003"},
		{"no valid rows", submit.ErrNoValidRows, http.StatusBadRequest, "VAL004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeJobs{startErr: tt.err}, nil)

			rec := do(t, s, http.MethodPost, "/api/submit", batchBody(t, nil), nil)

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			if tt.wantStatus == http.StatusTooManyRequests {
				assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestJobProgress(t *testing.T) {
	id := uuid.New()
	svc := &fakeJobs{progress: map[uuid.UUID]jobs.Progress{
		id: {JobID: id, Phase: jobs.PhaseSubmitting, TotalOrders: 4, Processed: 1},
	}}
	s := newTestServer(t, svc, nil)

	rec := do(t, s, http.MethodGet, "/api/jobs/"+id.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body progressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 25, body.Percent)
	assert.Equal(t, jobs.PhaseSubmitting, body.Phase)

	rec = do(t, s, http.MethodGet, "/api/jobs/"+uuid.NewString(), nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB002", decodeError(t, rec).Code)

	rec = do(t, s, http.MethodGet, "/api/jobs/not-a-uuid", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL006", decodeError(t, rec).Code)
}

func TestJobEvents(t *testing.T) {
	id := uuid.New()
	svc := &fakeJobs{progress: map[uuid.UUID]jobs.Progress{
		id: {JobID: id, Phase: jobs.PhaseCompleted, TotalOrders: 4, Processed: 4, Successful: 4},
	}}
	s := newTestServer(t, svc, nil)

	rec := do(t, s, http.MethodGet, "/api/jobs/"+id.String()+"/events", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "id: 25\nevent: progress\n")
	assert.Contains(t, body, "id: 50\nevent: progress\n")
	assert.Contains(t, body, "id: 100\nevent: progress\n")
	assert.Contains(t, body, "event: complete\n")

	// resuming skips what the client already saw
	rec = do(t, s, http.MethodGet, "/api/jobs/"+id.String()+"/events", nil, http.Header{"Last-Event-Id": {"50"}})
	body = rec.Body.String()
	assert.NotContains(t, body, "id: 25\n")
	assert.NotContains(t, body, "id: 50\n")
	assert.Contains(t, body, "id: 100\n")

	rec = do(t, s, http.MethodGet, "/api/jobs/"+uuid.NewString()+"/events", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResults(t *testing.T) {
	svc := &fakeJobs{results: []store.Result{{ID: uuid.New(), Status: store.StatusFailed}}}
	s := newTestServer(t, svc, nil)
	uploadID := uuid.NewString()

	rec := do(t, s, http.MethodGet, "/api/uploads/"+uploadID+"/results?status=failed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.StatusFailed, svc.lastStatus)

	var body resultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Results, 1)

	rec = do(t, s, http.MethodGet, "/api/uploads/"+uploadID+"/results?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/uploads/"+uploadID, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB003", decodeError(t, rec).Code)
}

func TestRetry(t *testing.T) {
	id := uuid.New()

	s := newTestServer(t, &fakeJobs{}, nil)
	rec := do(t, s, http.MethodPost, "/api/results/"+id.String()+"/retry", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sale_order_id":"S1"`)

	s = newTestServer(t, &fakeJobs{retryErr: submit.ErrAlreadySucceeded}, nil)
	rec = do(t, s, http.MethodPost, "/api/results/"+id.String()+"/retry", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB004", decodeError(t, rec).Code)
}

func TestPing(t *testing.T) {
	s := newTestServer(t, &fakeJobs{ping: cin7.Response{OK: true, Status: 200, Message: "Success", Body: []byte(`{"Company":"Acme"}`)}}, nil)
	rec := do(t, s, http.MethodGet, "/api/ping", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Company":"Acme"`)

	s = newTestServer(t, &fakeJobs{ping: cin7.Response{Status: 401, Message: "Authentication failed. Check your credentials."}}, nil)
	rec = do(t, s, http.MethodGet, "/api/ping", nil, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "CIN001", decodeError(t, rec).Code)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}
	s := newTestServer(t, &fakeJobs{}, cfg)

	rec := do(t, s, http.MethodGet, "/api/uploads/"+uuid.NewString()+"/results", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/uploads/"+uuid.NewString()+"/results", nil, http.Header{"X-Api-Key": {"nope"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/uploads/"+uuid.NewString()+"/results", nil, http.Header{"X-Api-Key": {"k2"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	// health stays open
	rec = do(t, s, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = 2
	s := newTestServer(t, &fakeJobs{}, cfg)

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodGet, "/health", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))
}
