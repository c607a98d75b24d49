package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/cin7sync/internal/cin7"
	"github.com/JonMunkholm/cin7sync/internal/config"
	"github.com/JonMunkholm/cin7sync/internal/csvparse"
	"github.com/JonMunkholm/cin7sync/internal/jobs"
	"github.com/JonMunkholm/cin7sync/internal/logging"
	"github.com/JonMunkholm/cin7sync/internal/store"
)

// maxJSONBody caps JSON request bodies. Rows arrive already parsed, so this
// is larger than the file limit to allow for encoding overhead.
const maxJSONBody = 64 << 20

var (
	errNoFile     = errors.New("no file provided")
	errNoDataRows = errors.New("no data rows in file")
	errBadRequest = errors.New("invalid request body")
	errBadStatus  = errors.New("invalid request: status must be pending, processing, success or failed")
)

var validStatusSet = map[string]bool{
	"":                     true,
	store.StatusPending:    true,
	store.StatusProcessing: true,
	store.StatusSuccess:    true,
	store.StatusFailed:     true,
}

// parseResponse is the body of POST /api/parse.
type parseResponse struct {
	Filename         string                      `json:"filename"`
	Rows             []csvparse.ParsedRow        `json:"rows"`
	Errors           []string                    `json:"errors"`
	Skipped          []int                       `json:"skipped_rows"`
	Headers          []string                    `json:"headers"`
	DetectedColumns  map[csvparse.Field][]string `json:"detected_columns"`
	SuggestedMapping csvparse.Mapping            `json:"suggested_mapping"`
}

// handleParse accepts a multipart "file" field holding CSV or XLSX and
// returns the parsed rows with a suggested column mapping.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(w, r, err, http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", errNoFile, err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	res := csvparse.Parse(data, header.Filename)
	if len(res.Errors) > 0 && len(res.Rows) == 0 {
		respondError(w, r, errors.New(res.Errors[0]), http.StatusBadRequest, res.Errors...)
		return
	}
	if len(res.Rows) == 0 {
		respondError(w, r, errNoDataRows, http.StatusBadRequest)
		return
	}

	detected := csvparse.DetectColumns(res.Rows)

	logging.FromContext(r.Context()).Info("file parsed",
		"filename", header.Filename,
		"rows", len(res.Rows),
		"skipped", len(res.Skipped),
	)

	writeJSON(w, r, parseResponse{
		Filename:         header.Filename,
		Rows:             res.Rows,
		Errors:           res.Errors,
		Skipped:          res.Skipped,
		Headers:          res.Headers,
		DetectedColumns:  detected,
		SuggestedMapping: csvparse.SuggestMapping(detected),
	})
}

// batchRequest is the JSON body of POST /api/validate and POST /api/submit.
type batchRequest struct {
	Filename string               `json:"filename"`
	Rows     []csvparse.ParsedRow `json:"rows"`
	Mapping  map[string]string    `json:"mapping"`
	Preload  bool                 `json:"preload"`
	Settings *config.Settings     `json:"settings,omitempty"`
}

// decodeBatch reads a batchRequest and converts its mapping. It writes the
// error response itself and returns false on failure.
func (s *Server) decodeBatch(w http.ResponseWriter, r *http.Request) (batchRequest, csvparse.Mapping, bool) {
	var req batchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(w, r, err, http.StatusRequestEntityTooLarge)
			return req, nil, false
		}
		respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err), http.StatusBadRequest)
		return req, nil, false
	}

	m, err := csvparse.NewMapping(req.Mapping)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return req, nil, false
	}
	return req, m, true
}

// handleValidate validates rows against the live Cin7 catalog.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	req, m, ok := s.decodeBatch(w, r)
	if !ok {
		return
	}

	res, err := s.jobs.Validate(r.Context(), jobs.ValidateRequest{
		Rows:     req.Rows,
		Mapping:  m,
		Preload:  req.Preload,
		Settings: req.Settings,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, r, res)
}

// submitResponse is the body of POST /api/submit.
type submitResponse struct {
	JobID       uuid.UUID `json:"job_id"`
	UploadID    uuid.UUID `json:"upload_id"`
	TotalOrders int       `json:"total_orders"`
	StatusURL   string    `json:"status_url"`
}

// handleSubmit starts a submission job and returns 202 with its IDs.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, m, ok := s.decodeBatch(w, r)
	if !ok {
		return
	}

	p, err := s.jobs.Start(r.Context(), jobs.Request{
		Filename: req.Filename,
		Rows:     req.Rows,
		Mapping:  m,
		Settings: req.Settings,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("submission queued",
		"job_id", p.JobID,
		"upload_id", p.UploadID,
		"orders", p.TotalOrders,
	)

	writeJSONStatus(w, r, http.StatusAccepted, submitResponse{
		JobID:       p.JobID,
		UploadID:    p.UploadID,
		TotalOrders: p.TotalOrders,
		StatusURL:   "/api/jobs/" + p.JobID.String(),
	})
}

// progressResponse adds the completion percentage to a job snapshot.
type progressResponse struct {
	jobs.Progress
	Percent int `json:"percent"`
}

func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	p, err := s.jobs.Progress(id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, r, progressResponse{Progress: p, Percent: p.Percent()})
}

// handleJobEvents streams job progress as server-sent events. The event ID
// is the completion percentage, so a reconnecting client passing
// Last-Event-ID (or ?lastEventId=) skips events it already has.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}

	lastEventIDStr := r.Header.Get("Last-Event-ID")
	if lastEventIDStr == "" {
		lastEventIDStr = r.URL.Query().Get("lastEventId")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	updates, err := s.jobs.Subscribe(id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	var last jobs.Progress
	for {
		select {
		case p, ok := <-updates:
			if !ok {
				data, _ := json.Marshal(progressResponse{Progress: last, Percent: last.Percent()})
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				_ = rc.Flush()
				return
			}
			last = p

			pct := p.Percent()
			if pct <= lastEventID && !p.Finished() {
				continue
			}
			data, err := json.Marshal(progressResponse{Progress: p, Percent: pct})
			if err != nil {
				logging.FromContext(r.Context()).Error("encode progress", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", pct, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "uploadID")
	if !ok {
		return
	}
	up, err := s.jobs.Upload(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, r, up)
}

// resultsResponse is the body of GET /api/uploads/{uploadID}/results.
type resultsResponse struct {
	UploadID uuid.UUID      `json:"upload_id"`
	Status   string         `json:"status,omitempty"`
	Results  []store.Result `json:"results"`
}

// handleResults lists an upload's order results, optionally filtered with
// ?status=.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "uploadID")
	if !ok {
		return
	}
	status := r.URL.Query().Get("status")
	if !validStatusSet[status] {
		respondError(w, r, errBadStatus, http.StatusBadRequest)
		return
	}

	results, err := s.jobs.Results(r.Context(), id, status)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []store.Result{}
	}
	writeJSON(w, r, resultsResponse{UploadID: id, Status: status, Results: results})
}

// handleRetry re-runs one failed order. The outcome is returned with 200
// whether or not the retry succeeded.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "resultID")
	if !ok {
		return
	}
	res, err := s.jobs.Retry(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, r, res)
}

// pingResponse is the body of a successful GET /api/ping.
type pingResponse struct {
	OK      bool            `json:"ok"`
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Account json.RawMessage `json:"account,omitempty"`
}

// handlePing checks Cin7 connectivity. A Cin7 failure is reported as 502
// with the mapped message.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	resp, err := s.jobs.Ping(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !resp.OK {
		respondError(w, r, pingError(resp), http.StatusBadGateway)
		return
	}
	writeJSON(w, r, pingResponse{
		OK:      true,
		Status:  resp.Status,
		Message: resp.Message,
		Account: resp.Body,
	})
}

func pingError(resp cin7.Response) error {
	return fmt.Errorf("cin7 ping failed (status %d): %s", resp.Status, resp.Message)
}

// pathUUID parses a UUID URL parameter, writing a 400 when it is malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondError(w, r, fmt.Errorf("invalid request: %s is not a valid ID", name), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
