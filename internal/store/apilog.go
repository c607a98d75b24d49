package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/cin7sync/internal/cin7"
)

// Triggers recorded with each API call.
const (
	TriggerValidation = "validation"
	TriggerUpload     = "upload"
	TriggerRetry      = "retry"
	TriggerPing       = "connection_test"
)

const apiLogTimeout = 5 * time.Second

// APILogWriter is the subset of Store used by APILogger.
type APILogWriter interface {
	InsertAPILog(ctx context.Context, e APILogEntry) error
}

// APILogger writes every Cin7 call to cin7_api_log. Write failures are
// logged and dropped; they never fail the call being observed.
type APILogger struct {
	w        APILogWriter
	uploadID uuid.UUID
	trigger  string
	logger   *slog.Logger
}

// NewAPILogger creates an observer tagging records with uploadID (which may
// be uuid.Nil) and trigger.
func NewAPILogger(w APILogWriter, uploadID uuid.UUID, trigger string, logger *slog.Logger) *APILogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &APILogger{w: w, uploadID: uploadID, trigger: trigger, logger: logger}
}

// ObserveCall implements cin7.Observer.
func (l *APILogger) ObserveCall(ctx context.Context, rec cin7.CallRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apiLogTimeout)
	defer cancel()

	err := l.w.InsertAPILog(ctx, APILogEntry{
		UploadID:       l.uploadID,
		Trigger:        l.trigger,
		Endpoint:       rec.Endpoint,
		Method:         rec.Method,
		RequestURL:     rec.URL,
		RequestHeaders: rec.Headers,
		RequestBody:    rec.RequestBody,
		ResponseStatus: rec.Status,
		ResponseBody:   rec.ResponseBody,
		ErrorMessage:   rec.Error,
		DurationMS:     rec.DurationMS,
	})
	if err != nil {
		l.logger.Warn("failed to write api log",
			slog.String("endpoint", rec.Endpoint),
			slog.String("error", err.Error()),
		)
	}
}
