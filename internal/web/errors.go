package web

// errors.go maps technical errors to coded user messages and writes them as
// JSON error responses.
//
// # Error Codes Reference
//
// Users can quote a code to support staff. Codes are grouped by category.
//
// # Cin7 Errors (CIN001-CIN099)
//
//	CIN001 - Authentication failed: Cin7 rejected the account ID or key
//	         Action: Check CIN7_ACCOUNT_ID and CIN7_APPLICATION_KEY
//	         Patterns: "authentication failed"
//
//	CIN002 - Rate limited: Cin7 throttled the request
//	         Action: Wait a minute and retry the failed orders
//	         Patterns: "rate limit exceeded"
//
//	CIN003 - Not configured: Cin7 credentials are missing
//	         Action: Set CIN7_ACCOUNT_ID and CIN7_APPLICATION_KEY
//	         Patterns: "credentials not configured"
//
//	CIN004 - Timeout: Cin7 did not answer in time
//	         Action: Try again shortly
//	         Patterns: "request timeout"
//
//	CIN005 - Server error: Cin7 reported an internal error
//	         Action: Try again later
//	         Patterns: "server error"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date: A date could not be parsed
//	         Patterns: "invalid date"
//
//	VAL002 - Unknown mapping field: The column mapping names an unknown field
//	         Patterns: "unknown mapping fields"
//
//	VAL003 - No mapping: No column mapping was supplied
//	         Patterns: "column mapping not set"
//
//	VAL004 - No valid rows: Nothing in the batch can be submitted
//	         Patterns: "no valid rows"
//
//	VAL005 - Invalid settings: A client setting failed validation
//	         Patterns: "invalid settings"
//
//	VAL006 - Invalid request: The request body could not be decoded
//	         Patterns: "invalid request"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: Patterns: "request body too large"
//	FILE002 - Invalid file: Patterns: "error parsing csv", "error reading workbook"
//	FILE003 - Encoding error: Patterns: "could not decode"
//	FILE004 - No file: Patterns: "no file provided"
//	FILE005 - Empty file: Patterns: "no data rows"
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - System busy: Patterns: "too many submission jobs"
//	JOB002 - Job expired: Patterns: "job not found"
//	JOB003 - Not found: Patterns: "record not found"
//	JOB004 - Already done: Patterns: "already succeeded"
//
// # Other
//
//	DB004   - Database unavailable: Patterns: "connection refused"
//	RATE001 - Too many requests: Patterns: "too many requests"
//	ERR000  - Unknown error: fallback when nothing matches
//
// Patterns are matched case-insensitively with strings.Contains. The first
// match wins, so specific patterns come before general ones.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/cin7sync/internal/jobs"
	"github.com/JonMunkholm/cin7sync/internal/logging"
	"github.com/JonMunkholm/cin7sync/internal/store"
	"github.com/JonMunkholm/cin7sync/internal/submit"
)

// UserMessage is a user-facing error with a support code.
type UserMessage struct {
	Message string
	Action  string
	Code    string
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Cin7
	{
		pattern: "authentication failed",
		msg: UserMessage{
			Message: "Cin7 rejected the credentials",
			Action:  "Check CIN7_ACCOUNT_ID and CIN7_APPLICATION_KEY",
			Code:    "CIN001",
		},
	},
	{
		pattern: "rate limit exceeded",
		msg: UserMessage{
			Message: "Cin7 rate limit reached",
			Action:  "Wait a minute and retry the failed orders",
			Code:    "CIN002",
		},
	},
	{
		pattern: "credentials not configured",
		msg: UserMessage{
			Message: "Cin7 credentials are not configured",
			Action:  "Set CIN7_ACCOUNT_ID and CIN7_APPLICATION_KEY",
			Code:    "CIN003",
		},
	},
	{
		pattern: "request timeout",
		msg: UserMessage{
			Message: "Cin7 did not respond in time",
			Action:  "Please try again shortly",
			Code:    "CIN004",
		},
	},
	{
		pattern: "server error",
		msg: UserMessage{
			Message: "Cin7 reported a server error",
			Action:  "Please try again later",
			Code:    "CIN005",
		},
	},

	// Validation
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024",
			Code:    "VAL001",
		},
	},
	{
		pattern: "unknown mapping fields",
		msg: UserMessage{
			Message: "The column mapping names an unknown field",
			Action:  "Map only the supported order fields",
			Code:    "VAL002",
		},
	},
	{
		pattern: "column mapping not set",
		msg: UserMessage{
			Message: "No column mapping was supplied",
			Action:  "Map at least the customer and line item columns",
			Code:    "VAL003",
		},
	},
	{
		pattern: "no valid rows",
		msg: UserMessage{
			Message: "No rows in the file can be submitted",
			Action:  "Check that the mapped customer columns have values",
			Code:    "VAL004",
		},
	},
	{
		pattern: "invalid settings",
		msg: UserMessage{
			Message: "One or more client settings are invalid",
			Action:  "Review status, currency and location settings",
			Code:    "VAL005",
		},
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request could not be read",
			Action:  "Send a JSON body with rows and mapping",
			Code:    "VAL006",
		},
	},

	// Files
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "error parsing csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure the file has a header row and consistent columns",
			Code:    "FILE002",
		},
	},
	{
		pattern: "error reading workbook",
		msg: UserMessage{
			Message: "Spreadsheet could not be read",
			Action:  "Save the first sheet as .xlsx or export it to CSV",
			Code:    "FILE002",
		},
	},
	{
		pattern: "could not decode",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV or Excel file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The uploaded file has no data rows",
			Action:  "Please upload a file with a header and at least one order row",
			Code:    "FILE005",
		},
	},

	// Jobs
	{
		pattern: "too many submission jobs",
		msg: UserMessage{
			Message: "System is busy submitting other batches",
			Action:  "Please wait a moment and try again",
			Code:    "JOB001",
		},
	},
	{
		pattern: "job not found",
		msg: UserMessage{
			Message: "Submission job not found",
			Action:  "The job may have expired. Check the upload results instead",
			Code:    "JOB002",
		},
	},
	{
		pattern: "record not found",
		msg: UserMessage{
			Message: "Record not found",
			Action:  "Verify the ID is correct",
			Code:    "JOB003",
		},
	},
	{
		pattern: "already succeeded",
		msg: UserMessage{
			Message: "This order was already created in Cin7",
			Action:  "No retry is needed",
			Code:    "JOB004",
		},
	},

	// Infrastructure
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "too many requests",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. The first
// matching pattern wins; ERR000 is the fallback.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// statusFor picks the HTTP status for errors returned by the job service.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, jobs.ErrTooManyJobs):
		return http.StatusTooManyRequests
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, submit.ErrAlreadySucceeded):
		return http.StatusConflict
	case errors.Is(err, submit.ErrNoCredentials):
		return http.StatusServiceUnavailable
	case errors.Is(err, submit.ErrEmptyMapping), errors.Is(err, submit.ErrNoValidRows):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case strings.HasPrefix(err.Error(), "invalid settings"):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Action  string   `json:"action,omitempty"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
}

// respondError logs the technical error (the context logger carries the
// request ID) and writes the mapped user message.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int, details ...string) {
	userMsg := MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "5")
	}
	writeJSONStatus(w, r, status, ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
		Details: details,
	})
}

// respondServiceError writes err with the status statusFor picks.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err, statusFor(err))
}

// writeJSON writes v with status 200.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	writeJSONStatus(w, r, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON. Encoding errors are logged since the
// headers are already sent.
func writeJSONStatus(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
