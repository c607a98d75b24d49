package web

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/JonMunkholm/cin7sync/internal/jobs"
	"github.com/JonMunkholm/cin7sync/internal/store"
	"github.com/JonMunkholm/cin7sync/internal/submit"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "cin7 401",
			err:      errors.New("Authentication failed. Check your credentials."),
			wantCode: "CIN001",
		},
		{
			name:     "cin7 429",
			err:      errors.New("Rate limit exceeded. Please wait and try again."),
			wantCode: "CIN002",
		},
		{
			name:     "missing credentials",
			err:      fmt.Errorf("%w: account id required", submit.ErrNoCredentials),
			wantCode: "CIN003",
		},
		{
			name:     "cin7 timeout",
			err:      errors.New("Request timeout"),
			wantCode: "CIN004",
		},
		{
			name:     "bad date",
			err:      errors.New("Invalid date format for SaleDate: 31/31/2024"),
			wantCode: "VAL001",
		},
		{
			name:     "workbook",
			err:      errors.New("Error reading workbook orders.xlsx: zip: not a valid zip file"),
			wantCode: "FILE002",
		},
		{
			name:     "encoding",
			err:      errors.New("Could not decode file orders.csv. Please ensure it's UTF-8 or Latin-1 encoded."),
			wantCode: "FILE003",
		},
		{
			name:     "busy",
			err:      jobs.ErrTooManyJobs,
			wantCode: "JOB001",
		},
		{
			name:     "missing result",
			err:      fmt.Errorf("load result: %w", store.ErrNotFound),
			wantCode: "JOB003",
		},
		{
			name:     "unknown error returns default",
			err:      errors.New("some random internal error"),
			wantCode: "ERR000",
		},
		{
			name:     "case insensitive matching",
			err:      errors.New("AUTHENTICATION FAILED"),
			wantCode: "CIN001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(jobs.ErrTooManyJobs)
	want := "System is busy submitting other batches (Code: JOB001). Please wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{jobs.ErrTooManyJobs, http.StatusTooManyRequests},
		{jobs.ErrJobNotFound, http.StatusNotFound},
		{fmt.Errorf("load result: %w", store.ErrNotFound), http.StatusNotFound},
		{submit.ErrAlreadySucceeded, http.StatusConflict},
		{submit.ErrNoCredentials, http.StatusServiceUnavailable},
		{submit.ErrEmptyMapping, http.StatusBadRequest},
		{errors.New("invalid settings:\n  - DefaultCurrency failed \"len\""), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
