package cin7

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// CallRecord describes one HTTP attempt against the API.
type CallRecord struct {
	Endpoint     string            `json:"endpoint"`
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers"`
	RequestBody  json.RawMessage   `json:"request_body,omitempty"`
	Status       int               `json:"status,omitempty"`
	ResponseBody json.RawMessage   `json:"response_body,omitempty"`
	Error        string            `json:"error,omitempty"`
	DurationMS   int64             `json:"duration_ms"`
}

// Observer receives a record for every call attempt, successful or not.
type Observer interface {
	ObserveCall(ctx context.Context, rec CallRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec CallRecord)

// ObserveCall calls f.
func (f ObserverFunc) ObserveCall(ctx context.Context, rec CallRecord) {
	f(ctx, rec)
}

type multiObserver []Observer

// Observers fans a record out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) ObserveCall(ctx context.Context, rec CallRecord) {
	for _, o := range m {
		o.ObserveCall(ctx, rec)
	}
}

// sensitiveHeaders never reach an observer.
var sensitiveHeaders = map[string]bool{
	"api-auth-applicationkey": true,
	"authorization":           true,
}

func sanitizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// notify delivers rec to the observer. A panicking observer is logged and
// never fails the call.
func (c *Client) notify(ctx context.Context, rec CallRecord) {
	if c.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cin7 observer panic",
				slog.String("endpoint", rec.Endpoint),
				slog.Any("panic", r),
			)
		}
	}()
	c.observer.ObserveCall(ctx, rec)
}
