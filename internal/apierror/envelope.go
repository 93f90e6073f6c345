// Package apierror defines the uniform client response envelope and the
// translation of internal failures into it.
package apierror

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/streamflix/gateway/internal/util"
)

// Envelope is the body of every response the gateway produces itself.
type Envelope struct {
	Success       bool       `json:"success"`
	Data          any        `json:"data,omitempty"`
	Error         *ErrorInfo `json:"error,omitempty"`
	Pagination    *PageInfo  `json:"pagination,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	CorrelationID string     `json:"correlationId,omitempty"`
	APIVersion    string     `json:"apiVersion,omitempty"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code             string       `json:"code"`
	Message          string       `json:"message"`
	FieldErrors      []FieldError `json:"fieldErrors,omitempty"`
	DocumentationURL string       `json:"documentationUrl,omitempty"`
	TraceID          string       `json:"traceId,omitempty"`
}

// FieldError is one input validation failure.
type FieldError struct {
	Field         string `json:"field"`
	Message       string `json:"message"`
	RejectedValue any    `json:"rejectedValue,omitempty"`
}

// PageInfo describes a page of a larger collection. Page is zero based.
type PageInfo struct {
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	HasNext       bool  `json:"hasNext"`
	HasPrevious   bool  `json:"hasPrevious"`
}

// NewPageInfo computes the derived paging fields.
func NewPageInfo(page, size int, totalElements int64) *PageInfo {
	totalPages := 0
	if size > 0 {
		totalPages = int((totalElements + int64(size) - 1) / int64(size))
	}
	return &PageInfo{
		Page:          page,
		Size:          size,
		TotalElements: totalElements,
		TotalPages:    totalPages,
		HasNext:       page < totalPages-1,
		HasPrevious:   page > 0,
	}
}

// Success builds a successful envelope around data.
func Success(data any, correlationID string) Envelope {
	return Envelope{
		Success:       true,
		Data:          data,
		Timestamp:     now(),
		CorrelationID: correlationID,
	}
}

// Failure builds an error envelope. The correlation id doubles as trace id.
func Failure(code, message, correlationID string) Envelope {
	return Envelope{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			TraceID: correlationID,
		},
		Timestamp:     now(),
		CorrelationID: correlationID,
	}
}

var now = func() time.Time { return time.Now().UTC() }

// WriteJSON writes v as a JSON response with status. It does nothing when
// w reports that the response is already committed and returns false.
func WriteJSON(w http.ResponseWriter, status int, v any) bool {
	if committed(w) {
		return false
	}
	w.Header().Set(util.HeaderContentType, util.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
	return true
}

// WriteError writes an error envelope with status.
func WriteError(w http.ResponseWriter, status int, code, message, correlationID string) bool {
	return WriteJSON(w, status, Failure(code, message, correlationID))
}

type committer interface {
	Committed() bool
}

func committed(w http.ResponseWriter) bool {
	c, ok := w.(committer)
	return ok && c.Committed()
}
