// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints,
// including structured error envelopes, consistent JSON serialization, and
// helpers for common HTTP patterns. The goal is to guarantee uniform responses
// for both success and failure cases, making the API predictable and
// machine-friendly.
//
// Conventions:
//   - All error responses must return an ErrorResponse with a stable `code`.
//   - `fail()` centralizes error logging and formatting, ensuring 5xx responses
//     are logged with request context for observability.
//   - Attachment rejections additionally itemize per-file failures so the
//     sender can fix exactly the offending upload.
//
// Example error response:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "file_rejected",
//	  "message": "one or more attachments failed security validation",
//	  "files": [
//	    { "file": "payload.exe", "stage": "extension", "reason": "file type not allowed" }
//	  ]
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meridianedu/go-admissions-backend/internal/http/middleware"
	"github.com/meridianedu/go-admissions-backend/internal/upload"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// Fields:
//   - RequestID: Optional correlation ID, echoed from X-Request-ID header, used
//     to correlate server logs with client-side errors.
//   - Code: A stable, machine-readable string (see errors.go constants).
//   - Message: A human-readable error description, safe for display to users.
//   - Files: Optional per-attachment failures; only set for file_rejected.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"file_rejected"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"one or more attachments failed security validation"`
	// Per-file rejection details, when applicable
	Files []FileErrorDetail `json:"files,omitempty"`
}

// FileErrorDetail describes why a single attachment was rejected.
type FileErrorDetail struct {
	File   string `json:"file" example:"payload.exe"`
	Stage  string `json:"stage" example:"extension"`
	Reason string `json:"reason" example:"file type not allowed"`
}

// fail aborts the request with a structured error and logs server-side errors.
//
// It constructs an ErrorResponse, writes it as JSON with the given HTTP status,
// and calls gin.Context.AbortWithStatusJSON to stop further processing.
//
// Server errors (>=500) are logged using the request-scoped logger from middleware.
func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, ErrorResponse{Code: code, Message: msg})
}

// failFiles aborts with file_rejected and itemizes the failed attachments.
func failFiles(c *gin.Context, batch *upload.BatchError) {
	resp := ErrorResponse{
		Code:    ErrCodeFileRejected,
		Message: "one or more attachments failed security validation",
	}
	for _, fe := range batch.Files {
		resp.Files = append(resp.Files, FileErrorDetail{
			File:   fe.FileName,
			Stage:  fe.Stage,
			Reason: fe.Reason,
		})
	}
	failWith(c, http.StatusBadRequest, resp)
}

func failWith(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")

	// Log 5xx (server-side) with request-scoped logger
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", resp.Code).
			Str("message", resp.Message).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
//
// It serializes `body` as JSON with the given HTTP status code.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
