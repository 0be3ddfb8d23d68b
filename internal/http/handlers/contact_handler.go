// Contact HTTP handlers.
//
// This file exposes the public contact-form endpoint:
//   - POST /contact/submit   (multipart form with optional attachments)
//
// Handlers are transport-thin: they validate input shape, call the intake
// service, and translate pipeline outcomes into HTTP responses. Abuse
// rejections share one generic body so the response never reveals which
// check fired.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/meridianedu/go-admissions-backend/internal/domain"
	"github.com/meridianedu/go-admissions-backend/internal/http/middleware"
	"github.com/meridianedu/go-admissions-backend/internal/services"
	"github.com/meridianedu/go-admissions-backend/internal/upload"
)

// Submitter runs a parsed submission through the intake pipeline.
//
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type Submitter interface {
	Submit(ctx context.Context, in services.SubmitInput) (*domain.Submission, error)
}

// Field length bounds for the contact form.
const (
	maxNameLen    = 120
	maxSubjectLen = 200
	maxMessageLen = 5000
	maxPhoneLen   = 32
)

// SubmitResponse is the success body of POST /contact/submit.
type SubmitResponse struct {
	Success bool              `json:"success" example:"true"`
	Message string            `json:"message" example:"Your message has been received."`
	Data    SubmitResponseDTO `json:"data"`
}

// SubmitResponseDTO echoes the accepted submission metadata. No identifiers
// or file contents are returned.
type SubmitResponseDTO struct {
	Name           string `json:"name" example:"Ada Lovelace"`
	Email          string `json:"email" example:"ada@example.com"`
	Subject        string `json:"subject" example:"Transfer credits"`
	DocumentsCount int    `json:"documentsCount" example:"2"`
}

// SubmitContact godoc
// @ID          submitContact
// @Summary     Submit a contact-form inquiry
// @Description Accepts a multipart form with optional document attachments,
// @Description runs it through the security pipeline, and queues delivery to
// @Description the admissions office.
// @Tags        Contact
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       name             formData  string  true   "Sender name"
// @Param       email            formData  string  true   "Sender email"
// @Param       phone            formData  string  false  "Phone number"
// @Param       subject          formData  string  true   "Inquiry subject"
// @Param       message          formData  string  true   "Inquiry body"
// @Param       recaptcha_token  formData  string  false  "Human-verification token"
// @Param       documents        formData  file    false  "Attachments (repeatable)"
//
// @Success     200  {object}  handlers.SubmitResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or rejected submission"
// @Failure     403  {object}  handlers.ErrorResponse  "Blocked sender"
// @Failure     429  {object}  handlers.ErrorResponse  "Submission limit reached"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Failure     503  {object}  handlers.ErrorResponse  "Delivery queue saturated"
// @Router      /contact/submit [post]
func (h *Handlers) SubmitContact(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid multipart form")
		return
	}

	field := func(name string) string {
		if vs := form.Value[name]; len(vs) > 0 {
			return strings.TrimSpace(vs[0])
		}
		return ""
	}

	in := services.SubmitInput{
		RemoteIP: c.ClientIP(),
		Name:     field("name"),
		Email:    field("email"),
		Phone:    field("phone"),
		Subject:  field("subject"),
		Message:  field("message"),
		Token:    field("recaptcha_token"),
		Form:     url.Values(form.Value),
		Files:    form.File["documents"],
	}

	if msg := validateSubmitInput(in); msg != "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
		return
	}

	// The pipeline logs through the context, so attach the request-scoped
	// logger before handing off.
	ctx := middleware.LoggerFrom(c).WithContext(c.Request.Context())

	sub, err := h.intake.Submit(ctx, in)
	switch {
	case err == nil:
		// Queued for delivery.
	case errors.Is(err, services.ErrHoneypot), errors.Is(err, services.ErrSpamContent):
		// Generic rejection: the detection reason is never disclosed.
		fail(c, http.StatusBadRequest, ErrCodeSubmissionRejected, "submission could not be processed")
		return
	case errors.Is(err, services.ErrVerificationFailed):
		fail(c, http.StatusBadRequest, ErrCodeSubmissionRejected, "submission could not be processed")
		return
	case errors.Is(err, upload.ErrTooManyFiles):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "too many attachments")
		return
	case errors.Is(err, services.ErrQueueFull), errors.Is(err, services.ErrQueueClosed):
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "service is busy, please try again")
		return
	default:
		var batch *upload.BatchError
		if errors.As(err, &batch) {
			failFiles(c, batch)
			return
		}
		middleware.LoggerFrom(c).Error().Err(err).Msg("intake pipeline error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		return
	}

	ok(c, http.StatusOK, SubmitResponse{
		Success: true,
		Message: "Your message has been received. The admissions office will get back to you shortly.",
		Data: SubmitResponseDTO{
			Name:           sub.Name,
			Email:          sub.Email,
			Subject:        sub.Subject,
			DocumentsCount: len(in.Files),
		},
	})
}

// validateSubmitInput checks required fields, length bounds, and address
// syntax. It returns an empty string when the input is acceptable.
func validateSubmitInput(in services.SubmitInput) string {
	switch {
	case in.Name == "":
		return "name is required"
	case utf8.RuneCountInString(in.Name) > maxNameLen:
		return "name is too long"
	case in.Email == "":
		return "email is required"
	case in.Subject == "":
		return "subject is required"
	case utf8.RuneCountInString(in.Subject) > maxSubjectLen:
		return "subject is too long"
	case in.Message == "":
		return "message is required"
	case utf8.RuneCountInString(in.Message) > maxMessageLen:
		return "message is too long"
	case utf8.RuneCountInString(in.Phone) > maxPhoneLen:
		return "phone number is too long"
	}

	if _, err := mail.ParseAddress(in.Email); err != nil {
		return "email address is invalid"
	}

	// Name, email, and subject end up in outbound mail headers; reject CR/LF
	// to close the header-injection vector.
	for _, v := range []string{in.Name, in.Email, in.Subject} {
		if strings.ContainsAny(v, "\r\n") {
			return "fields must not contain line breaks"
		}
	}
	return ""
}
