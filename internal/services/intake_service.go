// Package services – IntakeService
//
// This file implements the IntakeService, which runs a parsed contact
// submission through the security pipeline: attachment validation, honeypot
// filter, spam classification, human verification, and abuse history
// recording. Submissions that survive every stage are handed to the
// delivery queue; everything else is rejected with a service-level error the
// handler layer maps to an HTTP result.
package services

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/meridianedu/go-admissions-backend/internal/abuse"
	"github.com/meridianedu/go-admissions-backend/internal/domain"
	"github.com/meridianedu/go-admissions-backend/internal/security"
	"github.com/meridianedu/go-admissions-backend/internal/upload"
	"github.com/meridianedu/go-admissions-backend/internal/verify"
)

// intakeOutcomes counts pipeline results by terminal stage.
var intakeOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "intake_submissions_total",
		Help: "Contact submissions by pipeline outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(intakeOutcomes)
}

// HumanChecker is the verification contract required by IntakeService.
type HumanChecker interface {
	Check(ctx context.Context, token, remoteIP string) verify.Result
}

// Enqueuer accepts accepted submissions for background delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, sub *domain.Submission) error
}

// IntakeService coordinates the contact-form security pipeline.
type IntakeService struct {
	Tracker   abuse.Tracker
	Store     *upload.Store
	Validator *upload.Validator
	Checker   HumanChecker
	Delivery  Enqueuer
}

// SubmitInput carries everything the handler parsed out of the request.
type SubmitInput struct {
	RemoteIP string
	Name     string
	Email    string
	Phone    string
	Subject  string
	Message  string
	Token    string                  // human-verification token
	Form     url.Values              // all posted fields, for the honeypot filter
	Files    []*multipart.FileHeader // raw multipart attachments
}

// Submit runs the full pipeline. On success the returned submission is
// already queued for delivery and its files belong to the delivery phase.
// On any error no temporary files remain on disk.
func (s *IntakeService) Submit(ctx context.Context, in SubmitInput) (*domain.Submission, error) {
	log := zerolog.Ctx(ctx)

	sub := &domain.Submission{
		ID:        uuid.NewString(),
		RemoteIP:  in.RemoteIP,
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		Subject:   in.Subject,
		Message:   in.Message,
		Status:    domain.StatusReceived,
		CreatedAt: time.Now().UTC(),
	}

	// The rate limiter runs in middleware, so a submission that reaches the
	// pipeline has already cleared its window.
	sub.Status = domain.StatusRateChecked

	files, err := s.Store.Save(in.Files)
	if err != nil {
		intakeOutcomes.WithLabelValues("upload_error").Inc()
		return sub, fmt.Errorf("store attachments: %w", err)
	}
	sub.Files = files

	// reject rolls back the whole batch before the caller sees the error.
	reject := func() {
		sub.Status = domain.StatusRejected
		s.Store.Remove(sub.Files)
		sub.Files = nil
	}

	if err := s.Validator.ValidateBatch(ctx, files); err != nil {
		intakeOutcomes.WithLabelValues("files_rejected").Inc()
		reject()
		return sub, err
	}
	sub.Status = domain.StatusFilesValidated

	if security.TriggersHoneypot(in.Form) {
		intakeOutcomes.WithLabelValues("honeypot").Inc()
		reject()
		if err := s.Tracker.Block(ctx, in.RemoteIP); err != nil {
			log.Warn().Err(err).Msg("blocking honeypot sender failed")
		}
		log.Info().Str("submission_id", sub.ID).Msg("honeypot triggered")
		return sub, ErrHoneypot
	}

	if security.IsSpam(in.Name) || security.IsSpam(in.Subject) || security.IsSpam(in.Message) {
		sub.SpamFlag = true
		intakeOutcomes.WithLabelValues("spam").Inc()
		reject()
		if err := s.Tracker.Block(ctx, in.RemoteIP); err != nil {
			log.Warn().Err(err).Msg("blocking spam sender failed")
		}
		log.Info().Str("submission_id", sub.ID).Msg("content classified as spam")
		return sub, ErrSpamContent
	}
	sub.Status = domain.StatusContentChecked

	res := s.Checker.Check(ctx, in.Token, in.RemoteIP)
	sub.Verified = res.Passed
	sub.Score = res.Score
	if !res.Passed {
		intakeOutcomes.WithLabelValues("verification").Inc()
		reject()
		fails, err := s.Tracker.RecordVerificationFailure(ctx, in.RemoteIP)
		if err != nil {
			log.Warn().Err(err).Msg("recording verification failure")
		} else {
			log.Info().Str("submission_id", sub.ID).Int("recent_failures", fails).
				Msg("human verification failed")
		}
		return sub, ErrVerificationFailed
	}

	if err := s.Tracker.RecordEvent(ctx, in.RemoteIP); err != nil {
		// History gaps weaken rate limiting but must not lose a message.
		log.Warn().Err(err).Msg("recording submission event")
	}

	sub.Status = domain.StatusAccepted
	nfiles := len(sub.Files)

	// The delivery workers own sub once Enqueue succeeds; no field writes
	// after the handoff.
	sub.Status = domain.StatusDelivering
	if err := s.Delivery.Enqueue(ctx, sub); err != nil {
		intakeOutcomes.WithLabelValues("queue_error").Inc()
		sub.Status = domain.StatusAccepted
		s.Store.Remove(sub.Files)
		sub.Files = nil
		return sub, err
	}
	intakeOutcomes.WithLabelValues("accepted").Inc()
	log.Info().Str("submission_id", sub.ID).Int("files", nfiles).
		Msg("submission accepted and queued")
	return sub, nil
}
