// Package services – DeliveryService
//
// This file implements the asynchronous delivery phase. Accepted submissions
// are queued and a small worker pool turns each one into two outbound
// messages: a notification to the admissions inbox (with attachments) and a
// confirmation back to the sender. The two messages fail independently, every
// attempt is written to the audit log, and temporary files are removed no
// matter how delivery ends.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/meridianedu/go-admissions-backend/internal/domain"
	"github.com/meridianedu/go-admissions-backend/internal/mail"
	"github.com/meridianedu/go-admissions-backend/internal/repo"
	"github.com/meridianedu/go-admissions-backend/internal/upload"
)

// MessageSender is the transport contract required by DeliveryService; it is
// satisfied by mail.Chain and reports which transport handled the message.
type MessageSender interface {
	Send(ctx context.Context, msg *mail.Message) (string, error)
}

// DeliveryConfig tunes the worker pool and message addressing.
type DeliveryConfig struct {
	FromAddress          string
	AdminAddress         string
	AdminTemplate        string
	ConfirmationTemplate string
	Workers              int
	QueueSize            int
	Timeout              time.Duration // per-submission delivery budget
}

func (c DeliveryConfig) withDefaults() DeliveryConfig {
	if c.Workers < 1 {
		c.Workers = 2
	}
	if c.QueueSize < 1 {
		c.QueueSize = 64
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// DeliveryService owns the submission queue and its workers.
type DeliveryService struct {
	db     *gorm.DB
	sender MessageSender
	store  *upload.Store
	cfg    DeliveryConfig
	log    zerolog.Logger

	queue chan *domain.Submission
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDeliveryService builds the service. Call Start before Enqueue.
func NewDeliveryService(db *gorm.DB, sender MessageSender, store *upload.Store, cfg DeliveryConfig, log zerolog.Logger) *DeliveryService {
	cfg = cfg.withDefaults()
	return &DeliveryService{
		db:     db,
		sender: sender,
		store:  store,
		cfg:    cfg,
		log:    log,
		queue:  make(chan *domain.Submission, cfg.QueueSize),
	}
}

// Start launches the worker pool.
func (s *DeliveryService) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop closes the queue and waits for in-flight deliveries to finish.
func (s *DeliveryService) Stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Enqueue hands a submission to the pool. It never blocks past the request
// context; a full queue fails fast so the handler can report the condition.
func (s *DeliveryService) Enqueue(ctx context.Context, sub *domain.Submission) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrQueueClosed
	}
	s.mu.Unlock()

	// Stop runs only after the HTTP server has drained, so the channel
	// cannot close underneath an in-flight Enqueue.
	select {
	case s.queue <- sub:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrQueueFull, ctx.Err())
	case <-time.After(100 * time.Millisecond):
		return ErrQueueFull
	}
}

func (s *DeliveryService) worker() {
	defer s.wg.Done()
	for sub := range s.queue {
		s.process(sub)
	}
}

// process delivers both messages for one submission. File cleanup is
// unconditional, surviving panics in transports or the audit write.
func (s *DeliveryService) process(sub *domain.Submission) {
	log := s.log.With().Str("submission_id", sub.ID).Logger()
	ctx, cancel := context.WithTimeout(log.WithContext(context.Background()), s.cfg.Timeout)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("delivery worker panicked")
		}
		s.store.Remove(sub.Files)
		sub.Files = nil
		if sub.Status == domain.StatusDelivering {
			sub.Status = domain.StatusCleanedUp
		}
		cancel()
	}()

	degraded := false
	for _, msg := range []*mail.Message{s.adminMessage(sub), s.confirmationMessage(sub)} {
		transport, err := s.sender.Send(ctx, msg)
		if err != nil {
			degraded = true
			log.Error().Err(err).Str("kind", string(msg.Kind)).Msg("message delivery failed")
		}
		if _, auditErr := repo.CreateDelivery(ctx, s.db, sub.ID, msg.Kind, transport, len(msg.Attachments), err); auditErr != nil {
			log.Warn().Err(auditErr).Str("kind", string(msg.Kind)).Msg("writing delivery audit record")
		}
	}

	if degraded {
		sub.Status = domain.StatusDeliveryDegraded
	} else {
		sub.Status = domain.StatusDelivered
		log.Info().Msg("submission delivered")
	}
}

func (s *DeliveryService) adminMessage(sub *domain.Submission) *mail.Message {
	return &mail.Message{
		Kind:     domain.MessageKindAdmin,
		From:     s.cfg.FromAddress,
		To:       s.cfg.AdminAddress,
		ReplyTo:  sub.Email,
		Subject:  fmt.Sprintf("New admissions inquiry: %s", sub.Subject),
		TextBody: adminBody(sub),
		Template: s.cfg.AdminTemplate,
		Data: map[string]string{
			"name":    sub.Name,
			"email":   sub.Email,
			"phone":   sub.Phone,
			"subject": sub.Subject,
			"message": sub.Message,
		},
		Attachments: sub.Files,
	}
}

func (s *DeliveryService) confirmationMessage(sub *domain.Submission) *mail.Message {
	return &mail.Message{
		Kind:     domain.MessageKindConfirmation,
		From:     s.cfg.FromAddress,
		To:       sub.Email,
		Subject:  "We received your inquiry",
		TextBody: confirmationBody(sub),
		Template: s.cfg.ConfirmationTemplate,
		Data: map[string]string{
			"name":    sub.Name,
			"subject": sub.Subject,
		},
	}
}

func adminBody(sub *domain.Submission) string {
	return fmt.Sprintf(
		"Name: %s\nEmail: %s\nPhone: %s\nSubject: %s\nAttachments: %d\n\n%s\n",
		sub.Name, sub.Email, sub.Phone, sub.Subject, len(sub.Files), sub.Message,
	)
}

func confirmationBody(sub *domain.Submission) string {
	return fmt.Sprintf(
		"Dear %s,\n\nThank you for contacting the admissions office. We received your message regarding %q and will reply as soon as possible.\n\nThis is an automated confirmation; replies to this address are not monitored.\n",
		sub.Name, sub.Subject,
	)
}
