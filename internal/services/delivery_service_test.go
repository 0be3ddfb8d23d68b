package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/meridianedu/go-admissions-backend/internal/domain"
	"github.com/meridianedu/go-admissions-backend/internal/mail"
	"github.com/meridianedu/go-admissions-backend/internal/repo"
	"github.com/meridianedu/go-admissions-backend/internal/upload"
)

type stubSender struct {
	mu        sync.Mutex
	fail      map[domain.MessageKind]error
	panicKind domain.MessageKind
	sent      []*mail.Message
}

func (s *stubSender) Send(_ context.Context, msg *mail.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicKind != "" && msg.Kind == s.panicKind {
		panic("transport exploded")
	}
	if err := s.fail[msg.Kind]; err != nil {
		return "", err
	}
	s.sent = append(s.sent, msg)
	return "provider", nil
}

func deliveryFixture(t *testing.T, sender *stubSender) (*DeliveryService, *gorm.DB, *upload.Store) {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	store := &upload.Store{Dir: t.TempDir(), MaxFiles: 5}
	svc := NewDeliveryService(db, sender, store, DeliveryConfig{
		FromAddress:  "no-reply@meridian.edu",
		AdminAddress: "admissions@meridian.edu",
		Workers:      1,
		QueueSize:    4,
		Timeout:      5 * time.Second,
	}, zerolog.Nop())
	return svc, db, store
}

func tempFile(t *testing.T, store *upload.Store) domain.UploadedFile {
	t.Helper()
	f, err := os.CreateTemp(store.Dir, "intake-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	f.WriteString("%PDF-1.4 body")
	f.Close()
	return domain.UploadedFile{
		DiskPath:      f.Name(),
		SanitizedName: "essay.pdf",
		DeclaredMime:  "application/pdf",
		SizeBytes:     13,
	}
}

func submission(files ...domain.UploadedFile) *domain.Submission {
	return &domain.Submission{
		ID:       "11111111-2222-3333-4444-555555555555",
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Subject:  "Transfer credits",
		Message:  "Question about transfer credits.",
		Files:    files,
		Status:   domain.StatusDelivering,
		Verified: true,
	}
}

func TestDeliveryBothMessagesSent(t *testing.T) {
	sender := &stubSender{}
	svc, db, store := deliveryFixture(t, sender)
	sub := submission(tempFile(t, store))

	svc.Start()
	if err := svc.Enqueue(context.Background(), sub); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	svc.Stop()

	if sub.Status != domain.StatusDelivered {
		t.Fatalf("status = %s, want delivered", sub.Status)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sender.sent))
	}
	admin, confirm := sender.sent[0], sender.sent[1]
	if admin.Kind != domain.MessageKindAdmin || admin.To != "admissions@meridian.edu" || admin.ReplyTo != "ada@example.com" {
		t.Fatalf("unexpected admin message: %+v", admin)
	}
	if len(admin.Attachments) != 1 {
		t.Fatalf("admin message should carry the attachment")
	}
	if confirm.Kind != domain.MessageKindConfirmation || confirm.To != "ada@example.com" || len(confirm.Attachments) != 0 {
		t.Fatalf("unexpected confirmation message: %+v", confirm)
	}

	records, err := repo.ListDeliveriesPage(context.Background(), db, 0, 10)
	if err != nil {
		t.Fatalf("ListDeliveriesPage: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(records))
	}
	for _, r := range records {
		if r.Status != domain.DeliveryStatusSent || r.Transport != "provider" {
			t.Fatalf("unexpected audit row: %+v", r)
		}
	}
	if entries, _ := os.ReadDir(store.Dir); len(entries) != 0 {
		t.Fatalf("temp files must be removed after delivery")
	}
}

func TestDeliveryPartialFailureIsDegraded(t *testing.T) {
	sender := &stubSender{fail: map[domain.MessageKind]error{
		domain.MessageKindConfirmation: errors.New("all transports failed"),
	}}
	svc, db, store := deliveryFixture(t, sender)
	sub := submission(tempFile(t, store))

	svc.Start()
	if err := svc.Enqueue(context.Background(), sub); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	svc.Stop()

	if sub.Status != domain.StatusDeliveryDegraded {
		t.Fatalf("status = %s, want delivery_degraded", sub.Status)
	}
	// Admin message still went out despite the confirmation failing.
	if len(sender.sent) != 1 || sender.sent[0].Kind != domain.MessageKindAdmin {
		t.Fatalf("admin message should be unaffected: %+v", sender.sent)
	}

	records, err := repo.ListDeliveriesPage(context.Background(), db, 0, 10)
	if err != nil {
		t.Fatalf("ListDeliveriesPage: %v", err)
	}
	var failed, sent int
	for _, r := range records {
		switch r.Status {
		case domain.DeliveryStatusFailed:
			failed++
			if r.Error == "" || r.Transport != "" {
				t.Fatalf("failed row should carry the error and no transport: %+v", r)
			}
		case domain.DeliveryStatusSent:
			sent++
		}
	}
	if failed != 1 || sent != 1 {
		t.Fatalf("failed=%d sent=%d, want 1/1", failed, sent)
	}
	if entries, _ := os.ReadDir(store.Dir); len(entries) != 0 {
		t.Fatalf("temp files must be removed even on partial failure")
	}
}

func TestDeliveryCleansUpAfterPanic(t *testing.T) {
	sender := &stubSender{panicKind: domain.MessageKindAdmin}
	svc, _, store := deliveryFixture(t, sender)
	sub := submission(tempFile(t, store))

	svc.Start()
	if err := svc.Enqueue(context.Background(), sub); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	svc.Stop()

	if entries, _ := os.ReadDir(store.Dir); len(entries) != 0 {
		t.Fatalf("temp files must be removed after a worker panic")
	}
	if sub.Status != domain.StatusCleanedUp {
		t.Fatalf("status = %s, want cleaned_up", sub.Status)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	svc, _, _ := deliveryFixture(t, &stubSender{})
	svc.Start()
	svc.Stop()
	if err := svc.Enqueue(context.Background(), submission()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}

func TestEnqueueFullQueue(t *testing.T) {
	// No workers started, queue size 4 fills up.
	svc, _, _ := deliveryFixture(t, &stubSender{})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := svc.Enqueue(ctx, submission()); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
	}
	if err := svc.Enqueue(ctx, submission()); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}
