package services

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/meridianedu/go-admissions-backend/internal/abuse"
	"github.com/meridianedu/go-admissions-backend/internal/domain"
	"github.com/meridianedu/go-admissions-backend/internal/upload"
	"github.com/meridianedu/go-admissions-backend/internal/verify"
)

type stubChecker struct {
	result verify.Result
	calls  int
}

func (s *stubChecker) Check(_ context.Context, _, _ string) verify.Result {
	s.calls++
	return s.result
}

type stubQueue struct {
	err  error
	subs []*domain.Submission
}

func (s *stubQueue) Enqueue(_ context.Context, sub *domain.Submission) error {
	if s.err != nil {
		return s.err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func newIntake(t *testing.T, checker *stubChecker, queue *stubQueue) (*IntakeService, *abuse.MemoryTracker) {
	t.Helper()
	tracker := abuse.NewMemoryTracker(abuse.Options{})
	return &IntakeService{
		Tracker:   tracker,
		Store:     &upload.Store{Dir: t.TempDir(), MaxFiles: 5},
		Validator: &upload.Validator{MaxFileBytes: 1 << 20, Parallelism: 2},
		Checker:   checker,
		Delivery:  queue,
	}, tracker
}

func pdfHeaders(t *testing.T, name string) []*multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="documents"; filename="`+name+`"`)
	h.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write([]byte("%PDF-1.4 admissions essay with plenty of body text"))
	w.Close()

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["documents"]
}

func baseInput() SubmitInput {
	return SubmitInput{
		RemoteIP: "198.51.100.7",
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Subject:  "Transfer credits",
		Message:  "Hello, I would like to ask about transferring credits from another university.",
		Token:    "tok",
		Form:     url.Values{"name": {"Ada Lovelace"}},
	}
}

func testCtx() context.Context {
	return zerolog.Nop().WithContext(context.Background())
}

func TestSubmitAccepted(t *testing.T) {
	checker := &stubChecker{result: verify.Result{Passed: true, Score: 0.9}}
	queue := &stubQueue{}
	svc, tracker := newIntake(t, checker, queue)

	in := baseInput()
	in.Files = pdfHeaders(t, "essay.pdf")

	sub, err := svc.Submit(testCtx(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Status != domain.StatusDelivering || !sub.Verified || sub.Score != 0.9 {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if len(queue.subs) != 1 || len(queue.subs[0].Files) != 1 {
		t.Fatalf("expected one queued submission with one file")
	}
	if got := tracker.EventCount(in.RemoteIP); got != 1 {
		t.Fatalf("event count = %d, want 1", got)
	}
}

func TestSubmitHoneypot(t *testing.T) {
	checker := &stubChecker{result: verify.Result{Passed: true}}
	queue := &stubQueue{}
	svc, tracker := newIntake(t, checker, queue)

	ctx := testCtx()
	in := baseInput()
	in.Form.Set("website", "http://spam.example")
	in.Files = pdfHeaders(t, "essay.pdf")

	sub, err := svc.Submit(ctx, in)
	if !errors.Is(err, ErrHoneypot) {
		t.Fatalf("err = %v, want ErrHoneypot", err)
	}
	if sub.Status != domain.StatusRejected {
		t.Fatalf("status = %s", sub.Status)
	}
	if checker.calls != 0 {
		t.Fatalf("verification must not run for honeypot hits")
	}
	if len(queue.subs) != 0 {
		t.Fatalf("honeypot submission must not be queued")
	}
	if blocked, _ := tracker.IsBlocked(ctx, in.RemoteIP); !blocked {
		t.Fatalf("honeypot hit must block the sender IP")
	}
	if entries, _ := os.ReadDir(svc.Store.Dir); len(entries) != 0 {
		t.Fatalf("temp dir should be empty after honeypot rejection")
	}
}

func TestSubmitSpam(t *testing.T) {
	svc, tracker := newIntake(t, &stubChecker{result: verify.Result{Passed: true}}, &stubQueue{})

	ctx := testCtx()
	in := baseInput()
	in.Message = "XKCDQWRTYPLM ZXQWVBNMKLPJ HGFDSAQWERTY"

	sub, err := svc.Submit(ctx, in)
	if !errors.Is(err, ErrSpamContent) {
		t.Fatalf("err = %v, want ErrSpamContent", err)
	}
	if !sub.SpamFlag {
		t.Fatalf("SpamFlag not set")
	}
	if blocked, _ := tracker.IsBlocked(ctx, in.RemoteIP); !blocked {
		t.Fatalf("spam classification must block the sender IP")
	}
}

func TestSubmitVerificationFailureCountsTowardBlock(t *testing.T) {
	checker := &stubChecker{result: verify.Result{Passed: false, Score: 0.1}}
	svc, tracker := newIntake(t, checker, &stubQueue{})

	ctx := testCtx()
	for i := 0; i < 3; i++ {
		if _, err := svc.Submit(ctx, baseInput()); !errors.Is(err, ErrVerificationFailed) {
			t.Fatalf("attempt %d: err = %v, want ErrVerificationFailed", i+1, err)
		}
	}
	blocked, err := tracker.IsBlocked(ctx, baseInput().RemoteIP)
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if !blocked {
		t.Fatalf("three verification failures should block the IP")
	}
}

func TestSubmitRejectedFilesAreRemoved(t *testing.T) {
	svc, _ := newIntake(t, &stubChecker{result: verify.Result{Passed: true}}, &stubQueue{})

	in := baseInput()
	in.Files = pdfHeaders(t, "payload.exe")

	sub, err := svc.Submit(testCtx(), in)
	var batch *upload.BatchError
	if !errors.As(err, &batch) {
		t.Fatalf("err = %v, want *upload.BatchError", err)
	}
	if sub.Status != domain.StatusRejected || len(sub.Files) != 0 {
		t.Fatalf("rejected submission must not retain files: %+v", sub)
	}
	if entries, _ := os.ReadDir(svc.Store.Dir); len(entries) != 0 {
		t.Fatalf("temp dir should be empty after rejection, found %d entries", len(entries))
	}
}

func TestSubmitQueueFailureCleansUp(t *testing.T) {
	queue := &stubQueue{err: ErrQueueFull}
	svc, _ := newIntake(t, &stubChecker{result: verify.Result{Passed: true}}, queue)

	in := baseInput()
	in.Files = pdfHeaders(t, "essay.pdf")

	if _, err := svc.Submit(testCtx(), in); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if entries, _ := os.ReadDir(svc.Store.Dir); len(entries) != 0 {
		t.Fatalf("temp dir should be empty after queue failure")
	}
}
