// Package domain defines the core types of the contact-intake pipeline: the
// in-flight submission, its transient uploaded files, and the persisted
// delivery audit record. Only DeliveryRecord is mapped with GORM; submissions
// and their files never touch the database.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// SubmissionStatus tracks a submission through the intake pipeline.
type SubmissionStatus string

const (
	StatusReceived       SubmissionStatus = "received"
	StatusRateChecked    SubmissionStatus = "rate_checked"
	StatusFilesValidated SubmissionStatus = "files_validated"
	StatusContentChecked SubmissionStatus = "content_checked"
	StatusAccepted       SubmissionStatus = "accepted"
	StatusDelivering     SubmissionStatus = "delivering"
	StatusDelivered      SubmissionStatus = "delivered"
	// StatusDeliveryDegraded means one or both messages failed even after the
	// fallback transport; non-fatal, the client response was already sent.
	StatusDeliveryDegraded SubmissionStatus = "delivery_degraded"
	StatusRejected         SubmissionStatus = "rejected"
	StatusCleanedUp        SubmissionStatus = "cleaned_up"
)

// UploadedFile describes one attachment written to temporary storage during
// multipart parsing. The file is transient: it is removed the moment it fails
// a security check or once delivery has been attempted, whichever comes first.
type UploadedFile struct {
	DiskPath      string // absolute path of the temp file
	OriginalName  string // client-supplied filename, untrusted
	SanitizedName string // normalized name safe for logs and mail attachments
	DeclaredMime  string // Content-Type declared by the client, untrusted
	SizeBytes     int64
}

// Submission is the in-flight value combining form fields, attached files,
// and derived verdicts. It exists only for the duration of one request plus
// its background delivery phase and is never persisted.
type Submission struct {
	ID        string // UUID assigned at parse time, used for correlation
	RemoteIP  string
	Name      string
	Email     string
	Phone     string
	Subject   string
	Message   string
	Files     []UploadedFile
	Status    SubmissionStatus
	SpamFlag  bool
	Verified  bool
	Score     float64 // human-verification trust score (0.5 when failed open)
	CreatedAt time.Time
}

// MessageKind distinguishes the two outbound messages of a submission.
type MessageKind string

// Message kinds recorded in the delivery audit log.
const (
	MessageKindAdmin        MessageKind = "admin"
	MessageKindConfirmation MessageKind = "confirmation"
)

// Delivery statuses recorded in the audit log.
const (
	DeliveryStatusSent   = "sent"
	DeliveryStatusFailed = "failed"
)

// DeliveryRecord is the persisted audit entry for one message attempt of a
// submission. It captures which transport ultimately handled the message so
// the fire-and-forget delivery phase stays observable. No submission content
// or file data is stored.
type DeliveryRecord struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	SubmissionID string         `json:"submission_id" gorm:"type:char(36);not null;index:idx_submission_deliveries"`
	Kind         string         `json:"kind"          gorm:"type:varchar(16);not null;check:kind IN ('admin','confirmation')"`
	Transport    string         `json:"transport"     gorm:"type:varchar(32)"` // empty when every transport failed
	Status       string         `json:"status"        gorm:"type:varchar(16);not null;check:status IN ('sent','failed')"`
	Error        string         `json:"error,omitempty" gorm:"type:text"`
	Attachments  int            `json:"attachments"`
	CreatedAt    time.Time      `json:"created_at"    gorm:"index"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-"             gorm:"index"`
}

// TableName returns the database table name for DeliveryRecord.
func (DeliveryRecord) TableName() string { return "delivery_records" }
