// Package services defines the business logic of the contact-intake
// pipeline. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrHoneypot is returned when a decoy form field was filled in. Handlers
	// respond with a generic rejection that never names the detection, and
	// the sender IP is blocked.
	ErrHoneypot = errors.New("honeypot field filled")

	// ErrSpamContent is returned when the message body matched the spam
	// heuristics.
	ErrSpamContent = errors.New("message classified as spam")

	// ErrVerificationFailed is returned when the human-verification provider
	// rejected the token or scored it below the threshold.
	ErrVerificationFailed = errors.New("human verification failed")

	// ErrQueueFull is returned when the delivery queue cannot accept another
	// submission before the request deadline.
	ErrQueueFull = errors.New("delivery queue full")

	// ErrQueueClosed is returned when a submission arrives after delivery
	// shutdown has begun.
	ErrQueueClosed = errors.New("delivery queue closed")
)
