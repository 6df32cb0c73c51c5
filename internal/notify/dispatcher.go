// Package notify delivers a generated report to its recipient.
package notify

import (
	"context"
	"errors"
)

var (
	ErrNoRecipient  = errors.New("notification_no_recipient")
	ErrNoArtifact   = errors.New("notification_no_artifact")
	ErrDispatchFail = errors.New("notification_dispatch_failed")
)

type Recipient struct {
	Email string
	Name  string
}

// ReportNotification is one report delivery: who gets it, which period it
// covers and the rendered artifact.
type ReportNotification struct {
	ReportID         string
	Recipient        Recipient
	OrganizationName string
	ReportKind       string
	PeriodStart      string
	PeriodEnd        string
	Artifact         []byte
	ContentType      string
}

//go:generate mockgen -source=dispatcher.go -destination=./mocks/mock_dispatcher.go -package=mocks

// Dispatcher sends exactly one message per call and returns the
// provider's message id. It never retries.
type Dispatcher interface {
	DispatchReport(ctx context.Context, n ReportNotification) (string, error)
}
