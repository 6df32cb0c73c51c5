package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

var (
	ErrInvalidMessage = errors.New("invalid_email_message")
	ErrSendFailed     = errors.New("email_send_failed")
)

type Address struct {
	Email string
	Name  string
}

type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

type Message struct {
	From        Address
	To          []Address
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Provider sends one message and returns the provider's message id.
// Implementations do not retry.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (string, error)
}

func (m Message) validate() error {
	if strings.TrimSpace(m.From.Email) == "" {
		return fmt.Errorf("%w: sender is required", ErrInvalidMessage)
	}
	if len(m.To) == 0 {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	for _, to := range m.To {
		if strings.TrimSpace(to.Email) == "" {
			return fmt.Errorf("%w: recipient email is required", ErrInvalidMessage)
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	return nil
}

type NoOpProvider struct{}

func (p *NoOpProvider) Name() string { return "noop" }

func (p *NoOpProvider) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}
	return "noop-" + ulid.Make().String(), nil
}
