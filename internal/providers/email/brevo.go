package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const brevoSendPath = "/v3/smtp/email"

type BrevoConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// BrevoProvider sends through the Brevo transactional email API.
type BrevoProvider struct {
	cfg    BrevoConfig
	client *http.Client
}

func NewBrevo(cfg BrevoConfig, client *http.Client) *BrevoProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.brevo.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &BrevoProvider{cfg: cfg, client: client}
}

func (p *BrevoProvider) Name() string { return "brevo" }

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoAttachment struct {
	Content string `json:"content"`
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
}

type brevoRequest struct {
	Sender      brevoContact      `json:"sender"`
	To          []brevoContact    `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	Attachment  []brevoAttachment `json:"attachment,omitempty"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (p *BrevoProvider) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}

	payload := brevoRequest{
		Sender:      brevoContact{Email: msg.From.Email, Name: msg.From.Name},
		Subject:     msg.Subject,
		HTMLContent: msg.HTMLBody,
	}
	for _, to := range msg.To {
		payload.To = append(payload.To, brevoContact{Email: to.Email, Name: to.Name})
	}
	for _, att := range msg.Attachments {
		payload.Attachment = append(payload.Attachment, brevoAttachment{
			Content: base64.StdEncoding.EncodeToString(att.Content),
			Name:    att.Name,
			Type:    att.ContentType,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+brevoSendPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("api-key", p.cfg.APIKey)
	req.Header.Set("content-type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: brevo: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: brevo: read response: %v", ErrSendFailed, err)
	}

	var decoded brevoResponse
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := decoded.Message
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("%w: brevo: status %d: %s", ErrSendFailed, resp.StatusCode, detail)
	}
	if decoded.MessageID == "" {
		return "", fmt.Errorf("%w: brevo: response without messageId", ErrSendFailed)
	}
	return decoded.MessageID, nil
}
