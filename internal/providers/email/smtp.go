package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/oklog/ulid/v2"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPProvider struct {
	cfg      Config
	sendMail sendMailFunc
	domain   string
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, sendMail: smtp.SendMail, domain: cfg.Host}
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", ulid.Make().String(), p.domain)
	raw, err := buildMIME(msg, messageID)
	if err != nil {
		return "", err
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	to := make([]string, 0, len(msg.To))
	for _, rcpt := range msg.To {
		to = append(to, rcpt.Email)
	}
	if err := p.sendMail(addr, auth, msg.From.Email, to, raw); err != nil {
		return "", fmt.Errorf("%w: smtp: %v", ErrSendFailed, err)
	}
	return messageID, nil
}

func buildMIME(msg Message, messageID string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	recipients := make([]string, 0, len(msg.To))
	for _, rcpt := range msg.To {
		recipients = append(recipients, formatAddress(rcpt))
	}

	header := &bytes.Buffer{}
	fmt.Fprintf(header, "From: %s\r\n", formatAddress(msg.From))
	fmt.Fprintf(header, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(header, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(header, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(header, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(header, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	body, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {`text/html; charset="UTF-8"`},
	})
	if err != nil {
		return nil, err
	}
	if _, err := body.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		part, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("%s; name=%q", att.ContentType, att.Name)},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", att.Name)},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64Lines(part, att.Content); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return append(header.Bytes(), buf.Bytes()...), nil
}

// writeBase64Lines wraps encoded content at 76 columns.
func writeBase64Lines(w io.Writer, content []byte) error {
	encoded := base64.StdEncoding.EncodeToString(content)
	for len(encoded) > 0 {
		n := 76
		if len(encoded) < n {
			n = len(encoded)
		}
		if _, err := w.Write([]byte(encoded[:n] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}

func formatAddress(a Address) string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", a.Name), a.Email)
}
