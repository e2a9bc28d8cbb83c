package notifications

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sender отправляет письмо
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPSender отправляет письма через SMTP сервер (STARTTLS, если сервер его поддерживает)
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPSender создает SMTP отправителя
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	msg := buildMessage(s.from, to, subject, body, time.Now())
	if err := smtp.SendMail(addr, auth, s.from, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

func buildMessage(from, to, subject, body string, date time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// ConsoleSender печатает письма в writer; используется, когда SMTP не настроен
type ConsoleSender struct {
	mu   sync.Mutex
	out  io.Writer
	from string
}

func NewConsoleSender(out io.Writer, from string) *ConsoleSender {
	return &ConsoleSender{out: out, from: from}
}

func (c *ConsoleSender) Send(_ context.Context, to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := buildMessage(c.from, to, subject, body, time.Now())
	if _, err := fmt.Fprintf(c.out, "%s\n%s\n", msg, strings.Repeat("-", 79)); err != nil {
		return fmt.Errorf("failed to write email: %w", err)
	}
	return nil
}
