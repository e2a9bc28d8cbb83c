package notifications

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

//go:embed templates/*.txt
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.txt"))

// Kind тип письма
type Kind string

const (
	KindPasswordReset Kind = "password_reset"
)

// LogStore журнал отправленных писем
type LogStore interface {
	CreateLog(ctx context.Context, entry *EmailLog) error
}

// Service предоставляет функции для отправки уведомлений
type Service struct {
	sender   Sender
	log      LogStore
	siteName string
	logger   *zap.Logger
}

// NewService создает новый сервис уведомлений
func NewService(sender Sender, log LogStore, siteName string, logger *zap.Logger) *Service {
	return &Service{
		sender:   sender,
		log:      log,
		siteName: siteName,
		logger:   logger,
	}
}

// SendPasswordReset отправляет ссылку сброса пароля
func (s *Service) SendPasswordReset(ctx context.Context, user *users.User, resetURL string) error {
	data := struct {
		SiteName string
		ResetURL string
		Email    string
	}{s.siteName, resetURL, user.Email}

	subject, err := render("password_reset_subject.txt", data)
	if err != nil {
		return err
	}
	// заголовок письма должен быть однострочным
	subject = strings.Join(strings.Fields(subject), " ")

	body, err := render("password_reset_email.txt", data)
	if err != nil {
		return err
	}

	sendErr := s.sender.Send(ctx, user.Email, subject, body)
	s.record(ctx, user, subject, KindPasswordReset, sendErr)
	if sendErr != nil {
		return fmt.Errorf("failed to send password reset: %w", sendErr)
	}

	s.logger.Info("Password reset email sent", zap.String("user_id", user.ID.String()))
	return nil
}

func (s *Service) record(ctx context.Context, user *users.User, subject string, kind Kind, sendErr error) {
	if s.log == nil {
		return
	}
	entry := &EmailLog{
		ID:        uuid.New(),
		Recipient: user.Email,
		Subject:   subject,
		Kind:      kind,
		Status:    StatusSent,
		UserID:    &user.ID,
	}
	if sendErr != nil {
		entry.Status = StatusFailed
		entry.Error = sendErr.Error()
	}
	if err := s.log.CreateLog(ctx, entry); err != nil {
		s.logger.Warn("Failed to record email log", zap.Error(err), zap.String("kind", string(kind)))
	}
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}
