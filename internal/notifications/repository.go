// Package notifications отправляет письма пользователям и ведет журнал отправки
package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Статусы отправки письма
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// EmailLog запись журнала отправки
type EmailLog struct {
	ID        uuid.UUID  `db:"id"`
	Recipient string     `db:"recipient"`
	Subject   string     `db:"subject"`
	Kind      Kind       `db:"kind"`
	Status    string     `db:"status"`
	Error     string     `db:"error"`
	UserID    *uuid.UUID `db:"user_id"`
	CreatedAt time.Time  `db:"created_at"`
}

// Repository предоставляет доступ к журналу писем
type Repository struct {
	db *sql.DB
}

// NewRepository создает новый репозиторий журнала
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateLog сохраняет запись об отправке
func (r *Repository) CreateLog(ctx context.Context, entry *EmailLog) error {
	query := `
		INSERT INTO email_log (id, recipient, subject, kind, status, error, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	var errText sql.NullString
	if entry.Error != "" {
		errText = sql.NullString{String: entry.Error, Valid: true}
	}
	var userID interface{}
	if entry.UserID != nil {
		userID = *entry.UserID
	}

	err := r.db.QueryRowContext(ctx, query,
		entry.ID,
		entry.Recipient,
		entry.Subject,
		string(entry.Kind),
		entry.Status,
		errText,
		userID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create email log: %w", err)
	}
	return nil
}

// ListRecent получает последние записи журнала
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]EmailLog, error) {
	query := `
		SELECT id, recipient, subject, kind, status, error, user_id, created_at
		FROM email_log
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query email log: %w", err)
	}
	defer rows.Close()

	var entries []EmailLog
	for rows.Next() {
		var (
			entry   EmailLog
			kind    string
			errText sql.NullString
			userID  uuid.NullUUID
		)
		if err := rows.Scan(&entry.ID, &entry.Recipient, &entry.Subject, &kind, &entry.Status,
			&errText, &userID, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan email log: %w", err)
		}
		entry.Kind = Kind(kind)
		entry.Error = errText.String
		if userID.Valid {
			id := userID.UUID
			entry.UserID = &id
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return entries, nil
}
