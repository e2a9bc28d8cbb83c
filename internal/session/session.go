// Package session хранит серверные сессии в Redis и передает их обработчикам через context
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// ErrNotFound возвращается, когда сессии нет или срок ее жизни истек
var ErrNotFound = errors.New("session not found")

// Уровни flash-сообщений
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Message flash-сообщение, показываемое один раз
type Message struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Session данные одной сессии. ID не сериализуется: он является ключом в хранилище
type Session struct {
	ID        string    `json:"-"`
	UserID    string    `json:"user_id,omitempty"`
	AuthHash  string    `json:"auth_hash,omitempty"`
	UserType  string    `json:"user_type,omitempty"`
	CSRFToken string    `json:"csrf_token,omitempty"`
	Messages  []Message `json:"messages,omitempty"`

	modified bool
	// ключ, который нужно удалить при сохранении (после Renew/Flush)
	staleID string
}

// New создает пустую сессию без ключа; ключ выдается при первом сохранении
func New() *Session {
	return &Session{}
}

func (s *Session) Modified() bool {
	return s.modified
}

// SetUser сохраняет вошедшего пользователя
func (s *Session) SetUser(userID, authHash string) {
	s.UserID = userID
	s.AuthHash = authHash
	s.modified = true
}

// SetAuthHash обновляет хэш после смены пароля, сохраняя текущую сессию
func (s *Session) SetAuthHash(authHash string) {
	s.AuthHash = authHash
	s.modified = true
}

// SetUserType запоминает выбранную роль до регистрации
func (s *Session) SetUserType(userType string) {
	s.UserType = userType
	s.modified = true
}

// ClearUserType удаляет роль после успешной регистрации
func (s *Session) ClearUserType() {
	if s.UserType == "" {
		return
	}
	s.UserType = ""
	s.modified = true
}

// AddMessage добавляет flash-сообщение
func (s *Session) AddMessage(level, text string) {
	s.Messages = append(s.Messages, Message{Level: level, Text: text})
	s.modified = true
}

// PopMessages возвращает и удаляет накопленные сообщения
func (s *Session) PopMessages() []Message {
	if len(s.Messages) == 0 {
		return nil
	}
	msgs := s.Messages
	s.Messages = nil
	s.modified = true
	return msgs
}

// Renew выдает новый ключ, сохраняя данные; старый ключ будет удален
func (s *Session) Renew() {
	if s.ID != "" && s.staleID == "" {
		s.staleID = s.ID
	}
	s.ID = ""
	s.modified = true
}

// Flush очищает данные и выдает новый ключ
func (s *Session) Flush() {
	s.UserID = ""
	s.AuthHash = ""
	s.UserType = ""
	s.CSRFToken = ""
	s.Messages = nil
	s.Renew()
}

// CSRF возвращает токен, создавая его при первом обращении
func (s *Session) CSRF() string {
	if s.CSRFToken == "" {
		s.CSRFToken = randomKey()
		s.modified = true
	}
	return s.CSRFToken
}

// RotateCSRF заменяет токен, например при входе
func (s *Session) RotateCSRF() {
	s.CSRFToken = randomKey()
	s.modified = true
}

func randomKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("session: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

type contextKey string

const sessionKey contextKey = "session"

// WithSession кладет сессию в контекст
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext достает сессию из контекста; вне Middleware возвращает пустую сессию
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey).(*Session); ok {
		return s
	}
	return New()
}
