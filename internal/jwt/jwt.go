// Package jwt предоставляет токены для ссылок сброса пароля.
// Токен подписан HS256 и перестает действовать после смены пароля или нового входа.
package jwt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

// ErrInvalidUID возвращается для испорченного идентификатора в ссылке
var ErrInvalidUID = errors.New("invalid uid")

// Claims данные токена сброса пароля
type Claims struct {
	UserID      uuid.UUID `json:"uid"`
	Fingerprint string    `json:"fp"` // отпечаток состояния учетной записи
	jwt.RegisteredClaims
}

// Manager отвечает за создание и проверку токенов сброса пароля
type Manager struct {
	secretKey     []byte
	tokenLifetime time.Duration
	now           func() time.Time
}

// NewManager создает новый менеджер токенов
// lifetime - время жизни ссылки (по умолчанию в конфиге 72 часа)
func NewManager(secretKey string, lifetime time.Duration) *Manager {
	return &Manager{
		secretKey:     []byte(secretKey),
		tokenLifetime: lifetime,
		now:           time.Now,
	}
}

// WithClock подменяет источник времени (для тестов)
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// GenerateToken создает токен для пользователя
func (m *Manager) GenerateToken(user *users.User) (string, error) {
	now := m.now()
	claims := &Claims{
		UserID:      user.ID,
		Fingerprint: m.fingerprint(user),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ParseToken проверяет подпись и срок действия токена
func (m *Manager) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	return claims, nil
}

// CheckToken сообщает, действителен ли токен для текущего состояния пользователя
func (m *Manager) CheckToken(user *users.User, tokenString string) bool {
	if user == nil || tokenString == "" {
		return false
	}
	claims, err := m.ParseToken(tokenString)
	if err != nil {
		return false
	}
	if claims.UserID != user.ID {
		return false
	}
	return hmac.Equal([]byte(claims.Fingerprint), []byte(m.fingerprint(user)))
}

// fingerprint меняется при смене пароля, входе или смене email
func (m *Manager) fingerprint(user *users.User) string {
	var lastLogin string
	if user.LastLogin != nil {
		lastLogin = strconv.FormatInt(user.LastLogin.UTC().Unix(), 10)
	}

	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(user.ID.String()))
	mac.Write([]byte{0})
	mac.Write([]byte(user.PasswordHash))
	mac.Write([]byte{0})
	mac.Write([]byte(lastLogin))
	mac.Write([]byte{0})
	mac.Write([]byte(user.Email))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

// EncodeUID кодирует ID пользователя для ссылки
func EncodeUID(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id.String()))
}

// DecodeUID декодирует ID пользователя из ссылки
func DecodeUID(uidb64 string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(uidb64)
	if err != nil {
		return uuid.Nil, ErrInvalidUID
	}
	id, err := uuid.Parse(string(raw))
	if err != nil {
		return uuid.Nil, ErrInvalidUID
	}
	return id, nil
}
