package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

const secret = "0123456789abcdef0123456789abcdef"

func testUser() *users.User {
	return &users.User{ID: uuid.New(), Email: "a@b.co", PasswordHash: "$2a$04$first"}
}

func TestTokenLifecycle(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(secret, 72*time.Hour).WithClock(func() time.Time { return now })
	user := testUser()

	token, err := m.GenerateToken(user)
	require.NoError(t, err)
	assert.True(t, m.CheckToken(user, token))

	// another user
	assert.False(t, m.CheckToken(testUser(), token))
	assert.False(t, m.CheckToken(user, ""))
	assert.False(t, m.CheckToken(nil, token))
	assert.False(t, m.CheckToken(user, token+"x"))
}

func TestTokenInvalidatedByStateChange(t *testing.T) {
	m := NewManager(secret, time.Hour)

	user := testUser()
	token, err := m.GenerateToken(user)
	require.NoError(t, err)

	changed := *user
	changed.PasswordHash = "$2a$04$second"
	assert.False(t, m.CheckToken(&changed, token))

	loggedIn := *user
	at := time.Now()
	loggedIn.LastLogin = &at
	assert.False(t, m.CheckToken(&loggedIn, token))
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(secret, time.Hour).WithClock(func() time.Time { return now })
	user := testUser()

	token, err := m.GenerateToken(user)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	assert.False(t, m.CheckToken(user, token))
}

func TestTokenWrongSecret(t *testing.T) {
	user := testUser()
	token, err := NewManager(secret, time.Hour).GenerateToken(user)
	require.NoError(t, err)

	other := NewManager("ffffffffffffffffffffffffffffffff", time.Hour)
	_, err = other.ParseToken(token)
	assert.Error(t, err)
}

func TestUIDRoundTrip(t *testing.T) {
	id := uuid.New()
	encoded := EncodeUID(id)
	assert.NotContains(t, encoded, "=")

	decoded, err := DecodeUID(encoded)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)

	_, err = DecodeUID("%%%")
	assert.ErrorIs(t, err, ErrInvalidUID)

	_, err = DecodeUID(EncodeUID(uuid.Nil)[:10])
	assert.ErrorIs(t, err, ErrInvalidUID)
}
