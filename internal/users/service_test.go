package users_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Ultrahd-dev/student-accounts/internal/users"
	"github.com/Ultrahd-dev/student-accounts/internal/users/userstest"
)

func newService(t *testing.T) (*users.Service, *userstest.Store) {
	t.Helper()
	store := userstest.New()
	return users.NewService(store, users.WithHashCost(bcrypt.MinCost)), store
}

func TestCreateUser(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, users.CreateUserInput{
		Email:       "John@EXAMPLE.com",
		FirstName:   "John",
		LastName:    "Doe",
		PhoneNumber: "5551234",
		Password:    "s3cret-pass",
	})
	require.NoError(t, err)

	assert.Equal(t, "John@example.com", user.Email)
	assert.Equal(t, users.UserHash(user.ID, "john@example.com"), user.UserHash)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsStaff)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)
	assert.True(t, svc.CheckPassword(user, "s3cret-pass"))
}

func TestCreateUserValidation(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, users.CreateUserInput{Email: "  ", PhoneNumber: "5551234"})
	assert.ErrorIs(t, err, users.ErrEmailRequired)

	_, err = svc.CreateUser(ctx, users.CreateUserInput{Email: "a@b.co", PhoneNumber: "12"})
	assert.ErrorIs(t, err, users.ErrInvalidPhone)

	assert.Zero(t, store.Count())
}

func TestCreateUserWithoutPassword(t *testing.T) {
	svc, _ := newService(t)

	user, err := svc.CreateUser(context.Background(), users.CreateUserInput{Email: "a@b.co", PhoneNumber: "5551234"})
	require.NoError(t, err)
	assert.False(t, user.HasUsablePassword())
	assert.False(t, svc.CheckPassword(user, ""))
}

func TestCreateUserDuplicates(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, users.CreateUserInput{Email: "a@b.co", PhoneNumber: "5551234", Password: "x"})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, users.CreateUserInput{Email: "A@B.CO", PhoneNumber: "5559999", Password: "x"})
	assert.ErrorIs(t, err, users.ErrEmailTaken)

	_, err = svc.CreateUser(ctx, users.CreateUserInput{Email: "c@d.co", PhoneNumber: "5551234", Password: "x"})
	assert.ErrorIs(t, err, users.ErrPhoneTaken)
}

func TestCreateSuperuser(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	user, err := svc.CreateSuperuser(ctx, users.CreateUserInput{Email: "root@b.co", PhoneNumber: "5551234", Password: "x"})
	require.NoError(t, err)

	stored, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSuperuser)
	assert.True(t, stored.IsAdmin)
	assert.True(t, stored.IsStaff)
}

func TestRegister(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	parent, err := svc.Register(ctx, users.RegisterInput{
		Email:       "Mom@Example.com",
		FirstName:   "Mary",
		LastName:    "Doe",
		PhoneNumber: "5550001",
		Password:    "correct-horse",
		UserType:    users.UserTypeParent,
	})
	require.NoError(t, err)
	assert.Equal(t, "mom@example.com", parent.Email)
	assert.True(t, parent.IsParent)
	assert.False(t, parent.IsStudent)

	child, err := svc.Register(ctx, users.RegisterInput{
		Email:       "kid@example.com",
		FirstName:   "Kid",
		LastName:    "Doe",
		PhoneNumber: "5550002",
		Password:    "correct-horse",
		UserType:    users.UserTypeStudent,
		ParentID:    &parent.ID,
	})
	require.NoError(t, err)
	assert.True(t, child.IsStudent)

	parents, children, err := svc.Family(ctx, child)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, parent.ID, parents[0].ID)
	assert.Empty(t, children)

	_, children, err = svc.Family(ctx, parent)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	assert.Equal(t, 2, store.Count())
}

func TestRegisterRejectsNonParent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	student, err := svc.Register(ctx, users.RegisterInput{
		Email: "s1@example.com", PhoneNumber: "5550001", Password: "pw", UserType: users.UserTypeStudent,
	})
	require.NoError(t, err)

	_, err = svc.Register(ctx, users.RegisterInput{
		Email: "s2@example.com", PhoneNumber: "5550002", Password: "pw", UserType: users.UserTypeStudent,
		ParentID: &student.ID,
	})
	assert.ErrorIs(t, err, users.ErrParentNotFound)

	missing := uuid.New()
	_, err = svc.Register(ctx, users.RegisterInput{
		Email: "s3@example.com", PhoneNumber: "5550003", Password: "pw", UserType: users.UserTypeStudent,
		ParentID: &missing,
	})
	assert.ErrorIs(t, err, users.ErrParentNotFound)
}

func TestAuthenticateUser(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, users.CreateUserInput{Email: "a@b.co", PhoneNumber: "5551234", Password: "pw-123456"})
	require.NoError(t, err)

	got, err := svc.AuthenticateUser(ctx, "A@B.co", "pw-123456")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.AuthenticateUser(ctx, "a@b.co", "wrong")
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)

	_, err = svc.AuthenticateUser(ctx, "nobody@b.co", "pw-123456")
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)

	user.IsActive = false
	store.Put(*user)

	_, err = svc.AuthenticateUser(ctx, "a@b.co", "wrong")
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)

	_, err = svc.AuthenticateUser(ctx, "a@b.co", "pw-123456")
	assert.ErrorIs(t, err, users.ErrInactiveUser)
}

func TestAuthenticateUserStoreFailure(t *testing.T) {
	svc, store := newService(t)
	store.Err = errors.New("connection refused")

	_, err := svc.AuthenticateUser(context.Background(), "a@b.co", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, users.ErrInvalidCredentials)
}

func TestSetPasswordAndRecordLogin(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := userstest.New()
	svc := users.NewService(store, users.WithHashCost(bcrypt.MinCost), users.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, users.CreateUserInput{Email: "a@b.co", PhoneNumber: "5551234", Password: "old"})
	require.NoError(t, err)

	require.NoError(t, svc.SetPassword(ctx, user, "new-password"))
	stored, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, svc.CheckPassword(stored, "new-password"))
	assert.False(t, svc.CheckPassword(stored, "old"))

	require.NoError(t, svc.RecordLogin(ctx, user, "192.0.2.10"))
	stored, err = store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)
	assert.True(t, now.Equal(*stored.LastLogin))
	assert.Equal(t, "192.0.2.10", stored.IPAddress)

	// unparsable address keeps the last known one
	require.NoError(t, svc.RecordLogin(ctx, user, "not-an-ip"))
	stored, err = store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", stored.IPAddress)
}

func TestUpdateUserKeepsHash(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, users.CreateUserInput{Email: "a@b.co", PhoneNumber: "5551234", Password: "pw"})
	require.NoError(t, err)

	user.City = "Kazan"
	require.NoError(t, svc.UpdateUser(ctx, user))

	user.UserHash = "tampered"
	assert.ErrorIs(t, svc.UpdateUser(ctx, user), users.ErrUserHashImmutable)
}

func TestEmailChangeReleasesAddress(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.CreateUser(ctx, users.CreateUserInput{Email: "old@example.com", PhoneNumber: "5551234", Password: "pw"})
	require.NoError(t, err)
	hash := first.UserHash

	first.Email = "new@example.com"
	require.NoError(t, svc.UpdateUser(ctx, first))

	second, err := svc.Register(ctx, users.RegisterInput{
		Email: "old@example.com", PhoneNumber: "5551235", Password: "s3cret-pass", UserType: users.UserTypeParent,
	})
	require.NoError(t, err)
	assert.NotEqual(t, hash, second.UserHash)

	stored, err := svc.GetUserByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, hash, stored.UserHash)
}

func TestPasswordTooLong(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	long := strings.Repeat("p", users.MaxPasswordBytes+1)

	_, err := svc.Register(ctx, users.RegisterInput{
		Email: "a@b.co", PhoneNumber: "5551234", Password: long, UserType: users.UserTypeStudent,
	})
	assert.ErrorIs(t, err, users.ErrPasswordTooLong)
	assert.Zero(t, store.Count())

	user, err := svc.CreateUser(ctx, users.CreateUserInput{
		Email: "a@b.co", PhoneNumber: "5551234", Password: strings.Repeat("p", users.MaxPasswordBytes),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.SetPassword(ctx, user, long), users.ErrPasswordTooLong)
}

func TestPermissions(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	staff, err := svc.CreateUser(ctx, users.CreateUserInput{Email: "staff@b.co", PhoneNumber: "5551234", Password: "pw"})
	require.NoError(t, err)

	ok, err := svc.HasModulePerms(ctx, staff, "accounts")
	require.NoError(t, err)
	assert.False(t, ok)

	store.Grant(staff.ID, "accounts.view_user")

	ok, err = svc.HasModulePerms(ctx, staff, "accounts")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasPerm(ctx, staff, "accounts.view_user")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasPerm(ctx, staff, "accounts.change_user")
	require.NoError(t, err)
	assert.False(t, ok)

	staff.IsActive = false
	ok, err = svc.HasPerm(ctx, staff, "accounts.view_user")
	require.NoError(t, err)
	assert.False(t, ok)

	admin := &users.User{ID: uuid.New(), IsAdmin: true}
	ok, err = svc.HasPerm(ctx, admin, "accounts.change_user")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParentChoices(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	choices, err := svc.ParentChoices(ctx)
	require.NoError(t, err)
	assert.Nil(t, choices)

	_, err = svc.Register(ctx, users.RegisterInput{
		Email: "mom@example.com", PhoneNumber: "5550001", Password: "pw", UserType: users.UserTypeParent,
	})
	require.NoError(t, err)

	choices, err = svc.ParentChoices(ctx)
	require.NoError(t, err)
	require.Len(t, choices, 1)
	assert.Equal(t, "mom@example.com", choices[0].Email)
}

func TestListUsers(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for i, email := range []string{"b@x.co", "a@x.co", "c@y.co"} {
		phone := fmt.Sprintf("555000%d", i)
		_, err := svc.CreateUser(ctx, users.CreateUserInput{Email: email, PhoneNumber: phone, Password: "pw"})
		require.NoError(t, err)
	}

	list, err := svc.ListUsers(ctx, users.ListFilter{Search: "X.CO"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a@x.co", list[0].Email)

	list, err = svc.ListUsers(ctx, users.ListFilter{OrderBy: "-email", Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c@y.co", list[0].Email)

	admin := false
	list, err = svc.ListUsers(ctx, users.ListFilter{IsAdmin: &admin, LastLogin: users.DateToday})
	require.NoError(t, err)
	assert.Empty(t, list)
}
