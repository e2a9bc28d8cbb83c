package admin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Ultrahd-dev/student-accounts/internal/auth"
	"github.com/Ultrahd-dev/student-accounts/internal/notifications"
	"github.com/Ultrahd-dev/student-accounts/internal/session"
	"github.com/Ultrahd-dev/student-accounts/internal/users"
	"github.com/Ultrahd-dev/student-accounts/internal/users/userstest"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type adminEnv struct {
	t      *testing.T
	store  *userstest.Store
	users  *users.Service
	router http.Handler
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	store := userstest.New()
	svc := users.NewService(store, users.WithHashCost(bcrypt.MinCost))
	authMW := auth.NewMiddleware(svc, testSecret, "/accounts/login/", zap.NewNop())

	h, err := NewHandler(svc, authMW, "Accounts", zap.NewNop())
	require.NoError(t, err)
	h.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	r.Mount("/admin", h.Routes())
	return &adminEnv{t: t, store: store, users: svc, router: r}
}

func (e *adminEnv) user(email, phone string, mutate func(*users.User)) *users.User {
	e.t.Helper()
	u, err := e.users.CreateUser(context.Background(), users.CreateUserInput{
		Email: email, FirstName: "Test", LastName: "User", PhoneNumber: phone, Password: "s3cret-pass",
	})
	require.NoError(e.t, err)
	if mutate != nil {
		mutate(u)
		e.store.Put(*u)
	}
	return u
}

func (e *adminEnv) serve(as *users.User, method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := session.WithSession(req.Context(), session.New())
	if as != nil {
		ctx = auth.WithUser(ctx, as)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func staff(u *users.User) { u.IsStaff = true }

func TestAdminAccess(t *testing.T) {
	env := newAdminEnv(t)
	plain := env.user("plain@example.com", "5550001", nil)
	bare := env.user("bare@example.com", "5550002", staff)
	viewer := env.user("viewer@example.com", "5550003", staff)
	env.store.Grant(viewer.ID, PermView)

	rec := env.serve(nil, http.MethodGet, "/admin/", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "/accounts/login/?next=")

	rec = env.serve(plain, http.MethodGet, "/admin/", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "but are not authorized to access this page.")

	rec = env.serve(bare, http.MethodGet, "/admin/", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "permission to view or edit anything")

	rec = env.serve(viewer, http.MethodGet, "/admin/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/admin/accounts/user/"`)
	assert.NotContains(t, rec.Body.String(), `href="/admin/accounts/user/add/"`)

	rec = env.serve(viewer, http.MethodGet, "/admin/accounts/user/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.serve(viewer, http.MethodGet, "/admin/accounts/user/add/", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	target := "/admin/accounts/user/" + plain.ID.String() + "/change/"
	rec = env.serve(viewer, http.MethodGet, target, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `<button type="submit">Save</button>`)

	rec = env.serve(viewer, http.MethodPost, target, url.Values{"email": {"x@example.com"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminListSearchFilterOrder(t *testing.T) {
	env := newAdminEnv(t)
	root := env.user("root@example.com", "5550010", func(u *users.User) { u.IsStaff, u.IsAdmin = true, true })
	env.user("alice@example.com", "5550011", nil)
	env.user("bob@example.com", "5550012", nil)

	rec := env.serve(root, http.MethodGet, "/admin/accounts/user/?q=ALI", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "alice@example.com")
	assert.NotContains(t, body, "bob@example.com")

	rec = env.serve(root, http.MethodGet, "/admin/accounts/user/?is_admin=1", nil)
	body = rec.Body.String()
	assert.Contains(t, body, "root@example.com")
	assert.NotContains(t, body, "alice@example.com")

	rec = env.serve(root, http.MethodGet, "/admin/accounts/user/?o=-email", nil)
	body = rec.Body.String()
	assert.Less(t, strings.Index(body, ">root@example.com</a>"), strings.Index(body, ">alice@example.com</a>"))
	// the sorted column link flips direction
	assert.Contains(t, body, `href="/admin/accounts/user/?o=email"`)
}

func TestAdminListPaging(t *testing.T) {
	env := newAdminEnv(t)
	root := env.user("root@example.com", "5550020", func(u *users.User) { u.IsStaff, u.IsAdmin = true, true })
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < users.DefaultListLimit; i++ {
		id := uuid.New()
		email := fmt.Sprintf("user%03d@example.com", i)
		env.store.Put(users.User{
			ID: id, Email: email, UserHash: users.UserHash(id, email),
			PhoneNumber: fmt.Sprintf("%07d", 6000000+i), IsActive: true,
			CreatedAt: created, UpdatedAt: created,
		})
	}

	rec := env.serve(root, http.MethodGet, "/admin/accounts/user/?o=email", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, users.DefaultListLimit, strings.Count(body, `/change/">`))
	assert.Contains(t, body, "Page 1")
	assert.NotContains(t, body, `class="prev"`)
	assert.Contains(t, body, `<a href="/admin/accounts/user/?o=email&amp;p=1" class="next">`)

	rec = env.serve(root, http.MethodGet, "/admin/accounts/user/?o=email&p=1", nil)
	body = rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, `/change/">`))
	assert.Contains(t, body, ">user099@example.com</a>")
	assert.Contains(t, body, "Page 2")
	assert.Contains(t, body, `<a href="/admin/accounts/user/?o=email" class="prev">`)
	assert.NotContains(t, body, `class="next"`)
}

func TestParseListFilter(t *testing.T) {
	env := newAdminEnv(t)
	h, err := NewHandler(env.users, nil, "Accounts", zap.NewNop())
	require.NoError(t, err)
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	q, err := url.ParseQuery("q=doe&is_admin=0&created_at=this_month&o=-last_login&p=2")
	require.NoError(t, err)

	f := h.parseListFilter(q)
	assert.Equal(t, "doe", f.Search)
	require.NotNil(t, f.IsAdmin)
	assert.False(t, *f.IsAdmin)
	assert.Equal(t, users.DateThisMonth, f.CreatedAt)
	assert.Equal(t, 2*users.DefaultListLimit, f.Offset)
	assert.Equal(t, now, f.Now)

	column, desc := f.Order()
	assert.Equal(t, "last_login", column)
	assert.True(t, desc)

	assert.Nil(t, h.parseListFilter(url.Values{"is_admin": {"maybe"}}).IsAdmin)
}

func TestAdminChangeUser(t *testing.T) {
	env := newAdminEnv(t)
	root := env.user("root@example.com", "5550020", func(u *users.User) { u.IsStaff, u.IsSuperuser = true, true })
	target := env.user("target@example.com", "5550021", nil)
	path := "/admin/accounts/user/" + target.ID.String() + "/change/"

	rec := env.serve(root, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, legend := range []string{"User Credentials", "Personal info", "Geolocation info", "Permissions"} {
		assert.Contains(t, body, "<legend>"+legend+"</legend>")
	}
	assert.Contains(t, body, target.UserHash)

	form := url.Values{
		"email": {"target@example.com"}, "first_name": {"Tara"}, "last_name": {"Get"},
		"phone_number": {"5550021"}, "city": {"Oslo"}, "is_active": {"on"}, "is_parent": {"on"},
	}
	rec = env.serve(root, http.MethodPost, path, form)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, listURL, rec.Header().Get("Location"))

	saved, err := env.users.GetUserByID(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tara", saved.FirstName)
	assert.Equal(t, "Oslo", saved.City)
	assert.True(t, saved.IsParent)
	assert.Equal(t, target.UserHash, saved.UserHash)

	form.Set("phone_number", "5550020")
	rec = env.serve(root, http.MethodPost, path, form)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "User with this Phone number already exists.")

	rec = env.serve(root, http.MethodGet, "/admin/accounts/user/not-a-uuid/change/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAddUser(t *testing.T) {
	env := newAdminEnv(t)
	adder := env.user("adder@example.com", "5550030", staff)
	env.store.Grant(adder.ID, PermAdd)

	rec := env.serve(adder, http.MethodGet, "/admin/accounts/user/add/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="password2"`)

	form := url.Values{
		"email": {"new@example.com"}, "first_name": {"New"}, "last_name": {"User"},
		"phone_number": {"5550031"}, "password1": {"s3cret-pass"}, "password2": {"s3cret-pass"},
	}
	rec = env.serve(adder, http.MethodPost, "/admin/accounts/user/add/", form)
	require.Equal(t, http.StatusFound, rec.Code)

	created, err := env.users.GetUserByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, listURL+created.ID.String()+"/change/", rec.Header().Get("Location"))
	assert.True(t, env.users.CheckPassword(created, "s3cret-pass"))
}

type fakeEmailLog struct {
	entries []notifications.EmailLog
}

func (f *fakeEmailLog) ListRecent(_ context.Context, limit int) ([]notifications.EmailLog, error) {
	if len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func TestAdminEmailLog(t *testing.T) {
	store := userstest.New()
	svc := users.NewService(store, users.WithHashCost(bcrypt.MinCost))
	authMW := auth.NewMiddleware(svc, testSecret, "/accounts/login/", zap.NewNop())

	h, err := NewHandler(svc, authMW, "Accounts", zap.NewNop())
	require.NoError(t, err)
	h.WithEmailLog(&fakeEmailLog{entries: []notifications.EmailLog{{
		Recipient: "jane@example.com", Subject: "Password reset on Accounts",
		Kind: notifications.KindPasswordReset, Status: notifications.StatusFailed, Error: "dial tcp: refused",
		CreatedAt: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}}})

	r := chi.NewRouter()
	r.Mount("/admin", h.Routes())
	env := &adminEnv{t: t, store: store, users: svc, router: r}

	viewer := env.user("viewer@example.com", "5550040", staff)
	env.store.Grant(viewer.ID, PermView)
	root := env.user("root@example.com", "5550041", func(u *users.User) { u.IsStaff, u.IsSuperuser = true, true })

	rec := env.serve(viewer, http.MethodGet, "/admin/accounts/emaillog/", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.serve(root, http.MethodGet, "/admin/", nil)
	assert.Contains(t, rec.Body.String(), `href="/admin/accounts/emaillog/"`)

	rec = env.serve(root, http.MethodGet, "/admin/accounts/emaillog/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "jane@example.com")
	assert.Contains(t, body, "dial tcp: refused")
	assert.Contains(t, body, "2024-03-15 12:00:00")
}
