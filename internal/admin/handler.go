// Package admin реализует панель администратора для учетных записей:
// список с поиском, фильтрами и сортировкой, создание и изменение пользователя
package admin

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ultrahd-dev/student-accounts/internal/auth"
	"github.com/Ultrahd-dev/student-accounts/internal/forms"
	"github.com/Ultrahd-dev/student-accounts/internal/notifications"
	"github.com/Ultrahd-dev/student-accounts/internal/session"
	"github.com/Ultrahd-dev/student-accounts/internal/users"
	"github.com/Ultrahd-dev/student-accounts/internal/web"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	pageIndex      = "index.html"
	pageUserList   = "user_list.html"
	pageUserChange = "user_change.html"
	pageUserAdd    = "user_add.html"
	pageEmailLog   = "email_log.html"
)

// Метка приложения и коды прав на модель пользователя
const (
	AppLabel   = "accounts"
	PermView   = "accounts.view_user"
	PermChange = "accounts.change_user"
	PermAdd    = "accounts.add_user"

	PermViewEmailLog = "accounts.view_emaillog"
)

const listURL = "/admin/accounts/user/"

// EmailLogLister читает журнал отправленных писем
type EmailLogLister interface {
	ListRecent(ctx context.Context, limit int) ([]notifications.EmailLog, error)
}

const emailLogLimit = 50

// Handler обрабатывает страницы панели администратора
type Handler struct {
	users    *users.Service
	auth     *auth.Middleware
	emailLog EmailLogLister
	renderer *web.Renderer
	logger   *zap.Logger
	now      func() time.Time
}

// WithEmailLog подключает страницу журнала писем
func (h *Handler) WithEmailLog(l EmailLogLister) *Handler {
	h.emailLog = l
	return h
}

// NewHandler создает handler панели администратора
func NewHandler(userService *users.Service, authMiddleware *auth.Middleware, siteName string, logger *zap.Logger) (*Handler, error) {
	pages, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	renderer, err := web.NewRenderer(siteName+" administration", pages,
		pageIndex, pageUserList, pageUserChange, pageUserAdd, pageEmailLog)
	if err != nil {
		return nil, err
	}

	return &Handler{
		users:    userService,
		auth:     authMiddleware,
		renderer: renderer,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Routes возвращает маршруты /admin/.
// Доступ только для активных сотрудников с правами на приложение accounts.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.auth.RequireStaff, h.requireModule)

	r.Get("/", h.Index)
	r.Route("/accounts/user", func(r chi.Router) {
		r.With(h.requirePerm(PermView, PermChange)).Get("/", h.List)
		r.With(h.requirePerm(PermAdd)).Get("/add/", h.AddPage)
		r.With(h.requirePerm(PermAdd)).Post("/add/", h.Add)
		r.With(h.requirePerm(PermView, PermChange)).Get("/{id}/change/", h.ChangePage)
		r.With(h.requirePerm(PermChange)).Post("/{id}/change/", h.Change)
	})
	if h.emailLog != nil {
		r.With(h.requirePerm(PermViewEmailLog)).Get("/accounts/emaillog/", h.EmailLog)
	}
	return r
}

func (h *Handler) requireModule(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFromContext(r.Context())
		ok, err := h.users.HasModulePerms(r.Context(), user, AppLabel)
		if err != nil {
			h.serverError(w, "Failed to check module permissions", err)
			return
		}
		if !ok {
			http.Error(w, "You don't have permission to view or edit anything.", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requirePerm пропускает пользователя, у которого есть хотя бы одно из прав
func (h *Handler) requirePerm(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := auth.UserFromContext(r.Context())
			for _, perm := range perms {
				ok, err := h.users.HasPerm(r.Context(), user, perm)
				if err != nil {
					h.serverError(w, "Failed to check permission", err)
					return
				}
				if ok {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func (h *Handler) hasPerm(r *http.Request, perm string) bool {
	user, _ := auth.UserFromContext(r.Context())
	ok, err := h.users.HasPerm(r.Context(), user, perm)
	if err != nil {
		h.logger.Error("Failed to check permission", zap.String("perm", perm), zap.Error(err))
		return false
	}
	return ok
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data map[string]interface{}) {
	if err := h.renderer.Render(w, r, status, name, web.Page{Title: title, Data: data}); err != nil {
		h.serverError(w, "Failed to render admin page", err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Index стартовая страница панели
// GET /admin/
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, pageIndex, "Site administration", map[string]interface{}{
		"CanView": h.hasPerm(r, PermView) || h.hasPerm(r, PermChange),
		"CanAdd":  h.hasPerm(r, PermAdd),
		"CanLog":  h.emailLog != nil && h.hasPerm(r, PermViewEmailLog),
	})
}

// column заголовок таблицы списка
type column struct {
	Label   string
	SortURL string
	Sorted  bool
	Desc    bool
}

// filterOption ссылка фильтра боковой панели
type filterOption struct {
	Label    string
	URL      string
	Selected bool
}

type filterGroup struct {
	Title   string
	Options []filterOption
}

var listColumns = []struct{ name, label string }{
	{"email", "Email address"},
	{"is_admin", "Admin"},
	{"last_login", "Last login"},
	{"created_at", "Created at"},
	{"updated_at", "Updated at"},
}

var dateFilterParams = []struct{ param, title string }{
	{"last_login", "By last login"},
	{"created_at", "By created at"},
	{"updated_at", "By updated at"},
}

// parseListFilter читает параметры строки запроса списка
func (h *Handler) parseListFilter(q url.Values) users.ListFilter {
	filter := users.ListFilter{
		Search:    q.Get("q"),
		LastLogin: users.DateFilter(q.Get("last_login")),
		CreatedAt: users.DateFilter(q.Get("created_at")),
		UpdatedAt: users.DateFilter(q.Get("updated_at")),
		OrderBy:   q.Get("o"),
		Limit:     users.DefaultListLimit,
		Now:       h.now(),
	}
	switch q.Get("is_admin") {
	case "1":
		v := true
		filter.IsAdmin = &v
	case "0":
		v := false
		filter.IsAdmin = &v
	}
	if page, err := strconv.Atoi(q.Get("p")); err == nil && page > 0 {
		filter.Offset = page * filter.Limit
	}
	return filter
}

// withParam копирует запрос, заменяя один параметр; пустое значение удаляет его
func withParam(q url.Values, key, value string) string {
	next := url.Values{}
	for k, v := range q {
		if k != "p" {
			next[k] = v
		}
	}
	if value == "" {
		next.Del(key)
	} else {
		next.Set(key, value)
	}
	if len(next) == 0 {
		return listURL
	}
	return listURL + "?" + next.Encode()
}

// pager ссылки на соседние страницы списка; пустая ссылка означает, что страницы нет
type pager struct {
	Number  int
	PrevURL string
	NextURL string
}

func pagerFor(q url.Values, filter users.ListFilter, more bool) pager {
	page := filter.Offset / filter.Limit
	p := pager{Number: page + 1}
	if page > 0 {
		prev := ""
		if page > 1 {
			prev = strconv.Itoa(page - 1)
		}
		p.PrevURL = withParam(q, "p", prev)
	}
	if more {
		p.NextURL = withParam(q, "p", strconv.Itoa(page+1))
	}
	return p
}

func listColumnsFor(q url.Values, filter users.ListFilter) []column {
	sorted, desc := filter.Order()
	cols := make([]column, 0, len(listColumns))
	for _, c := range listColumns {
		col := column{Label: c.label, Sorted: c.name == sorted}
		order := c.name
		if col.Sorted {
			col.Desc = desc
			if !desc {
				order = "-" + c.name
			}
		}
		col.SortURL = withParam(q, "o", order)
		cols = append(cols, col)
	}
	return cols
}

func listFiltersFor(q url.Values) []filterGroup {
	admin := filterGroup{Title: "By admin"}
	for _, opt := range []struct{ value, label string }{{"", "All"}, {"1", "Yes"}, {"0", "No"}} {
		admin.Options = append(admin.Options, filterOption{
			Label:    opt.label,
			URL:      withParam(q, "is_admin", opt.value),
			Selected: q.Get("is_admin") == opt.value,
		})
	}

	groups := []filterGroup{admin}
	for _, df := range dateFilterParams {
		g := filterGroup{Title: df.title}
		for _, choice := range users.DateFilterChoices {
			g.Options = append(g.Options, filterOption{
				Label:    choice.Label,
				URL:      withParam(q, df.param, choice.Value),
				Selected: q.Get(df.param) == choice.Value,
			})
		}
		groups = append(groups, g)
	}
	return groups
}

// List показывает пользователей с поиском, фильтрами и сортировкой
// GET /admin/accounts/user/
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := h.parseListFilter(q)

	// лишняя строка показывает, есть ли следующая страница
	page := filter
	page.Limit++
	list, err := h.users.ListUsers(r.Context(), page)
	if err != nil {
		h.serverError(w, "Failed to list users", err)
		return
	}
	more := len(list) > filter.Limit
	if more {
		list = list[:filter.Limit]
	}

	h.render(w, r, http.StatusOK, pageUserList, "Select user to change", map[string]interface{}{
		"Users":   list,
		"Search":  filter.Search,
		"Columns": listColumnsFor(q, filter),
		"Filters": listFiltersFor(q),
		"Pager":   pagerFor(q, filter, more),
		"CanAdd":  h.hasPerm(r, PermAdd),
	})
}

// loadUser возвращает nil, если ответ уже отправлен
func (h *Handler) loadUser(w http.ResponseWriter, r *http.Request) *users.User {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return nil
	}
	user, err := h.users.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			http.NotFound(w, r)
			return nil
		}
		h.serverError(w, "Failed to load user", err)
		return nil
	}
	return user
}

func (h *Handler) renderChange(w http.ResponseWriter, r *http.Request, status int, form *forms.UserChangeForm) {
	h.render(w, r, status, pageUserChange, "Change user", map[string]interface{}{
		"Form":      form,
		"Account":   form.User,
		"CanChange": h.hasPerm(r, PermChange),
	})
}

// ChangePage показывает форму изменения пользователя
// GET /admin/accounts/user/{id}/change/
func (h *Handler) ChangePage(w http.ResponseWriter, r *http.Request) {
	user := h.loadUser(w, r)
	if user == nil {
		return
	}
	h.renderChange(w, r, http.StatusOK, forms.NewUserChangeForm(user, nil))
}

// Change сохраняет изменения пользователя
// POST /admin/accounts/user/{id}/change/
func (h *Handler) Change(w http.ResponseWriter, r *http.Request) {
	user := h.loadUser(w, r)
	if user == nil {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	form := forms.NewUserChangeForm(user, r.PostForm)
	saved, err := form.Save(r.Context(), h.users)
	if err != nil {
		if !errors.Is(err, forms.ErrInvalid) {
			h.serverError(w, "Failed to update user", err)
			return
		}
		h.renderChange(w, r, http.StatusOK, form)
		return
	}

	operator, _ := auth.UserFromContext(r.Context())
	h.logger.Info("User changed in admin",
		zap.String("user_id", saved.ID.String()),
		zap.String("operator_id", operator.ID.String()))
	session.FromContext(r.Context()).AddMessage(session.LevelSuccess,
		"The user \""+saved.Email+"\" was changed successfully.")
	http.Redirect(w, r, listURL, http.StatusFound)
}

// AddPage показывает форму создания пользователя
// GET /admin/accounts/user/add/
func (h *Handler) AddPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, pageUserAdd, "Add user", map[string]interface{}{
		"Form": forms.NewUserAddForm(nil),
	})
}

// Add создает пользователя и переходит к его изменению
// POST /admin/accounts/user/add/
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	form := forms.NewUserAddForm(r.PostForm)
	user, err := form.Save(r.Context(), h.users)
	if err != nil {
		if !errors.Is(err, forms.ErrInvalid) {
			h.serverError(w, "Failed to create user", err)
			return
		}
		h.render(w, r, http.StatusOK, pageUserAdd, "Add user", map[string]interface{}{"Form": form})
		return
	}

	h.logger.Info("User created in admin", zap.String("user_id", user.ID.String()))
	session.FromContext(r.Context()).AddMessage(session.LevelSuccess,
		"The user \""+user.Email+"\" was added successfully. You may edit it again below.")
	http.Redirect(w, r, listURL+user.ID.String()+"/change/", http.StatusFound)
}

// EmailLog показывает последние отправленные письма
// GET /admin/accounts/emaillog/
func (h *Handler) EmailLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.emailLog.ListRecent(r.Context(), emailLogLimit)
	if err != nil {
		h.serverError(w, "Failed to list email log", err)
		return
	}
	h.render(w, r, http.StatusOK, pageEmailLog, "Email log", map[string]interface{}{"Entries": entries})
}
