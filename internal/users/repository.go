// Package users предоставляет доступ к хранению пользователей
// и бизнес-логику учетных записей (регистрация, вход, права доступа)
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Имена ограничений из миграций; по ним различаем нарушения уникальности
const (
	constraintEmail    = "users_email_lower_key"
	constraintPhone    = "users_phone_number_key"
	constraintUserHash = "users_user_hash_key"
	constraintParentFK = "user_parents_parent_id_fkey"
)

var userColumns = []string{
	"id", "email", "username", "user_hash", "first_name", "last_name", "phone_number",
	"gender", "date_of_birth", "blood_group", "city", "state", "country", "ip_address",
	"password_hash", "is_active", "is_superuser", "is_admin", "is_staff", "is_student",
	"is_parent", "last_login", "created_at", "updated_at",
}

func selectColumns(alias string) string {
	if alias == "" {
		return strings.Join(userColumns, ", ")
	}
	prefixed := make([]string, len(userColumns))
	for i, c := range userColumns {
		prefixed[i] = alias + "." + c
	}
	return strings.Join(prefixed, ", ")
}

// Repository предоставляет доступ к хранению пользователей в PostgreSQL
type Repository struct {
	db *sql.DB
}

// NewRepository создает новый репозиторий пользователей
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser создает нового пользователя и, если переданы, связи с родителями.
// Все записи выполняются в одной транзакции.
func (r *Repository) CreateUser(ctx context.Context, user *User, parentIDs ...uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO users (
			id, email, username, user_hash, first_name, last_name, phone_number,
			gender, date_of_birth, blood_group, city, state, country, ip_address,
			password_hash, is_active, is_superuser, is_admin, is_staff, is_student, is_parent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING created_at, updated_at`

	err = tx.QueryRowContext(ctx, query,
		user.ID,
		user.Email,
		nullString(user.Username),
		user.UserHash,
		user.FirstName,
		user.LastName,
		user.PhoneNumber,
		nullString(string(user.Gender)),
		nullTime(user.DateOfBirth),
		nullString(string(user.BloodGroup)),
		nullString(user.City),
		nullString(user.State),
		nullString(user.Country),
		nullString(user.IPAddress),
		user.PasswordHash,
		user.IsActive,
		user.IsSuperuser,
		user.IsAdmin,
		user.IsStaff,
		user.IsStudent,
		user.IsParent,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}

	for _, parentID := range parentIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_parents (user_id, parent_id) VALUES ($1, $2)`,
			user.ID, parentID)
		if err != nil {
			return fmt.Errorf("failed to link parent %s: %w", parentID, mapError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user creation: %w", err)
	}
	return nil
}

// UpdateUser сохраняет изменения профиля и флагов.
// user_hash и password_hash здесь не изменяются.
func (r *Repository) UpdateUser(ctx context.Context, user *User) error {
	query := `
		UPDATE users SET
			email = $2, username = $3, first_name = $4, last_name = $5, phone_number = $6,
			gender = $7, date_of_birth = $8, blood_group = $9, city = $10, state = $11,
			country = $12, ip_address = $13, is_active = $14, is_superuser = $15,
			is_admin = $16, is_staff = $17, is_student = $18, is_parent = $19,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		user.ID,
		user.Email,
		nullString(user.Username),
		user.FirstName,
		user.LastName,
		user.PhoneNumber,
		nullString(string(user.Gender)),
		nullTime(user.DateOfBirth),
		nullString(string(user.BloodGroup)),
		nullString(user.City),
		nullString(user.State),
		nullString(user.Country),
		nullString(user.IPAddress),
		user.IsActive,
		user.IsSuperuser,
		user.IsAdmin,
		user.IsStaff,
		user.IsStudent,
		user.IsParent,
	).Scan(&user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to update user: %w", mapError(err))
	}
	return nil
}

// UpdatePassword сохраняет новый хэш пароля
func (r *Repository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return expectOneRow(res)
}

// UpdateLastLogin обновляет время последнего входа и IP клиента; пустой ip сохраняет прежний
func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time, ip string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = $2, ip_address = COALESCE($3, ip_address) WHERE id = $1`,
		id, at, nullString(ip))
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return expectOneRow(res)
}

// GetUserByID получает пользователя по ID
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + selectColumns("") + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

// GetUserByEmail получает пользователя по email без учета регистра
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + selectColumns("") + ` FROM users WHERE LOWER(email) = LOWER($1)`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// ListUsers возвращает страницу пользователей для панели администратора
func (r *Repository) ListUsers(ctx context.Context, filter ListFilter) ([]User, error) {
	query, args, err := buildListQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}
	return r.queryUsers(ctx, query, args...)
}

func buildListQuery(filter ListFilter) (string, []interface{}, error) {
	builder := sq.Select(userColumns...).From("users").PlaceholderFormat(sq.Dollar)

	if s := strings.TrimSpace(filter.Search); s != "" {
		builder = builder.Where(sq.ILike{"email": "%" + s + "%"})
	}
	if filter.IsAdmin != nil {
		builder = builder.Where(sq.Eq{"is_admin": *filter.IsAdmin})
	}

	now := filter.now()
	dateFilters := []struct {
		column string
		filter DateFilter
	}{
		{"last_login", filter.LastLogin},
		{"created_at", filter.CreatedAt},
		{"updated_at", filter.UpdatedAt},
	}
	for _, df := range dateFilters {
		if since, ok := df.filter.Since(now); ok {
			builder = builder.Where(sq.GtOrEq{df.column: since})
		}
	}

	column, desc := filter.Order()
	if desc {
		builder = builder.OrderBy(column + " DESC")
	} else {
		builder = builder.OrderBy(column)
	}

	builder = builder.Limit(uint64(filter.limit()))
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}
	return builder.ToSql()
}

// ListParentAccounts получает все учетные записи с флагом родителя
func (r *Repository) ListParentAccounts(ctx context.Context) ([]User, error) {
	query := `SELECT ` + selectColumns("") + ` FROM users WHERE is_parent = true ORDER BY email`
	return r.queryUsers(ctx, query)
}

// HasParentAccounts проверяет, есть ли хотя бы один родитель
func (r *Repository) HasParentAccounts(ctx context.Context) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE is_parent = true)`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check parent accounts: %w", err)
	}
	return exists, nil
}

// ListParents получает родителей пользователя
func (r *Repository) ListParents(ctx context.Context, userID uuid.UUID) ([]User, error) {
	query := `
		SELECT ` + selectColumns("u") + `
		FROM users u
		JOIN user_parents up ON up.parent_id = u.id
		WHERE up.user_id = $1
		ORDER BY u.email`
	return r.queryUsers(ctx, query, userID)
}

// ListChildren получает детей пользователя через обратное представление user_children
func (r *Repository) ListChildren(ctx context.Context, userID uuid.UUID) ([]User, error) {
	query := `
		SELECT ` + selectColumns("u") + `
		FROM users u
		JOIN user_children uc ON uc.child_id = u.id
		WHERE uc.user_id = $1
		ORDER BY u.email`
	return r.queryUsers(ctx, query, userID)
}

// ListPermissions получает коды прав пользователя
func (r *Repository) ListPermissions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT codename FROM user_permissions WHERE user_id = $1 ORDER BY codename`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var codename string
		if err := rows.Scan(&codename); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, codename)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return perms, nil
}

// GrantPermission выдает право пользователю; повторная выдача ничего не меняет
func (r *Repository) GrantPermission(ctx context.Context, userID uuid.UUID, codename string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_permissions (user_id, codename) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, codename)
	if err != nil {
		return fmt.Errorf("failed to grant permission %s: %w", codename, err)
	}
	return nil
}

func (r *Repository) queryUsers(ctx context.Context, query string, args ...interface{}) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		user                    User
		username, gender, blood sql.NullString
		city, state, country    sql.NullString
		ipAddress               sql.NullString
		dateOfBirth, lastLogin  sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&username,
		&user.UserHash,
		&user.FirstName,
		&user.LastName,
		&user.PhoneNumber,
		&gender,
		&dateOfBirth,
		&blood,
		&city,
		&state,
		&country,
		&ipAddress,
		&user.PasswordHash,
		&user.IsActive,
		&user.IsSuperuser,
		&user.IsAdmin,
		&user.IsStaff,
		&user.IsStudent,
		&user.IsParent,
		&lastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Username = username.String
	user.Gender = Gender(gender.String)
	user.BloodGroup = BloodGroup(blood.String)
	user.City = city.String
	user.State = state.String
	user.Country = country.String
	user.IPAddress = ipAddress.String
	if dateOfBirth.Valid {
		dob := dateOfBirth.Time
		user.DateOfBirth = &dob
	}
	if lastLogin.Valid {
		ll := lastLogin.Time
		user.LastLogin = &ll
	}
	return &user, nil
}

// mapError переводит нарушения ограничений PostgreSQL в ошибки пакета
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505": // unique_violation
		switch pqErr.Constraint {
		case constraintEmail:
			return ErrEmailTaken
		case constraintUserHash:
			return ErrUserHashTaken
		case constraintPhone:
			return ErrPhoneTaken
		}
	case "23503": // foreign_key_violation
		if pqErr.Constraint == constraintParentFK {
			return ErrParentNotFound
		}
	}
	return err
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
