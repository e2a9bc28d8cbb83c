package users

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Store is the persistence contract of the service. *Repository implements it.
type Store interface {
	CreateUser(ctx context.Context, user *User, parentIDs ...uuid.UUID) error
	UpdateUser(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time, ip string) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, filter ListFilter) ([]User, error)
	ListParentAccounts(ctx context.Context) ([]User, error)
	HasParentAccounts(ctx context.Context) (bool, error)
	ListParents(ctx context.Context, userID uuid.UUID) ([]User, error)
	ListChildren(ctx context.Context, userID uuid.UUID) ([]User, error)
	ListPermissions(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Service provides user business logic
type Service struct {
	store    Store
	hashCost int
	now      func() time.Time

	// compared against when the email is unknown so both failures cost one bcrypt run
	dummyHash []byte
}

// Option configures a Service
type Option func(*Service)

// WithHashCost sets the bcrypt cost used for new password hashes
func WithHashCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.hashCost = cost
		}
	}
}

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new user service
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), s.hashCost)
	return s
}

// CreateUserInput contains data needed by the account factory
type CreateUserInput struct {
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
	Password    string
}

// RegisterInput contains data collected by the registration form
type RegisterInput struct {
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
	Password    string
	UserType    UserType
	ParentID    *uuid.UUID
}

// CreateUser creates and saves a user with the given email, names, phone number and password.
// An empty password leaves the account without a usable password.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (*User, error) {
	if strings.TrimSpace(input.Email) == "" {
		return nil, ErrEmailRequired
	}
	if err := ValidatePhoneNumber(input.PhoneNumber); err != nil {
		return nil, err
	}

	user := &User{
		ID:          uuid.New(),
		Email:       NormalizeEmail(input.Email),
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		PhoneNumber: input.PhoneNumber,
		IsActive:    true,
	}
	if err := s.setPassword(user, input.Password); err != nil {
		return nil, err
	}
	user.UserHash = UserHash(user.ID, user.Email)

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// CreateSuperuser creates a user through CreateUser and then grants the superuser, admin and staff flags.
func (s *Service) CreateSuperuser(ctx context.Context, input CreateUserInput) (*User, error) {
	user, err := s.CreateUser(ctx, input)
	if err != nil {
		return nil, err
	}

	user.IsSuperuser = true
	user.IsAdmin = true
	user.IsStaff = true
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to elevate superuser: %w", err)
	}
	return user, nil
}

// Register persists an account submitted through the registration form.
// The email is lowercased as a whole, and the parent link is written in the same transaction.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, ErrEmailRequired
	}
	if err := ValidatePhoneNumber(input.PhoneNumber); err != nil {
		return nil, err
	}

	user := &User{
		ID:          uuid.New(),
		Email:       email,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		PhoneNumber: input.PhoneNumber,
		IsActive:    true,
		IsStudent:   input.UserType == UserTypeStudent,
		IsParent:    input.UserType == UserTypeParent,
	}
	if err := s.setPassword(user, input.Password); err != nil {
		return nil, err
	}
	user.UserHash = UserHash(user.ID, user.Email)

	var parentIDs []uuid.UUID
	if input.ParentID != nil {
		parent, err := s.store.GetUserByID(ctx, *input.ParentID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return nil, ErrParentNotFound
			}
			return nil, fmt.Errorf("failed to load parent: %w", err)
		}
		if !parent.IsParent {
			return nil, ErrParentNotFound
		}
		parentIDs = append(parentIDs, parent.ID)
	}

	if err := s.store.CreateUser(ctx, user, parentIDs...); err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	return user, nil
}

// AuthenticateUser authenticates a user by email and password.
// Unknown email and wrong password both return ErrInvalidCredentials. ErrInactiveUser is
// returned only after the password has been verified.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !s.CheckPassword(user, password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return user, nil
}

// CheckPassword reports whether raw matches the stored hash
func (s *Service) CheckPassword(user *User, raw string) bool {
	if !user.HasUsablePassword() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(raw)) == nil
}

// SetPassword hashes and stores a new password
func (s *Service) SetPassword(ctx context.Context, user *User, raw string) error {
	if err := s.setPassword(user, raw); err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, user.ID, user.PasswordHash); err != nil {
		return fmt.Errorf("failed to save password: %w", err)
	}
	return nil
}

func (s *Service) setPassword(user *User, raw string) error {
	if raw == "" {
		user.PasswordHash = unusablePasswordPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
		return nil
	}
	if len(raw) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), s.hashCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = string(hashed)
	return nil
}

// RecordLogin stamps last_login with the current time and remembers the client address.
// An ip that does not parse leaves the stored address unchanged.
func (s *Service) RecordLogin(ctx context.Context, user *User, ip string) error {
	now := s.now().UTC()
	if net.ParseIP(ip) == nil {
		ip = ""
	}
	if err := s.store.UpdateLastLogin(ctx, user.ID, now, ip); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	user.LastLogin = &now
	if ip != "" {
		user.IPAddress = ip
	}
	return nil
}

// UpdateUser saves profile and flag changes made by an operator.
// The user hash is immutable and the password is changed only through SetPassword.
func (s *Service) UpdateUser(ctx context.Context, user *User) error {
	current, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return err
	}
	if user.UserHash != current.UserHash {
		return ErrUserHashImmutable
	}
	if strings.TrimSpace(user.Email) == "" {
		return ErrEmailRequired
	}
	if err := ValidatePhoneNumber(user.PhoneNumber); err != nil {
		return err
	}
	user.Email = NormalizeEmail(user.Email)

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// HasPerm grants everything to admin and superuser accounts; other accounts need the
// permission itself and must be active.
func (s *Service) HasPerm(ctx context.Context, user *User, perm string) (bool, error) {
	if user.IsAdmin || user.IsSuperuser {
		return true, nil
	}
	if !user.IsActive {
		return false, nil
	}
	perms, err := s.store.ListPermissions(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load permissions: %w", err)
	}
	for _, p := range perms {
		if p == perm {
			return true, nil
		}
	}
	return false, nil
}

// HasModulePerms reports whether the account may see the application area at all.
func (s *Service) HasModulePerms(ctx context.Context, user *User, appLabel string) (bool, error) {
	if user.IsAdmin || user.IsSuperuser {
		return true, nil
	}
	if !user.IsActive {
		return false, nil
	}
	perms, err := s.store.ListPermissions(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load permissions: %w", err)
	}
	prefix := appLabel + "."
	for _, p := range perms {
		if strings.HasPrefix(p, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// ParentChoices returns every parent-flagged account
func (s *Service) ParentChoices(ctx context.Context) ([]User, error) {
	hasParents, err := s.store.HasParentAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if !hasParents {
		return nil, nil
	}
	return s.store.ListParentAccounts(ctx)
}

// Family returns the parents and the children linked to the user
func (s *Service) Family(ctx context.Context, user *User) (parents, children []User, err error) {
	parents, err = s.store.ListParents(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load parents: %w", err)
	}
	children, err = s.store.ListChildren(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load children: %w", err)
	}
	return parents, children, nil
}

// GetUserByID retrieves a user by ID
func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.store.GetUserByID(ctx, id)
}

// GetUserByEmail retrieves a user by email, ignoring case
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.store.GetUserByEmail(ctx, email)
}

// ListUsers returns a filtered page of users for operators
func (s *Service) ListUsers(ctx context.Context, filter ListFilter) ([]User, error) {
	if filter.Now.IsZero() {
		filter.Now = s.now()
	}
	return s.store.ListUsers(ctx, filter)
}
