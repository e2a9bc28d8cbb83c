package users

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailRequired      = errors.New("users must have an email address")
	ErrEmailTaken         = errors.New("user with this email address already exists")
	ErrPhoneTaken         = errors.New("user with this phone number already exists")
	ErrInvalidPhone       = errors.New("enter a valid phone number")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveUser       = errors.New("user account is deactivated")
	ErrParentNotFound     = errors.New("selected parent does not exist")
	ErrUserHashImmutable  = errors.New("user hash cannot be changed")
	ErrUserHashTaken      = errors.New("user hash collides with another account")
	ErrPasswordTooLong    = errors.New("password is longer than 72 bytes")
)
