package users

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxPasswordBytes is the longest password bcrypt accepts
const MaxPasswordBytes = 72

// UserType is the registration path picked before the registration form.
type UserType string

const (
	UserTypeStudent UserType = "0"
	UserTypeParent  UserType = "1"
)

// Gender is a single-letter gender code
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
	GenderOther  Gender = "O"
)

// BloodGroup is an ABO/Rh blood group code
type BloodGroup string

const (
	BloodGroupAPos  BloodGroup = "A+"
	BloodGroupANeg  BloodGroup = "A-"
	BloodGroupBPos  BloodGroup = "B+"
	BloodGroupBNeg  BloodGroup = "B-"
	BloodGroupABPos BloodGroup = "AB+"
	BloodGroupABNeg BloodGroup = "AB-"
	BloodGroupOPos  BloodGroup = "O+"
	BloodGroupONeg  BloodGroup = "O-"
)

// Choice is a value/label pair rendered as a select option
type Choice struct {
	Value string
	Label string
}

var UserTypeChoices = []Choice{
	{Value: string(UserTypeStudent), Label: "Student"},
	{Value: string(UserTypeParent), Label: "Parent"},
}

var GenderChoices = []Choice{
	{Value: string(GenderMale), Label: "Male"},
	{Value: string(GenderFemale), Label: "Female"},
	{Value: string(GenderOther), Label: "Other"},
}

var BloodGroupChoices = []Choice{
	{Value: string(BloodGroupAPos), Label: "A+"},
	{Value: string(BloodGroupANeg), Label: "A-"},
	{Value: string(BloodGroupBPos), Label: "B+"},
	{Value: string(BloodGroupBNeg), Label: "B-"},
	{Value: string(BloodGroupABPos), Label: "AB+"},
	{Value: string(BloodGroupABNeg), Label: "AB-"},
	{Value: string(BloodGroupOPos), Label: "O+"},
	{Value: string(BloodGroupONeg), Label: "O-"},
}

// IsChoice reports whether value is one of choices
func IsChoice(choices []Choice, value string) bool {
	for _, c := range choices {
		if c.Value == value {
			return true
		}
	}
	return false
}

// User represents an account in the system
type User struct {
	ID           uuid.UUID  `db:"id"`
	Email        string     `db:"email"`
	Username     string     `db:"username"`
	UserHash     string     `db:"user_hash"`
	FirstName    string     `db:"first_name"`
	LastName     string     `db:"last_name"`
	PhoneNumber  string     `db:"phone_number"`
	Gender       Gender     `db:"gender"`
	DateOfBirth  *time.Time `db:"date_of_birth"`
	BloodGroup   BloodGroup `db:"blood_group"`
	City         string     `db:"city"`
	State        string     `db:"state"`
	Country      string     `db:"country"`
	IPAddress    string     `db:"ip_address"`
	PasswordHash string     `db:"password_hash"` // bcrypt, never the raw password
	IsActive     bool       `db:"is_active"`
	IsSuperuser  bool       `db:"is_superuser"`
	IsAdmin      bool       `db:"is_admin"`
	IsStaff      bool       `db:"is_staff"`
	IsStudent    bool       `db:"is_student"`
	IsParent     bool       `db:"is_parent"`
	LastLogin    *time.Time `db:"last_login"` // Pointer to handle NULL values
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func (u *User) String() string {
	return u.Email
}

// FullName returns first and last name joined by a space
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// HasUsablePassword reports whether the account can log in with a password at all
func (u *User) HasUsablePassword() bool {
	return u.PasswordHash != "" && !strings.HasPrefix(u.PasswordHash, unusablePasswordPrefix)
}

const unusablePasswordPrefix = "!"

var phoneNumberPattern = regexp.MustCompile(`^\d{7,10}$`)

// ValidatePhoneNumber checks the 7 to 10 digit pattern
func ValidatePhoneNumber(phone string) error {
	if !phoneNumberPattern.MatchString(phone) {
		return ErrInvalidPhone
	}
	return nil
}

// NormalizeEmail lowercases the domain part of the address and keeps the local part as is.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}

// userHashNamespace must never change: existing hashes are derived from it.
var userHashNamespace = uuid.MustParse("5b0d6f3e-8f43-4d0b-9b1e-6a2f4f0c7d21")

// UserHash derives the opaque account hash from the account id and its email address.
// The address is lowercased first. The id keeps an address that was released by an
// email change from colliding with the hash of the account that held it.
func UserHash(id uuid.UUID, email string) string {
	name := append(id[:], strings.ToLower(strings.TrimSpace(email))...)
	return uuid.NewSHA1(userHashNamespace, name).String()
}
