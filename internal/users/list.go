package users

import (
	"strings"
	"time"
)

// DateFilter narrows a timestamp column to a recent period
type DateFilter string

const (
	DateAny       DateFilter = ""
	DateToday     DateFilter = "today"
	DatePast7Days DateFilter = "past_7_days"
	DateThisMonth DateFilter = "this_month"
	DateThisYear  DateFilter = "this_year"
)

var DateFilterChoices = []Choice{
	{Value: string(DateAny), Label: "Any date"},
	{Value: string(DateToday), Label: "Today"},
	{Value: string(DatePast7Days), Label: "Past 7 days"},
	{Value: string(DateThisMonth), Label: "This month"},
	{Value: string(DateThisYear), Label: "This year"},
}

// Since returns the lower bound of the period relative to now.
// The second result is false for DateAny and unknown values.
func (f DateFilter) Since(now time.Time) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch f {
	case DateToday:
		return today, true
	case DatePast7Days:
		return today.AddDate(0, 0, -7), true
	case DateThisMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), true
	case DateThisYear:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()), true
	}
	return time.Time{}, false
}

// Sortable columns of the admin list
var listOrderColumns = map[string]bool{
	"email":      true,
	"is_admin":   true,
	"last_login": true,
	"created_at": true,
	"updated_at": true,
}

const DefaultListLimit = 100

// ListFilter describes an admin list query
type ListFilter struct {
	Search    string // case-insensitive substring of the email
	IsAdmin   *bool
	LastLogin DateFilter
	CreatedAt DateFilter
	UpdatedAt DateFilter
	OrderBy   string // column name, "-" prefix for descending
	Limit     int
	Offset    int
	Now       time.Time
}

// Order returns the validated sort column and direction, falling back to email ascending.
func (f ListFilter) Order() (column string, desc bool) {
	column = strings.TrimPrefix(f.OrderBy, "-")
	if !listOrderColumns[column] {
		return "email", false
	}
	return column, strings.HasPrefix(f.OrderBy, "-")
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func (f ListFilter) now() time.Time {
	if f.Now.IsZero() {
		return time.Now()
	}
	return f.Now
}
