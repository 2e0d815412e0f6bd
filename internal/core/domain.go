package core

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the calendar date format used on the wire and in storage.
const DateLayout = "2006-01-02"

// Amounts are stored in a signed 32-bit INT column.
const (
	MinAmount = math.MinInt32
	MaxAmount = math.MaxInt32
)

type (
	Date struct {
		time.Time
	}

	Expense struct {
		ID       int64  `json:"id"`
		Date     Date   `json:"date"`
		Category string `json:"category"`
		Product  string `json:"product"`
		Store    string `json:"store"`
		Amount   int64  `json:"amount"`
	}
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrEmptyCategory = errors.New("empty category")
	ErrEmptyProduct  = errors.New("empty product")
	ErrEmptyStore    = errors.New("empty store")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(b))
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer so dates are bound as YYYY-MM-DD text.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner. MySQL DATE columns arrive as []byte when
// parseTime is off, SQLite TEXT columns as string.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = Date{Time: time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)}
		return nil
	case []byte:
		return d.scanString(string(v))
	case string:
		return d.scanString(v)
	case nil:
		*d = Date{}
		return nil
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
}

func (d *Date) scanString(s string) error {
	// Some drivers hand back a full timestamp for DATE columns.
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (e Expense) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if strings.TrimSpace(e.Product) == "" {
		return ErrEmptyProduct
	}
	if strings.TrimSpace(e.Store) == "" {
		return ErrEmptyStore
	}
	if e.Amount == 0 || e.Amount < MinAmount || e.Amount > MaxAmount {
		return ErrInvalidAmount
	}
	return nil
}

// IsValidationError reports whether err came from Expense.Validate.
func IsValidationError(err error) bool {
	for _, target := range []error{ErrInvalidDate, ErrInvalidAmount, ErrEmptyCategory, ErrEmptyProduct, ErrEmptyStore} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
