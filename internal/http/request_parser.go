// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// Create bodies arrive either as JSON or as urlencoded forms; both are reduced
// to the same CreateExpenseRequest before validation.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"kakeibo/internal/core"
)

// maxBodyBytes caps request bodies read by the parser.
const maxBodyBytes = 1 << 20

// maxNumberLen bounds JSON number literals considered for integer conversion.
const maxNumberLen = 64

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}

	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}

	// JSON when declared or when the content looks like an object
	if trimmed[0] == '{' || strings.HasPrefix(p.contentType, "application/json") {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		p.jsonData = make(map[string]any)
		if err := dec.Decode(&p.jsonData); err != nil {
			p.jsonData = nil
			p.err = err
			return err
		}
		return nil
	}

	// Fall back to form parsing
	p.formData, p.err = url.ParseQuery(string(trimmed))
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// stringValue converts a decoded JSON value to string. Whole numbers written
// with an exponent or a zero fraction keep their exact integer form; anything
// else is returned verbatim for the validator to reject.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return val.String()
		}
		// Long literals and huge exponents never hold an int64.
		if f, err := val.Float64(); err != nil || math.Abs(f) > 1<<63 || len(val) > maxNumberLen {
			return val.String()
		}
		d, err := decimal.NewFromString(val.String())
		if err == nil && d.IsZero() {
			return "0"
		}
		if err == nil && d.IsInteger() {
			if n := d.BigInt(); n.IsInt64() {
				return n.String()
			}
		}
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// CreateExpenseRequest is the normalized create body.
type CreateExpenseRequest struct {
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Category string `json:"category" validate:"required"`
	Product  string `json:"product" validate:"required"`
	Store    string `json:"store" validate:"required"`
	Amount   string `json:"amount" validate:"required,nonzero,integer,amount_range"`
}

// RequestError is a client error detected while reading a request.
type RequestError struct {
	Message string
	Fields  []string
}

func (e *RequestError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Fields, "; ")
}

// presenceTags are failures reported as missing fields rather than malformed ones.
var presenceTags = map[string]bool{"required": true, "nonzero": true}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// integer accepts any base-10 int64, sign included.
	_ = v.RegisterValidation("integer", func(fl validator.FieldLevel) bool {
		_, err := strconv.ParseInt(fl.Field().String(), 10, 64)
		return err == nil
	})
	// nonzero rejects integers equal to zero and leaves other strings to integer.
	_ = v.RegisterValidation("nonzero", func(fl validator.FieldLevel) bool {
		n, err := strconv.ParseInt(fl.Field().String(), 10, 64)
		return err != nil || n != 0
	})
	// amount_range keeps integers inside the storage column.
	_ = v.RegisterValidation("amount_range", func(fl validator.FieldLevel) bool {
		n, err := strconv.ParseInt(fl.Field().String(), 10, 64)
		return err == nil && n >= core.MinAmount && n <= core.MaxAmount
	})
	return v
}

// ParseCreateExpense reads and validates a create body. Missing fields win
// over malformed ones.
func ParseCreateExpense(w http.ResponseWriter, r *http.Request) (core.Expense, error) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		return core.Expense{}, &RequestError{Message: MsgInvalidBody}
	}

	req := CreateExpenseRequest{
		Date:     p.Get("date"),
		Category: p.Get("category"),
		Product:  p.Get("product"),
		Store:    p.Get("store"),
		Amount:   p.Get("amount"),
	}
	return req.ToExpense()
}

// ToExpense validates the request and converts it to a domain expense.
func (req CreateExpenseRequest) ToExpense() (core.Expense, error) {
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return core.Expense{}, fmt.Errorf("validate create request: %w", err)
		}
		var problems []string
		for _, fe := range fieldErrs {
			if presenceTags[fe.Tag()] {
				return core.Expense{}, &RequestError{Message: MsgAllFieldsRequired}
			}
			problems = append(problems, describeFieldError(fe))
		}
		return core.Expense{}, &RequestError{Message: MsgInvalidFields, Fields: problems}
	}

	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Expense{}, &RequestError{Message: MsgInvalidFields, Fields: []string{"date: must be a YYYY-MM-DD date"}}
	}
	amount, err := strconv.ParseInt(req.Amount, 10, 64)
	if err != nil {
		return core.Expense{}, &RequestError{Message: MsgInvalidFields, Fields: []string{"amount: must be an integer"}}
	}

	return core.Expense{
		Date:     date,
		Category: req.Category,
		Product:  req.Product,
		Store:    req.Store,
		Amount:   amount,
	}, nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "datetime":
		return fe.Field() + ": must be a YYYY-MM-DD date"
	case "integer":
		return fe.Field() + ": must be an integer"
	case "amount_range":
		return fmt.Sprintf("%s: must be between %d and %d", fe.Field(), core.MinAmount, core.MaxAmount)
	default:
		return fe.Field() + ": failed " + fe.Tag()
	}
}
