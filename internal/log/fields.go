package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldReferer       = "referer"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"
	FieldExpenseID     = "expense_id"
	FieldDate          = "date"
	FieldCategory      = "category"
	FieldProduct       = "product"
	FieldStore         = "store"
	FieldAmount        = "amount"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentExpense   = "expense"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpDelete   = "delete"
	OpList     = "list"
	OpPing     = "ping"
	OpMigrate  = "migrate"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpValidate = "validate"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeTimeout       = "timeout_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeSaturated     = "pool_saturated"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithErrorType adds the error category
func (f LogFields) WithErrorType(errorType string) LogFields {
	f[FieldErrorType] = errorType
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithExpense adds expense-related fields
func (f LogFields) WithExpense(id int64, date, category, product, store string, amount int64) LogFields {
	if id != 0 {
		f[FieldExpenseID] = id
	}
	f[FieldDate] = date
	f[FieldCategory] = category
	f[FieldProduct] = product
	f[FieldStore] = store
	f[FieldAmount] = amount
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	if referer != "" {
		f[FieldReferer] = referer
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
