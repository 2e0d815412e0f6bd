package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/services"
	"kakeibo/internal/storage"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.expenses.ListExpenses(r.Context())
	if err != nil {
		s.storageFailure(w, r, err, applog.OpList, MsgRetrievalFailed)
		return
	}
	if expenses == nil {
		expenses = []core.Expense{}
	}

	Success().Data(expenses).Write(w)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)

	exp, err := ParseCreateExpense(w, r)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			logger.WarnContext(ctx, "Rejected expense",
				applog.FieldErrorType, applog.ErrorTypeValidation,
				applog.FieldOperation, applog.OpCreate,
				applog.FieldError, reqErr.Error())
			BadRequestError(reqErr.Message).Errors(reqErr.Fields).Write(w)
			return
		}
		s.storageFailure(w, r, err, applog.OpCreate, MsgCreateFailed)
		return
	}

	created, err := s.expenses.CreateExpense(ctx, exp)
	if err != nil {
		if core.IsValidationError(err) {
			logger.WarnContext(ctx, "Rejected expense",
				applog.FieldErrorType, applog.ErrorTypeValidation,
				applog.FieldOperation, applog.OpCreate,
				applog.FieldError, err)
			BadRequestError(MsgInvalidFields).Errors([]string{err.Error()}).Write(w)
			return
		}
		s.storageFailure(w, r, err, applog.OpCreate, MsgCreateFailed)
		return
	}

	applog.NewStructuredLogger(logger).LogExpenseCreated(ctx,
		created.ID, created.Date.String(), created.Category, created.Product, created.Store, created.Amount)

	Success().Data(created).Message(MsgExpenseAdded).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// A non-integer id can never match a row.
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		NotFoundError().Write(w)
		return
	}

	if err := s.expenses.DeleteExpense(ctx, id); err != nil {
		if errors.Is(err, services.ErrExpenseNotFound) {
			NotFoundError().Write(w)
			return
		}
		s.storageFailure(w, r, err, applog.OpDelete, MsgDeleteFailed)
		return
	}

	applog.NewStructuredLogger(applog.FromContext(ctx)).LogExpenseDeleted(ctx, id)

	Success().Message(MsgDeleted).Write(w)
}

// handleHealth is a liveness check and never touches storage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	Success().Message(MsgOperational).Timestamp(s.now()).Write(w)
}

// handleReady reports whether the database answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.expenses.CheckConnectivity(ctx); err != nil {
		if errors.Is(err, storage.ErrPoolSaturated) {
			ServiceBusyError().Timestamp(s.now()).Write(w)
			return
		}
		applog.FromContext(ctx).WarnContext(ctx, "Readiness check failed",
			applog.FieldOperation, applog.OpPing,
			applog.FieldError, err)
		ErrorResponse(http.StatusServiceUnavailable, MsgUnavailable).Timestamp(s.now()).Write(w)
		return
	}

	Success().Message(MsgReady).Timestamp(s.now()).Write(w)
}

func handleAPINotFound(w http.ResponseWriter, r *http.Request) {
	NotFoundError().Write(w)
}

func methodNotAllowed(allow string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		MethodNotAllowedError(allow).Write(w)
	}
}

// storageFailure answers a failed gateway call: 503 when the pool turned the
// request away, otherwise a generic 500 with the cause only in the log.
func (s *Server) storageFailure(w http.ResponseWriter, r *http.Request, err error, op, msg string) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)

	if errors.Is(err, storage.ErrPoolSaturated) {
		logger.WarnContext(ctx, "Request rejected by saturated pool",
			applog.FieldOperation, op,
			applog.FieldErrorType, applog.ErrorTypeSaturated)
		ServiceBusyError().Write(w)
		return
	}

	errorType := applog.ErrorTypeDatabase
	if errors.Is(err, context.DeadlineExceeded) {
		errorType = applog.ErrorTypeTimeout
	}
	applog.NewStructuredLogger(logger).LogError(ctx, "Expense operation failed", err,
		applog.ComponentStorage, op, applog.NewFields().WithErrorType(errorType))
	InternalServerError(msg).Write(w)
}
