package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/uptrace/bunrouter"

	"github.com/xraph/ticketbooth"
)

// errBadRequest marks malformed requests that never reached the engine.
var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error    string `json:"error"`
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
	TicketID string `json:"ticket_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// handleErrors renders handler errors as JSON with a mapped status code.
func (s *Server) handleErrors(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		err := next(w, req)
		if err == nil {
			return nil
		}

		status := statusOf(err)
		body := errorBody{Error: err.Error()}

		var perr *ticketbooth.PurchaseError
		if errors.As(err, &perr) {
			if perr.Amount.Currency != "" {
				body.Amount = perr.Amount.FormatMajor()
				body.Currency = strings.ToUpper(perr.Amount.Currency)
			}
			if !perr.TicketID.IsNil() {
				body.TicketID = perr.TicketID.String()
			}
		}

		if status >= http.StatusInternalServerError {
			s.logger.Error("request failed",
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
				"error", err,
			)
		} else {
			s.logger.Debug("request rejected",
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
				"error", err,
			)
		}

		writeJSON(w, status, body)
		return nil
	}
}

// statusOf maps an engine error to an HTTP status code.
func statusOf(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ticketbooth.ErrInvalidInput),
		errors.As(err, &verrs):
		return http.StatusBadRequest
	case ticketbooth.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ticketbooth.ErrTicketExpired):
		return http.StatusGone
	case ticketbooth.IsPaymentError(err):
		return http.StatusPaymentRequired
	case ticketbooth.IsNotActive(err), errors.Is(err, ticketbooth.ErrStreamInactive):
		return http.StatusForbidden
	case ticketbooth.IsConflict(err), errors.Is(err, ticketbooth.ErrNoOwner):
		return http.StatusConflict
	case errors.Is(err, ticketbooth.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ticketbooth.ErrStoreClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(req bunrouter.Request, dst any) error {
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid body: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return ticketbooth.ValidationError{Field: fe.Field(), Message: describe(fe)}
		}
		return badRequest("%v", err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "url", "http_url":
		return "must be a URL"
	case "email":
		return "must be an email address"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gte", "min":
		return "must be at least " + fe.Param()
	}
	return "failed " + fe.Tag()
}
