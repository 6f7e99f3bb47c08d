package ticketbooth

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrInvalidInput = errors.New("ticketbooth: invalid input")

	// Agent errors
	ErrAgentNotFound     = errors.New("ticketbooth: agent not found")
	ErrAgentExists       = errors.New("ticketbooth: agent already registered")
	ErrInsufficientFunds = errors.New("ticketbooth: insufficient funds")

	// Stream errors
	ErrStreamNotFound = errors.New("ticketbooth: stream not found")
	ErrStreamExists   = errors.New("ticketbooth: stream already exists")
	ErrStreamInactive = errors.New("ticketbooth: stream is not active")

	// Ticket errors
	ErrTicketNotFound     = errors.New("ticketbooth: ticket not found")
	ErrTicketNotActive    = errors.New("ticketbooth: ticket not active")
	ErrTicketExpired      = errors.New("ticketbooth: ticket expired")
	ErrTransitionConflict = errors.New("ticketbooth: ticket state changed concurrently")

	// Payment errors
	ErrPaymentPending = errors.New("ticketbooth: payment pending")
	ErrPaymentFailed  = errors.New("ticketbooth: payment failed")

	// Session errors
	ErrSessionExists   = errors.New("ticketbooth: watch session already started")
	ErrSessionEnded    = errors.New("ticketbooth: watch session ended")
	ErrWatchUnfinished = errors.New("ticketbooth: watch not finished")

	// Metering errors
	ErrMeterBufferFull = errors.New("ticketbooth: meter buffer full")

	// Digest errors
	ErrDigestNotFound = errors.New("ticketbooth: digest not found")
	ErrDigestExists   = errors.New("ticketbooth: digest already exists for ticket")
	ErrNoOwner        = errors.New("ticketbooth: agent has no owner to notify")

	// Collaborator errors
	ErrUpstreamUnavailable = errors.New("ticketbooth: upstream unavailable")

	// Store errors
	ErrStoreClosed = errors.New("ticketbooth: store is closed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("ticketbooth: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrStreamNotFound) ||
		errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrDigestNotFound)
}

// IsConflict returns true if the error reports a duplicate or a lost race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAgentExists) ||
		errors.Is(err, ErrStreamExists) ||
		errors.Is(err, ErrDigestExists) ||
		errors.Is(err, ErrSessionExists) ||
		errors.Is(err, ErrWatchUnfinished) ||
		errors.Is(err, ErrTransitionConflict)
}

// IsNotActive returns true if the ticket cannot be watched right now.
func IsNotActive(err error) bool {
	return errors.Is(err, ErrTicketNotActive) ||
		errors.Is(err, ErrTicketExpired) ||
		errors.Is(err, ErrSessionEnded)
}

// IsPaymentError returns true if the error is caused by payment state.
func IsPaymentError(err error) bool {
	return errors.Is(err, ErrPaymentPending) ||
		errors.Is(err, ErrPaymentFailed) ||
		errors.Is(err, ErrInsufficientFunds)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrMeterBufferFull) ||
		errors.Is(err, ErrPaymentPending)
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, op, err)
}
