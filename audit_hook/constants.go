package audithook

// Action constants for audit events.
const (
	// Ticket actions
	ActionTicketPurchased = "ticket.purchased"
	ActionTicketReused    = "ticket.reused"
	ActionTicketExpired   = "ticket.expired"

	// Payment actions
	ActionPaymentSettled = "payment.settled"
	ActionPaymentFailed  = "payment.failed"

	// Session actions
	ActionSessionOpened = "session.opened"
	ActionSessionClosed = "session.closed"

	// Digest actions
	ActionDigestCreated        = "digest.created"
	ActionDigestDelivered      = "digest.delivered"
	ActionDigestDeliveryFailed = "digest.delivery_failed"
)

// Resource constants for audit events.
const (
	ResourceTicket  = "ticket"
	ResourcePayment = "payment"
	ResourceSession = "session"
	ResourceDigest  = "digest"
)

// Category constants for audit events.
const (
	CategoryAccess       = "access"
	CategoryPayment      = "payment"
	CategoryUsage        = "usage"
	CategoryNotification = "notification"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
