package pay

import (
	"errors"
	"fmt"
)

// PaymentError carries a machine-readable code alongside the human-readable
// message so callers can branch on failure class without string matching.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes, grouped by how callers should react.
const (
	// Fatal, actionable by the operator. Never retried.
	ErrCodeConfiguration = "configuration_error"

	// Fatal, actionable by the caller. No network call is made.
	ErrCodeValidation       = "validation_error"
	ErrCodeSelfPayment      = "self_payment"
	ErrCodeCeilingExceeded  = "payment_ceiling_exceeded"
	ErrCodeQuoteParse       = "quote_parse_error"
	ErrCodeDecodeFailed     = "proof_decode_error"
	ErrCodeSignatureRefused = "signature_rejected"

	// Fatal, detected pre-flight before any signature prompt.
	ErrCodeInsufficientFunds      = "insufficient_funds"
	ErrCodeInsufficientFeeBalance = "insufficient_fee_balance"

	// Transient. Retried only inside the Solana priority-fee ladder.
	ErrCodeNetwork = "network_error"
	ErrCodeTimeout = "request_timeout"

	// The counterparty said no. Not retried.
	ErrCodeRejected = "payment_rejected"

	// Logged and swallowed by the ledger, never shown to the payer.
	ErrCodePersistence = "persistence_error"
)

// NewPaymentError creates a PaymentError with optional detail fields.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{Code: code, Message: message, Details: details}
}

// Errorf creates a PaymentError with a formatted message and no details.
func Errorf(code, format string, args ...interface{}) *PaymentError {
	return &PaymentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code from err, or "" when err is not a
// PaymentError.
func CodeOf(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsValidation reports whether err is fatal caller input: fix the request,
// do not retry.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case ErrCodeValidation, ErrCodeSelfPayment, ErrCodeCeilingExceeded,
		ErrCodeQuoteParse, ErrCodeDecodeFailed:
		return true
	}
	return false
}

// IsTransient reports whether err is a transport-level failure that a retry
// with identical input could clear.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNetwork, ErrCodeTimeout:
		return true
	}
	return false
}
