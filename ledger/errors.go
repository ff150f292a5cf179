package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Code is the machine-readable error code returned to callers.
type Code string

const (
	CodeAccountNotFound        Code = "ACCOUNT_NOT_FOUND"
	CodeInsufficientFunds      Code = "INSUFFICIENT_FUNDS"
	CodeTransferError          Code = "TRANSFER_ERROR"
	CodeReconciliationRequired Code = "RECONCILIATION_REQUIRED"
	CodeDuplicateAccount       Code = "DUPLICATE_ACCOUNT"
	CodeInvalidAmount          Code = "INVALID_AMOUNT"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferFailed    = errors.New("transfer failed")
	// ErrReconciliationRequired means a transfer debited the origin, failed to credit the
	// destination, and could not restore the origin. The ledger needs manual repair.
	ErrReconciliationRequired = errors.New("reconciliation required")
	ErrDuplicateAccount       = errors.New("account already exists")
	ErrInvalidAmount          = errors.New("amount must be positive")
)

// Error is returned by every ledger operation that fails for a domain reason.
// Balance is the best-effort current balance of the account involved, zero when unknown.
type Error struct {
	Code    Code
	Message string
	Balance decimal.Decimal
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func notFound(message string) *Error {
	return &Error{Code: CodeAccountNotFound, Message: message, Err: ErrAccountNotFound}
}

func insufficientFunds(balance decimal.Decimal) *Error {
	return &Error{Code: CodeInsufficientFunds, Message: "Insufficient funds", Balance: balance, Err: ErrInsufficientFunds}
}

func invalidAmount(message string) *Error {
	return &Error{Code: CodeInvalidAmount, Message: message, Err: ErrInvalidAmount}
}

func transferFailed(cause error) *Error {
	return &Error{
		Code:    CodeTransferError,
		Message: "An error occurred while transferring funds",
		Err:     errors.Join(ErrTransferFailed, cause),
	}
}

func reconciliationRequired(cause error) *Error {
	return &Error{
		Code:    CodeReconciliationRequired,
		Message: "Transfer failed and the origin account could not be restored",
		Err:     errors.Join(ErrTransferFailed, ErrReconciliationRequired, cause),
	}
}
