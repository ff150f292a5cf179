package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Package model defines the data structures used by the ledger API.

// Balances and amounts use "github.com/shopspring/decimal" instead of float64.
// A float64 cannot represent most decimal values exactly (0.1 + 0.2 != 0.3), and
// the rounding errors accumulate across deposits, withdrawals and transfers.

// Account represents a ledger account with its ID and balance.
type Account struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
}

// EventType discriminates the mutating operations accepted on the event endpoint.
type EventType string

const (
	EventDeposit  EventType = "deposit"
	EventWithdraw EventType = "withdraw"
	EventTransfer EventType = "transfer"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventDeposit, EventWithdraw, EventTransfer:
		return true
	}
	return false
}

// EventRequest defines the expected JSON body for submitting a deposit, withdraw or transfer.
// ID is accepted in place of Destination for deposits and in place of Origin for withdrawals.
type EventRequest struct {
	Type        EventType       `json:"type"`
	ID          string          `json:"id,omitempty"`
	Origin      string          `json:"origin,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// DepositTarget returns the account a deposit credits.
func (r EventRequest) DepositTarget() string {
	if r.Destination != "" {
		return r.Destination
	}
	return r.ID
}

// WithdrawSource returns the account a withdrawal debits.
func (r EventRequest) WithdrawSource() string {
	if r.Origin != "" {
		return r.Origin
	}
	return r.ID
}

// CreateAccountRequest defines the expected JSON body for creating an account.
type CreateAccountRequest struct {
	ID             string          `json:"id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// TransferResult holds both updated accounts of a completed transfer.
type TransferResult struct {
	Origin      *Account `json:"origin"`
	Destination *Account `json:"destination"`
}

// ErrorResponse is the body written for every failed ledger operation.
// Account carries the best-effort current balance as a JSON number (zero when unknown).
type ErrorResponse struct {
	Error   string      `json:"error"`
	Account json.Number `json:"account"`
	Code    string      `json:"code"`
}

// EventResponse is the body returned for a successful deposit or withdrawal.
type EventResponse struct {
	Origin      *Account `json:"origin,omitempty"`
	Destination *Account `json:"destination,omitempty"`
}
