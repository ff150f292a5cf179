package handler

import (
	"encoding/json"
	"net/http"

	"ledger-api/ledger"
	"ledger-api/model"

	"github.com/sirupsen/logrus"
)

// EventHandler holds dependencies for the balance-changing event endpoint.
type EventHandler struct {
	svc ledger.Service
	log logrus.FieldLogger
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(svc ledger.Service, log logrus.FieldLogger) *EventHandler {
	return &EventHandler{svc: svc, log: log}
}

// CreateEventHandler handles a deposit, withdraw or transfer selected by the "type" field.
//
// Method: POST
// Path: /event
// Success: 201 Created (deposit or transfer that created the destination account)
// Success: 200 OK (otherwise)
// Error: 400 Bad Request (invalid JSON, invalid event type, missing accounts, non-positive amount, insufficient funds)
// Error: 404 Not Found (withdraw or transfer from a missing account)
// Error: 500 Internal Server Error (transfer error or database errors)
func (h *EventHandler) CreateEventHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(h.log, r)

	var req model.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, codeInvalidRequest, "Invalid request body", log)
		return
	}

	// Amounts are validated by the ledger.
	if !req.Type.Valid() {
		writeBadRequest(w, codeInvalidEventType, "invalid event type", log)
		return
	}

	switch req.Type {
	case model.EventDeposit:
		h.deposit(w, r, req, log)
	case model.EventWithdraw:
		h.withdraw(w, r, req, log)
	case model.EventTransfer:
		h.transfer(w, r, req, log)
	}
}

func (h *EventHandler) deposit(w http.ResponseWriter, r *http.Request, req model.EventRequest, log logrus.FieldLogger) {
	id := req.DepositTarget()
	if id == "" {
		writeBadRequest(w, codeInvalidRequest, "Destination account is required", log)
		return
	}

	acc, created, err := h.svc.Deposit(r.Context(), id, req.Amount)
	if err != nil {
		writeError(w, err, log)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, model.EventResponse{Destination: acc}, log)
}

func (h *EventHandler) withdraw(w http.ResponseWriter, r *http.Request, req model.EventRequest, log logrus.FieldLogger) {
	id := req.WithdrawSource()
	if id == "" {
		writeBadRequest(w, codeInvalidRequest, "Origin account is required", log)
		return
	}

	acc, err := h.svc.Withdraw(r.Context(), id, req.Amount)
	if err != nil {
		writeError(w, err, log)
		return
	}
	writeJSON(w, http.StatusOK, model.EventResponse{Origin: acc}, log)
}

func (h *EventHandler) transfer(w http.ResponseWriter, r *http.Request, req model.EventRequest, log logrus.FieldLogger) {
	if req.Origin == "" || req.Destination == "" {
		writeBadRequest(w, codeInvalidRequest, "Origin and destination accounts are required", log)
		return
	}
	if req.Origin == req.Destination {
		writeBadRequest(w, codeInvalidRequest, "Origin and destination accounts cannot be the same", log)
		return
	}

	res, created, err := h.svc.Transfer(r.Context(), req.Origin, req.Destination, req.Amount)
	if err != nil {
		writeError(w, err, log)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res, log)
}
