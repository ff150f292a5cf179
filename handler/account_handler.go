package handler

import (
	"encoding/json"
	"net/http"

	"ledger-api/ledger"
	"ledger-api/model"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// AccountHandler holds dependencies for account-related handlers.
type AccountHandler struct {
	svc ledger.Service
	log logrus.FieldLogger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(svc ledger.Service, log logrus.FieldLogger) *AccountHandler {
	return &AccountHandler{svc: svc, log: log}
}

// CreateAccountHandler handles the explicit creation of an account.
// It expects a JSON body with "id" and "initial_balance".
//
// Method: POST
// Path: /accounts
// Success: 201 Created
// Error: 400 Bad Request (for invalid JSON or validation failure)
// Error: 409 Conflict (if the account already exists)
// Error: 500 Internal Server Error (for database errors)
func (h *AccountHandler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(h.log, r)

	var req model.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, codeInvalidRequest, "Invalid request body", log)
		return
	}
	if req.ID == "" {
		writeBadRequest(w, codeInvalidRequest, "Account ID is required", log)
		return
	}

	acc, err := h.svc.CreateAccount(r.Context(), req.ID, req.InitialBalance)
	if err != nil {
		writeError(w, err, log)
		return
	}
	writeJSON(w, http.StatusCreated, acc, log)
}

// GetAccountHandler returns the full account record.
// It expects an "account_id" as a URL path parameter.
//
// Method: GET
// Path: /accounts/{account_id}
// Success: 200 OK
// Error: 404 Not Found (if account does not exist)
// Error: 500 Internal Server Error (for database errors)
func (h *AccountHandler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(h.log, r)

	id := mux.Vars(r)["account_id"]
	if id == "" {
		writeBadRequest(w, codeInvalidRequest, "Account ID is required", log)
		return
	}

	acc, err := h.svc.Balance(r.Context(), id)
	if err != nil {
		writeError(w, err, log)
		return
	}
	writeJSON(w, http.StatusOK, acc, log)
}

// BalanceHandler returns the bare balance of an account as a JSON number.
//
// Method: GET
// Path: /balance?account_id={id}
// Success: 200 OK
// Error: 400 Bad Request (if account_id is missing)
// Error: 404 Not Found (if account does not exist)
func (h *AccountHandler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(h.log, r)

	id := r.URL.Query().Get("account_id")
	if id == "" {
		writeBadRequest(w, codeInvalidRequest, "account_id is required", log)
		return
	}

	acc, err := h.svc.Balance(r.Context(), id)
	if err != nil {
		writeError(w, err, log)
		return
	}
	writeJSON(w, http.StatusOK, json.Number(acc.Balance.String()), log)
}

// ResetHandler deletes every account.
//
// Method: POST
// Path: /reset
// Success: 200 OK with body "OK"
// Error: 500 Internal Server Error (for database errors)
func (h *AccountHandler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(h.log, r)

	if err := h.svc.Reset(r.Context()); err != nil {
		writeError(w, err, log)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// IndexHandler reports that the API is up.
func IndexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("API is working."))
}
