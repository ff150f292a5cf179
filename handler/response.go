package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"ledger-api/ledger"
	"ledger-api/model"

	"github.com/sirupsen/logrus"
)

// Error codes produced by the gateway itself rather than the ledger.
const (
	codeInternal         = "INTERNAL_ERROR"
	codeInvalidRequest   = "INVALID_REQUEST"
	codeInvalidEventType = "INVALID_EVENT_TYPE"
)

func writeJSON(w http.ResponseWriter, status int, v any, log logrus.FieldLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Error writing JSON response")
	}
}

// statusFor maps ledger error codes to HTTP status codes.
func statusFor(code ledger.Code) int {
	switch code {
	case ledger.CodeAccountNotFound:
		return http.StatusNotFound
	case ledger.CodeInsufficientFunds, ledger.CodeInvalidAmount:
		return http.StatusBadRequest
	case ledger.CodeDuplicateAccount:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the structured error body for err. Unclassified errors are
// logged and reported as a generic internal error.
func writeError(w http.ResponseWriter, err error, log logrus.FieldLogger) {
	var lerr *ledger.Error
	if !errors.As(err, &lerr) {
		log.WithError(err).Error("Ledger operation failed")
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{
			Error:   "Internal server error",
			Account: json.Number("0"),
			Code:    codeInternal,
		}, log)
		return
	}

	status := statusFor(lerr.Code)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("code", lerr.Code).Error("Ledger operation failed")
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:   lerr.Message,
		Account: json.Number(lerr.Balance.String()),
		Code:    string(lerr.Code),
	}, log)
}

// writeBadRequest rejects a request the gateway could not accept. No account was
// read, so the balance is reported as zero.
func writeBadRequest(w http.ResponseWriter, code, message string, log logrus.FieldLogger) {
	log.WithField("code", code).Debug(message)
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
		Error:   message,
		Account: json.Number("0"),
		Code:    code,
	}, log)
}
