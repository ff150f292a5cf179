package handler

import (
	"ledger-api/ledger"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every endpoint of the ledger API.
func NewRouter(svc ledger.Service, log logrus.FieldLogger) *mux.Router {
	accountHandler := NewAccountHandler(svc, log)
	eventHandler := NewEventHandler(svc, log)

	r := mux.NewRouter()
	r.Use(RequestID, AccessLog(log))

	r.HandleFunc("/", IndexHandler).Methods("GET")
	r.HandleFunc("/reset", accountHandler.ResetHandler).Methods("POST")
	r.HandleFunc("/balance", accountHandler.BalanceHandler).Methods("GET")
	r.HandleFunc("/accounts", accountHandler.CreateAccountHandler).Methods("POST")
	r.HandleFunc("/accounts/{account_id}", accountHandler.GetAccountHandler).Methods("GET")
	r.HandleFunc("/event", eventHandler.CreateEventHandler).Methods("POST")

	return r
}
