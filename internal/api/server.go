/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"escrow-sync-go/internal/escrow"
	"escrow-sync-go/internal/httputil"
	"escrow-sync-go/internal/ledger"
	"escrow-sync-go/internal/models"
	"escrow-sync-go/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Signers resolves account names or addresses from requests.
type Signers interface {
	Signer(id string) (ledger.Signer, error)
	Address(id string) string
}

// EventSource hands out agreement event streams.
type EventSource interface {
	Listen() (<-chan models.AgreementEvent, func())
}

// Server is the presentation adapter in front of the agreement controller.
type Server struct {
	controller *escrow.Controller
	signers    Signers
	events     EventSource
}

func NewServer(controller *escrow.Controller, signers Signers, events EventSource) *Server {
	return &Server{controller: controller, signers: signers, events: events}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httputil.RequestId)
	r.Use(httputil.Recover)
	r.Use(httputil.Logging)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/agreements", func(r chi.Router) {
		r.Get("/", s.listAgreements)
		r.Post("/", s.createAgreement)
		r.Get("/events", s.streamEvents)
		r.Get("/{address}", s.getAgreement)
		r.Post("/{address}/approve", s.approveAgreement)
		r.Post("/{address}/persist", s.persistAgreement)
	})
	return r
}

func (s *Server) listAgreements(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.controller.Agreements())
}

func (s *Server) getAgreement(w http.ResponseWriter, r *http.Request) {
	agreement, ok := s.controller.Agreement(chi.URLParam(r, "address"))
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "Agreement not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agreement)
}

type createRequest struct {
	Depositor   string      `json:"depositor"`
	Arbiter     string      `json:"arbiter"`
	Beneficiary string      `json:"beneficiary"`
	Value       json.Number `json:"value"`
	Kind        string      `json:"kind"`
}

func (s *Server) createAgreement(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	signer, err := s.signers.Signer(req.Depositor)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "depositor: "+err.Error())
		return
	}

	agreement, err := s.controller.CreateAgreement(r.Context(), signer, escrow.CreateAgreementParams{
		Arbiter:     s.signers.Address(req.Arbiter),
		Beneficiary: s.signers.Address(req.Beneficiary),
		Value:       req.Value.String(),
		Kind:        req.Kind,
	})
	if err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, agreement)
}

type approveRequest struct {
	Approver string `json:"approver"`
}

func (s *Server) approveAgreement(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	signer, err := s.signers.Signer(req.Approver)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "approver: "+err.Error())
		return
	}

	ack, err := s.controller.RequestApproval(r.Context(), signer, chi.URLParam(r, "address"))
	if err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, ack)
}

// persistAgreement retries the mirror write for an agreement the ledger has
// already funded, using the record returned with the original 500.
func (s *Server) persistAgreement(w http.ResponseWriter, r *http.Request) {
	var agreement models.Agreement
	if err := json.NewDecoder(r.Body).Decode(&agreement); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	agreement.Address = chi.URLParam(r, "address")

	stored, err := s.controller.PersistAgreement(r.Context(), agreement)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, stored)
}

type persistenceErrorBody struct {
	httputil.ErrorBody
	Agreement *models.Agreement `json:"agreement,omitempty"`
}

func writeControllerError(w http.ResponseWriter, err error) {
	var validationErr *escrow.ValidationError
	var persistenceErr *escrow.PersistenceError

	switch {
	case errors.As(err, &validationErr):
		httputil.WriteError(w, http.StatusBadRequest, validationErr.Reason)
	case errors.As(err, &persistenceErr):
		httputil.WriteJSON(w, http.StatusInternalServerError, persistenceErrorBody{
			ErrorBody: httputil.ErrorBody{Error: persistenceErr.Error(), Address: persistenceErr.Address},
			Agreement: persistenceErr.Agreement,
		})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ledger.ErrUnknownAgreement):
		httputil.WriteError(w, http.StatusNotFound, "Agreement not found")
	case errors.Is(err, ledger.ErrNotArbiter):
		httputil.WriteError(w, http.StatusForbidden, "Only the arbiter can approve this agreement")
	case errors.Is(err, escrow.ErrLedger):
		httputil.WriteError(w, http.StatusBadGateway, err.Error())
	default:
		zap.L().Error("Unhandled controller error", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
