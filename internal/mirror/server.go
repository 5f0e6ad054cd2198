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

package mirror

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"escrow-sync-go/internal/httputil"
	"escrow-sync-go/internal/models"
	"escrow-sync-go/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server exposes a MirrorStore over HTTP.
type Server struct {
	store store.MirrorStore
	now   func() time.Time
}

func NewServer(s store.MirrorStore) *Server {
	return &Server{store: s, now: time.Now}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httputil.RequestId)
	r.Use(httputil.Recover)
	r.Use(httputil.Logging)
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/contracts", func(r chi.Router) {
		r.Get("/", s.listContracts)
		r.Post("/", s.createContract)
		r.Put("/{address}/approve", s.approveContract)
	})
	return r
}

func (s *Server) listContracts(w http.ResponseWriter, r *http.Request) {
	agreements, err := s.store.ListAll(r.Context())
	if err != nil {
		zap.L().Error("Failed to list contracts", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load contracts")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agreements)
}

func (s *Server) createContract(w http.ResponseWriter, r *http.Request) {
	var agreement models.Agreement
	if err := json.NewDecoder(r.Body).Decode(&agreement); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if agreement.Address == "" {
		httputil.WriteError(w, http.StatusBadRequest, "address is required")
		return
	}

	stored, err := s.store.Append(r.Context(), agreement)
	if errors.Is(err, store.ErrConflict) {
		httputil.WriteError(w, http.StatusConflict, "Contract already exists")
		return
	}
	if err != nil {
		zap.L().Error("Failed to store contract",
			zap.String("address", agreement.Address),
			zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to save contract")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, stored)
}

// approveContract stamps the approval with the service clock. Any request
// body is ignored.
func (s *Server) approveContract(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	approvedAt := s.now().Unix()

	updated, err := s.store.UpdateApproval(r.Context(), address, approvedAt)
	if errors.Is(err, store.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "Contract not found")
		return
	}
	if err != nil {
		zap.L().Error("Failed to approve contract",
			zap.String("address", address),
			zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update contract")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// cors allows browser clients served from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
