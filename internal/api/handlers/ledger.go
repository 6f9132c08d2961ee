// Package handlers implements the HTTP endpoints of the ledger service.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dvloznov/s1a-ledger/internal/api/middleware"
	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/dvloznov/s1a-ledger/internal/gcsuploader"
	"github.com/dvloznov/s1a-ledger/internal/logger"
	"github.com/dvloznov/s1a-ledger/internal/session"
)

// maxImportBytes bounds an imported backup.
const maxImportBytes = 5 << 20

// LedgerView is the ledger as returned by the API.
type LedgerView struct {
	domain.State
	Total int64 `json:"total"`
}

func viewOf(state domain.State) LedgerView {
	return LedgerView{State: state, Total: state.Total()}
}

// LedgerHandler handles the ledger editing endpoints.
type LedgerHandler struct {
	session *session.Session
	storage gcsuploader.StorageService
}

// NewLedgerHandler creates a new ledger handler. storage may be nil, which disables
// importing from gs:// URIs.
func NewLedgerHandler(s *session.Session, storage gcsuploader.StorageService) *LedgerHandler {
	return &LedgerHandler{session: s, storage: storage}
}

// Get handles GET /api/ledger
func (h *LedgerHandler) Get(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, viewOf(h.session.Store.Snapshot()))
}

// SetInfo handles PUT /api/ledger/info/{field}
func (h *LedgerHandler) SetInfo(w http.ResponseWriter, r *http.Request) {
	field, err := domain.ParseInfoField(r.PathValue("field"))
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	var req struct {
		Value *string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		middleware.WriteError(w, http.StatusBadRequest, "value is required")
		return
	}

	h.session.Store.SetInfoField(field, *req.Value)
	middleware.WriteJSON(w, http.StatusOK, viewOf(h.session.Store.Snapshot()))
}

// AddTransaction handles POST /api/ledger/transactions. An empty body adds a blank row
// dated today.
func (h *LedgerHandler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date        string `json:"date"`
		Description string `json:"description"`
		Amount      int64  `json:"amount"`
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var id string
	if req.Date == "" && req.Description == "" && req.Amount == 0 {
		id = h.session.Store.AddTransaction()
	} else {
		id = h.session.Store.AppendTransaction(domain.Transaction{
			Date:        req.Date,
			Description: req.Description,
			Amount:      req.Amount,
		})
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     id,
		"ledger": viewOf(h.session.Store.Snapshot()),
	})
}

// UpdateTransaction handles PATCH /api/ledger/transactions/{id}
func (h *LedgerHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	field, err := domain.ParseTransactionField(req.Field)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !hasTransaction(h.session.Store.Snapshot(), id) {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}

	h.session.Store.UpdateTransactionField(id, field, req.Value)
	middleware.WriteJSON(w, http.StatusOK, viewOf(h.session.Store.Snapshot()))
}

// RemoveTransaction handles DELETE /api/ledger/transactions/{id}. Removing an unknown
// id is not an error.
func (h *LedgerHandler) RemoveTransaction(w http.ResponseWriter, r *http.Request) {
	h.session.Store.RemoveTransaction(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// Reset handles POST /api/ledger/reset
func (h *LedgerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		middleware.WriteError(w, http.StatusBadRequest, `reset needs {"confirm": true}`)
		return
	}

	if err := h.session.Reset(r.Context()); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to reset ledger")
		writeErr(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, viewOf(h.session.Store.Snapshot()))
}

// Import handles POST /api/ledger/import. The body is a JSON backup, or empty with
// ?uri=gs://bucket/object to import a backup stored in GCS.
func (h *LedgerHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var body io.Reader
	if uri := r.URL.Query().Get("uri"); uri != "" {
		if h.storage == nil {
			middleware.WriteError(w, http.StatusServiceUnavailable, "GCS is not configured")
			return
		}
		data, err := h.storage.Fetch(ctx, uri)
		if err != nil {
			log.Error().Err(err).Str("uri", uri).Msg("Failed to fetch backup")
			middleware.WriteError(w, http.StatusBadGateway, "Failed to fetch backup")
			return
		}
		body = bytes.NewReader(data)
	} else {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read backup")
			writeErr(w, err)
			return
		}
		body = bytes.NewReader(data)
	}

	state, err := h.session.Import(body)
	if err != nil {
		log.Warn().Err(err).Msg("Import rejected")
		writeErr(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, viewOf(state))
}

func hasTransaction(state domain.State, id string) bool {
	for _, t := range state.Transactions {
		if t.ID == id {
			return true
		}
	}
	return false
}
