// Package api wires the HTTP handlers into a router with the middleware chain.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/api/handlers"
	"github.com/dvloznov/s1a-ledger/internal/api/middleware"
	"github.com/dvloznov/s1a-ledger/internal/gcsuploader"
	bq "github.com/dvloznov/s1a-ledger/internal/infra/bigquery"
	"github.com/dvloznov/s1a-ledger/internal/jobs"
	"github.com/dvloznov/s1a-ledger/internal/session"
	"github.com/rs/zerolog"
)

// Deps are the collaborators the router serves. Storage and Archive are optional.
type Deps struct {
	Session *session.Session
	Jobs    jobs.JobStore
	Storage gcsuploader.StorageService
	Bucket  string
	Archive bq.RevenueArchive
	Now     func() time.Time
	Log     zerolog.Logger
}

// NewRouter builds the API handler.
func NewRouter(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}

	ledgerHandler := handlers.NewLedgerHandler(d.Session, d.Storage)
	voiceHandler := handlers.NewVoiceHandler(d.Session.Voice)
	exportHandler := handlers.NewExportHandler(d.Session.Store, d.Now, d.Storage, d.Bucket, d.Archive)
	jobsHandler := handlers.NewJobsHandler(d.Jobs)

	mux := http.NewServeMux()

	// Ledger endpoints
	mux.HandleFunc("GET /api/ledger", ledgerHandler.Get)
	mux.HandleFunc("PUT /api/ledger/info/{field}", ledgerHandler.SetInfo)
	mux.HandleFunc("POST /api/ledger/transactions", ledgerHandler.AddTransaction)
	mux.HandleFunc("PATCH /api/ledger/transactions/{id}", ledgerHandler.UpdateTransaction)
	mux.HandleFunc("DELETE /api/ledger/transactions/{id}", ledgerHandler.RemoveTransaction)
	mux.HandleFunc("POST /api/ledger/reset", ledgerHandler.Reset)
	mux.HandleFunc("POST /api/ledger/import", ledgerHandler.Import)

	// Export endpoints
	mux.HandleFunc("GET /api/export/{format}", exportHandler.Download)
	mux.HandleFunc("POST /api/export/upload", exportHandler.Upload)
	mux.HandleFunc("POST /api/export/archive", exportHandler.Archive)

	// Voice endpoints
	mux.HandleFunc("GET /api/voice/status", voiceHandler.Status)
	mux.HandleFunc("POST /api/voice/{target}", voiceHandler.Submit)
	mux.HandleFunc("POST /api/voice/{target}/capture/{action}", voiceHandler.Capture)

	// Jobs endpoints
	mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", jobsHandler.GetJob)

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   d.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(d.Log)(
		middleware.RequestID(
			middleware.Logger(d.Log)(
				middleware.CORS(mux),
			),
		),
	)
}
