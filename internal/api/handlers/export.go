package handlers

import (
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/api/middleware"
	"github.com/dvloznov/s1a-ledger/internal/export"
	"github.com/dvloznov/s1a-ledger/internal/gcsuploader"
	bq "github.com/dvloznov/s1a-ledger/internal/infra/bigquery"
	"github.com/dvloznov/s1a-ledger/internal/ledger"
	"github.com/dvloznov/s1a-ledger/internal/logger"
)

// ExportHandler renders the ledger and ships it to GCS or BigQuery.
type ExportHandler struct {
	store   *ledger.Store
	now     func() time.Time
	storage gcsuploader.StorageService
	bucket  string
	archive bq.RevenueArchive
}

// NewExportHandler creates a new export handler. storage and archive may be nil,
// which disables the matching endpoint.
func NewExportHandler(store *ledger.Store, now func() time.Time, storage gcsuploader.StorageService, bucket string, archive bq.RevenueArchive) *ExportHandler {
	return &ExportHandler{
		store:   store,
		now:     now,
		storage: storage,
		bucket:  bucket,
		archive: archive,
	}
}

func (h *ExportHandler) render(w http.ResponseWriter, format string, share bool) (export.Artifact, bool) {
	f, err := export.ParseFormat(format)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, err.Error())
		return export.Artifact{}, false
	}

	state := h.store.Snapshot()
	art, err := export.Render(f, state, h.now())
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to render export")
		return export.Artifact{}, false
	}
	if share && f == export.FormatExcel {
		art.FileName = export.ShareFileName(state.Info.Name)
	}
	return art, true
}

// Download handles GET /api/export/{format}. ?share=1 gives the Excel file an ASCII name.
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	share, _ := strconv.ParseBool(r.URL.Query().Get("share"))
	art, ok := h.render(w, r.PathValue("format"), share)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(art.Data)
}

// Upload handles POST /api/export/upload?format=
func (h *ExportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil || h.bucket == "" {
		middleware.WriteError(w, http.StatusServiceUnavailable, "GCS is not configured")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = string(export.FormatJSON)
	}
	art, ok := h.render(w, format, false)
	if !ok {
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)
	object := gcsuploader.ObjectName(h.store.Snapshot().Info.TaxID, art.FileName, h.now())
	uri, err := h.storage.Upload(ctx, h.bucket, object, art.ContentType, art.Data)
	if err != nil {
		log.Error().Err(err).Str("object", object).Msg("Failed to upload export")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to upload export")
		return
	}

	log.Info().Str("gcs_uri", uri).Int("bytes", len(art.Data)).Msg("Export uploaded")
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"gcs_uri":   uri,
		"file_name": art.FileName,
	})
}

// Archive handles POST /api/export/archive
func (h *ExportHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "BigQuery is not configured")
		return
	}

	ctx := r.Context()
	archiveID, rows, err := h.archive.ArchiveState(ctx, h.store.Snapshot(), h.now())
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to archive ledger")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to archive ledger")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"archive_id": archiveID,
		"rows":       rows,
	})
}
