package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/capture"
	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/dvloznov/s1a-ledger/internal/jobs"
	"github.com/dvloznov/s1a-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/s1a-ledger/internal/ledger"
	"github.com/dvloznov/s1a-ledger/internal/persist"
	"github.com/dvloznov/s1a-ledger/internal/session"
	"github.com/dvloznov/s1a-ledger/internal/transcribe"
	"github.com/dvloznov/s1a-ledger/internal/voice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)

type fakeTranscriber struct {
	text string
	tx   transcribe.PartialTransaction
	err  error
}

func (f *fakeTranscriber) TranscribeVerbatim(ctx context.Context, clip capture.Clip) (string, error) {
	return f.text, f.err
}

func (f *fakeTranscriber) TranscribeNormalizedField(ctx context.Context, clip capture.Clip, field domain.InfoField) (string, error) {
	return f.text, f.err
}

func (f *fakeTranscriber) ExtractTransaction(ctx context.Context, clip capture.Clip) (transcribe.PartialTransaction, error) {
	return f.tx, f.err
}

type fakeStorage struct {
	uploads map[string][]byte
}

func (f *fakeStorage) Upload(ctx context.Context, bucket, object, contentType string, data []byte) (string, error) {
	uri := "gs://" + bucket + "/" + object
	f.uploads[uri] = data
	return uri, nil
}

func (f *fakeStorage) Fetch(ctx context.Context, uri string) ([]byte, error) {
	data, ok := f.uploads[uri]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeStorage) Close() error { return nil }

type testServer struct {
	handler http.Handler
	session *session.Session
	storage *fakeStorage
	tr      *fakeTranscriber
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := ledger.NewStore(domain.DefaultState(), ledger.WithClock(func() time.Time { return fixedNow }))
	gw := persist.New(persist.NewMemoryBackend(), persist.WithDebounce(0))
	tr := &fakeTranscriber{}
	coord := voice.New(store, tr, voice.WithClock(func() time.Time { return fixedNow }))
	s := session.New(store, gw, coord, zerolog.Nop())
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { s.Close(context.Background()) })

	storage := &fakeStorage{uploads: map[string][]byte{}}
	h := NewRouter(Deps{
		Session: s,
		Jobs:    inmemory.NewStore(),
		Storage: storage,
		Bucket:  "ledgers",
		Now:     func() time.Time { return fixedNow },
		Log:     zerolog.Nop(),
	})
	return &testServer{handler: h, session: s, storage: storage, tr: tr}
}

func (ts *testServer) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

type ledgerResponse struct {
	Info         domain.TaxpayerInfo  `json:"info"`
	Transactions []domain.Transaction `json:"transactions"`
	Total        int64                `json:"total"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestLedgerEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/ledger", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[ledgerResponse](t, rec)
	assert.Equal(t, int64(3000000), got.Total)
	assert.Len(t, got.Transactions, 2)

	rec = ts.do(t, http.MethodPut, "/api/ledger/info/taxId", "application/json", `{"value":"0101234567"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0101234567", ts.session.Store.Snapshot().Info.TaxID)

	rec = ts.do(t, http.MethodPut, "/api/ledger/info/phone", "application/json", `{"value":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/ledger/transactions", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	added := decode[struct {
		ID string `json:"id"`
	}](t, rec)
	require.NotEmpty(t, added.ID)

	rec = ts.do(t, http.MethodPatch, "/api/ledger/transactions/"+added.ID, "application/json", `{"field":"amount","value":"1.500.000đ"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[ledgerResponse](t, rec)
	assert.Equal(t, int64(4500000), got.Total)
	assert.Equal(t, "05/03/2024", got.Transactions[2].Date)

	rec = ts.do(t, http.MethodPatch, "/api/ledger/transactions/nope", "application/json", `{"field":"amount","value":"1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/api/ledger/transactions/"+added.ID, "application/json", `{"field":"note","value":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/ledger/transactions/"+added.ID, "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, ts.session.Store.Snapshot().Transactions, 2)

	rec = ts.do(t, http.MethodDelete, "/api/ledger/transactions/"+added.ID, "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAddTransaction_WithBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/ledger/transactions", "application/json",
		`{"date":"04/03/2024","description":"Bán nước","amount":-20000}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rows := ts.session.Store.Snapshot().Transactions
	require.Len(t, rows, 3)
	assert.Equal(t, "Bán nước", rows[2].Description)
	assert.Equal(t, int64(0), rows[2].Amount)
}

func TestReset_RequiresConfirmation(t *testing.T) {
	ts := newTestServer(t)
	ts.session.Store.SetInfoField(domain.FieldName, "Trần B")

	rec := ts.do(t, http.MethodPost, "/api/ledger/reset", "application/json", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Trần B", ts.session.Store.Snapshot().Info.Name)

	rec = ts.do(t, http.MethodPost, "/api/ledger/reset", "application/json", `{"confirm":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.DefaultState(), ts.session.Store.Snapshot())
}

func TestImport(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/ledger/import", "application/json", `{"foo":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.DefaultState(), ts.session.Store.Snapshot())

	backup := `{"info":{"name":"Lê C"},"transactions":[{"id":"a","date":"01/02/2024","description":"Bán","amount":5}]}`
	rec = ts.do(t, http.MethodPost, "/api/ledger/import", "application/json", backup)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Lê C", ts.session.Store.Snapshot().Info.Name)
}

func TestImport_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t)

	backup := `{"info":{"name":"Lê C"},"transactions":[],"note":"` + strings.Repeat("x", 5<<20) + `"}`
	rec := ts.do(t, http.MethodPost, "/api/ledger/import", "application/json", backup)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, domain.DefaultState(), ts.session.Store.Snapshot())
}

func TestExportDownload(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/export/doc", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msword", rec.Header().Get("Content-Type"))
	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "S1a-HKD-Nguyễn Văn A.doc", params["filename"])
	assert.Contains(t, rec.Body.String(), "Ngày 5 tháng 3 năm 2024")

	rec = ts.do(t, http.MethodGet, "/api/export/xls?share=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, params, err = mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "Nguyen_Van_A_S1a.xls", params["filename"])

	rec = ts.do(t, http.MethodGet, "/api/export/pdf", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportUploadAndImportFromGCS(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/export/upload?format=json", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[map[string]string](t, rec)
	assert.Equal(t, "gs://ledgers/8000123456/2024-03-05/S1a-HKD-Backup-2024-03-05.json", out["gcs_uri"])

	ts.session.Store.SetInfoField(domain.FieldName, "changed")
	rec = ts.do(t, http.MethodPost, "/api/ledger/import?uri="+out["gcs_uri"], "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Nguyễn Văn A", ts.session.Store.Snapshot().Info.Name)

	rec = ts.do(t, http.MethodPost, "/api/export/archive", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVoiceSubmit(t *testing.T) {
	ts := newTestServer(t)
	ts.tr.tx = transcribe.PartialTransaction{Date: "04/03/2024", Description: "Bán 2 thùng bia", Amount: 700000}

	rec := ts.do(t, http.MethodPost, "/api/voice/smart-add", "audio/webm;codecs=opus", "clip")
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decode[jobs.VoiceJob](t, rec)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)

	rows := ts.session.Store.Snapshot().Transactions
	require.Len(t, rows, 3)
	assert.Equal(t, "Bán 2 thùng bia", rows[2].Description)
	assert.Equal(t, rows[2].ID, job.Result)

	rec = ts.do(t, http.MethodGet, "/api/voice/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[voice.View](t, rec)
	require.NotNil(t, view.Status)
	assert.Equal(t, voice.MsgAdded, view.Status.Message)
}

func TestVoiceSubmit_Errors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/voice/smart-add", "text/plain", "clip")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/voice/transaction:missing", "audio/ogg", "clip")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/voice/nowhere", "audio/ogg", "clip")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.tr.err = &transcribe.Error{Kind: transcribe.KindCredentialMissing, Op: "verbatim", Err: transcribe.ErrNoCredential}
	rec = ts.do(t, http.MethodPost, "/api/voice/transaction:1", "audio/ogg", "clip")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/voice/info:name/capture/start", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/voice/info:name/capture/stop", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/jobs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs":[],"count":0}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/jobs/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
