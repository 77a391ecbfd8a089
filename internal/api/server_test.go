package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/eargollo/dochub/internal/classify"
	internaldb "github.com/eargollo/dochub/internal/db"
	"github.com/eargollo/dochub/internal/fingerprint"
	"github.com/eargollo/dochub/internal/intake"
	"github.com/eargollo/dochub/internal/journal"
	"github.com/eargollo/dochub/internal/reconcile"
	"github.com/eargollo/dochub/internal/records"
	"github.com/eargollo/dochub/internal/storage"
	"github.com/eargollo/dochub/internal/trash"
)

type testServer struct {
	*httptest.Server
	deps Deps
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := internaldb.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, internaldb.RunMigrations(db))
	t.Cleanup(func() { db.Close() })

	backend, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	root, err := journal.OpenRoot(ctx, backend)
	require.NoError(t, err)

	rec := records.New(db)
	tr := trash.New(db, root, 30)
	gen := fingerprint.New(fingerprint.Options{}, nil)
	deps := Deps{
		DB:        db,
		Root:      root,
		Reconcile: reconcile.NewManager(db, root, reconcile.DefaultOptions(), rec.ValidIDs, 3),
		Intake:    intake.New(root, gen, intake.Config{Thresholds: classify.DefaultThresholds()}, rec, tr),
		Records:   rec,
		Import:    records.ImportOptions{Column: 1},
		Trash:     tr,
		MaxUpload: 1 << 20,
		Version:   "test",
	}
	srv := httptest.NewServer(Router(deps))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, deps: deps}
}

// multipartBody builds a form with files under field and extra values.
func multipartBody(t *testing.T, field string, files map[string][]byte, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) post(t *testing.T, path string, body *bytes.Buffer, contentType string, out any) int {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	resp, err := http.Post(s.URL+path, contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(s.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func slot(batch, category, action string) string {
	return "/api/batches/" + batch + "/" + url.PathEscape(category) + "/" + action
}

func TestUploadThenCheckFindsDuplicate(t *testing.T) {
	s := newTestServer(t)

	body, ct := multipartBody(t, "files", map[string][]byte{"PO100.pdf": []byte("purchase order")}, nil)
	var submitted struct {
		Files    []intake.Result `json:"files"`
		Failures int             `json:"failures"`
	}
	require.Equal(t, http.StatusOK, s.post(t, slot("6024", "Purchase Order", "documents"), body, ct, &submitted))
	require.Len(t, submitted.Files, 1)
	assert.Equal(t, 0, submitted.Failures)
	assert.Equal(t, "6024 - Purchase Order - PO100.pdf", submitted.Files[0].TargetName)

	body, ct = multipartBody(t, "files", map[string][]byte{"po100.pdf": []byte("purchase order")}, nil)
	var checked struct {
		Files      []intake.FileCheck `json:"files"`
		Duplicates int                `json:"duplicates"`
	}
	require.Equal(t, http.StatusOK, s.post(t, slot("6024", "purchase-order", "check"), body, ct, &checked))
	assert.Equal(t, 1, checked.Duplicates)
	require.Len(t, checked.Files[0].Candidates, 1)
	assert.Equal(t, classify.ReasonHashExact, checked.Files[0].Candidates[0].Reason)

	var batch struct {
		Counts   map[string]int  `json:"counts"`
		Complete bool            `json:"complete"`
		Entries  []journal.Entry `json:"entries"`
	}
	require.Equal(t, http.StatusOK, s.get(t, "/api/journal/6024", &batch))
	assert.Equal(t, 1, batch.Counts["Purchase Order"])
	assert.False(t, batch.Complete)
	assert.Len(t, batch.Entries, 1)
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t)

	body, ct := multipartBody(t, "files", map[string][]byte{"a.pdf": []byte("a")}, nil)
	var e struct {
		Error struct{ Code string } `json:"error"`
	}
	assert.Equal(t, http.StatusBadRequest, s.post(t, slot("6024", "Credit Note", "check"), body, ct, &e))
	assert.Equal(t, "UNKNOWN_CATEGORY", e.Error.Code)

	body, ct = multipartBody(t, "files", map[string][]byte{"a.pdf": []byte("a")}, map[string]string{"decisions": `{"bulk":"delete"}`})
	assert.Equal(t, http.StatusBadRequest, s.post(t, slot("6024", "Sales Order", "documents"), body, ct, &e))
	assert.Equal(t, "INVALID_DECISIONS", e.Error.Code)

	body, ct = multipartBody(t, "other", map[string][]byte{"a.pdf": []byte("a")}, nil)
	assert.Equal(t, http.StatusBadRequest, s.post(t, slot("6024", "Sales Order", "check"), body, ct, &e))
	assert.Equal(t, "NO_FILES", e.Error.Code)
}

func TestImportBatchesRestrictsUploads(t *testing.T) {
	s := newTestServer(t)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetCellValue(sheet, "A1", 6024))
	wb, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	body, ct := multipartBody(t, "file", map[string][]byte{"erp.xlsx": wb.Bytes()}, nil)
	var imported struct{ Imported int }
	require.Equal(t, http.StatusOK, s.post(t, "/api/batches/import", body, ct, &imported))
	assert.Equal(t, 1, imported.Imported)

	var list struct{ Total int }
	require.Equal(t, http.StatusOK, s.get(t, "/api/batches", &list))
	assert.Equal(t, 1, list.Total)

	body, ct = multipartBody(t, "files", map[string][]byte{"a.pdf": []byte("a")}, nil)
	var e struct {
		Error struct{ Code string } `json:"error"`
	}
	assert.Equal(t, http.StatusNotFound, s.post(t, slot("9999", "Sales Order", "check"), body, ct, &e))
	assert.Equal(t, "UNKNOWN_BATCH", e.Error.Code)
}

func TestReconcileLifecycle(t *testing.T) {
	s := newTestServer(t)
	_, err := s.deps.Root.Backend().WriteFile(context.Background(), "6024/Sales Order", "so.pdf", []byte("so"))
	require.NoError(t, err)

	var started struct {
		ID     int64
		Status string
	}
	require.Equal(t, http.StatusAccepted, s.post(t, "/api/reconcile", nil, "", &started))
	assert.Equal(t, "running", started.Status)

	deadline := time.Now().Add(5 * time.Second)
	for s.deps.Reconcile.ActiveRun() != nil {
		require.True(t, time.Now().Before(deadline), "reconcile did not finish")
		time.Sleep(10 * time.Millisecond)
	}

	var run reconcile.RunDetail
	require.Equal(t, http.StatusOK, s.get(t, "/api/reconcile/"+strconv.FormatInt(started.ID, 10), &run))
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, int64(1), run.NewEntries)
	assert.True(t, s.deps.Root.Journal().Lookup("6024", journal.SalesOrder, "so.pdf"))

	var list struct{ Items []reconcile.Run }
	require.Equal(t, http.StatusOK, s.get(t, "/api/reconcile", &list))
	assert.Len(t, list.Items, 1)

	req, err := http.NewRequest(http.MethodDelete, s.URL+"/api/reconcile/current", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, s.get(t, "/api/reconcile/999", nil))
}

func TestStatusAndTrash(t *testing.T) {
	s := newTestServer(t)

	var status struct {
		Version        string `json:"version"`
		JournalEntries int    `json:"journal_entries"`
		ActiveRun      any    `json:"active_run"`
		SchemaVersion  int64  `json:"schema_version"`
	}
	require.Equal(t, http.StatusOK, s.get(t, "/api/status", &status))
	assert.Equal(t, "test", status.Version)
	assert.Nil(t, status.ActiveRun)
	assert.Positive(t, status.SchemaVersion)

	var items struct{ Items []trash.Item }
	require.Equal(t, http.StatusOK, s.get(t, "/api/trash", &items))
	assert.Empty(t, items.Items)

	assert.Equal(t, http.StatusNotFound, s.post(t, "/api/trash/5/restore", nil, "", nil))
}
