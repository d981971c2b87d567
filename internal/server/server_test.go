package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leapstack-labs/leapask/internal/catalog"
	"github.com/leapstack-labs/leapask/internal/intent"
	"github.com/leapstack-labs/leapask/internal/pipeline"
	"github.com/leapstack-labs/leapask/internal/sandbox"
	"github.com/leapstack-labs/leapask/internal/state"
	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type testServer struct {
	srv     *Server
	handler http.Handler
	catalog *catalog.Catalog
	dataDir string
}

func salesWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	rows := append([][]any{toAny(testutil.SalesColumns)}, testutil.SalesRows...)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	dataDir := t.TempDir()

	store := state.NewSQLiteStore(logger)
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })

	cat := catalog.New(catalog.Config{DataDir: dataDir, Store: store, Logger: logger})
	t.Cleanup(func() { _ = cat.Close() })

	metrics := NewMetrics(func() int { return len(cat.List()) })
	resolver, err := intent.New(intent.Config{
		LLM: intent.NewScriptedClient(
			intent.ScriptRule{Contains: "by region", Response: `{"analysis_type":"sum","metric":"sales","group_by":["region"],"time_field":null,"top_n":null}`},
			intent.ScriptRule{Contains: "revenue", Response: `{"analysis_type":"sum","metric":"revenue","group_by":[],"time_field":null,"top_n":null}`},
		),
		Logger: logger,
	})
	require.NoError(t, err)
	exec, err := sandbox.New(sandbox.Config{Source: cat, Logger: logger, Timeout: time.Second})
	require.NoError(t, err)
	p, err := pipeline.New(pipeline.Config{
		Index:    cat,
		Resolver: resolver,
		Executor: exec,
		History:  store,
		Observer: metrics,
		Logger:   logger,
	})
	require.NoError(t, err)

	cfg := Config{
		Pipeline:    p,
		Catalog:     cat,
		History:     store,
		Metrics:     metrics,
		CORSOrigins: []string{"http://localhost:5173"},
		Logger:      logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	return &testServer{srv: srv, handler: srv.Handler(), catalog: cat, dataDir: dataDir}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","datasets":0}`, rec.Body.String())
}

func TestFiles_UploadListDelete(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.upload(t, "sales.xlsx", salesWorkbook(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	info := decodeBody[FileInfo](t, rec)
	assert.Equal(t, "sales.xlsx", info.FileName)
	assert.Equal(t, testutil.SalesColumns, info.Columns)
	assert.Equal(t, 4, info.NColumns)
	assert.Equal(t, len(testutil.SalesRows), info.NRows)
	assert.FileExists(t, filepath.Join(ts.dataDir, "sales.xlsx"))

	rec = ts.do(t, http.MethodGet, "/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Files []FileInfo `json:"files"`
	}](t, rec)
	require.Len(t, list.Files, 1)
	assert.Equal(t, "sales.xlsx", list.Files[0].FileName)

	rec = ts.do(t, http.MethodDelete, "/files/sales.xlsx", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoFileExists(t, filepath.Join(ts.dataDir, "sales.xlsx"))
	assert.Empty(t, ts.catalog.List())

	rec = ts.do(t, http.MethodDelete, "/files/sales.xlsx", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFiles_UploadRejected(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content []byte
		want    int
	}{
		{"unsupported type", "notes.txt", []byte("hello"), http.StatusBadRequest},
		{"hidden name", ".sales.xlsx", []byte("x"), http.StatusBadRequest},
		{"unreadable workbook", "broken.xlsx", []byte("not a zip"), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			rec := ts.upload(t, tt.file, tt.content)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Empty(t, ts.catalog.List())
			assert.NoFileExists(t, filepath.Join(ts.dataDir, tt.file))
		})
	}
}

func TestFiles_FailedReplaceKeepsOriginal(t *testing.T) {
	ts := newTestServer(t, nil)
	good := salesWorkbook(t)
	require.Equal(t, http.StatusCreated, ts.upload(t, "sales.xlsx", good).Code)

	rec := ts.upload(t, "sales.xlsx", []byte("not a workbook"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	data, err := os.ReadFile(filepath.Join(ts.dataDir, "sales.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, good, data)

	ds, ok := ts.catalog.Lookup("sales.xlsx")
	require.True(t, ok)
	assert.Equal(t, testutil.SalesColumns, ds.Columns)

	entries, err := os.ReadDir(ts.dataDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no staging files left behind")

	require.Equal(t, http.StatusCreated, ts.upload(t, "sales.xlsx", good).Code)
	entries, err = os.ReadDir(ts.dataDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFiles_UploadPathTraversal(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.upload(t, "../../sales.xlsx", salesWorkbook(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.FileExists(t, filepath.Join(ts.dataDir, "sales.xlsx"))
}

func TestFiles_UploadTooLarge(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.MaxUploadMB = 1 })
	rec := ts.upload(t, "big.csv", bytes.Repeat([]byte("a,b\n"), 1<<19))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAnalyze(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, ts.upload(t, "sales.xlsx", salesWorkbook(t)).Code)

	rec := ts.do(t, http.MethodPost, "/analyze", questionRequest{Question: "What is the total sales by region?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fields))
	assert.Len(t, fields, 8)
	assert.JSONEq(t, `null`, string(fields["error"]))
	assert.JSONEq(t, `"sales.xlsx"`, string(fields["target_file"]))
	assert.JSONEq(t, `["City","total sales"]`, string(fields["used_columns"]))
	assert.JSONEq(t, `[{"City":"LA","total sales":6.5},{"City":"NYC","total sales":12.5},{"City":"SF","total sales":10}]`,
		string(fields["result_preview"]))

	rec = ts.do(t, http.MethodPost, "/analyze", questionRequest{Question: "total revenue"})
	require.Equal(t, http.StatusOK, rec.Code, "pipeline failures are reported in the body")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fields))
	assert.Contains(t, string(fields["error"]), "no_match")
	assert.JSONEq(t, `null`, string(fields["result_preview"]))

	rec = ts.do(t, http.MethodGet, "/history?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[struct {
		Analyses []map[string]any `json:"analyses"`
	}](t, rec)
	require.Len(t, history.Analyses, 1)
	assert.Equal(t, "total revenue", history.Analyses[0]["question"])
}

func TestAnalyze_StagedEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, ts.upload(t, "sales.xlsx", salesWorkbook(t)).Code)
	question := questionRequest{Question: "total sales by region"}

	rec := ts.do(t, http.MethodPost, "/analyze/plan", question)
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decodeBody[pipeline.PlanResult](t, rec)
	require.Nil(t, plan.Error)
	assert.Equal(t, "sales.xlsx", *plan.TargetFile)
	assert.InDelta(t, 1.0, *plan.Score, 1e-9)

	rec = ts.do(t, http.MethodPost, "/analyze/code", question)
	require.Equal(t, http.StatusOK, rec.Code)
	code := decodeBody[pipeline.CodeResult](t, rec)
	require.Nil(t, code.Error)
	assert.True(t, strings.HasPrefix(code.Code, `df = load_sheet("sales.xlsx")`))

	rec = ts.do(t, http.MethodPost, "/analyze/execute", executeRequest{Code: code.Code, TargetFile: "sales.xlsx"})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[map[string]any](t, rec)
	assert.Nil(t, result["error"])
	assert.Len(t, result["result_preview"], 3)
	assert.Equal(t, []any{"City", "total sales"}, result["columns"])
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"not json", http.MethodPost, "/analyze", "question?"},
		{"unknown field", http.MethodPost, "/analyze/plan", `{"question":"x","extra":1}`},
		{"bad limit", http.MethodGet, "/history?limit=abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	})

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/files", nil).Code)
	rec := ts.do(t, http.MethodGet, "/files", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil).Code, "health is not limited")
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, ts.upload(t, "sales.xlsx", salesWorkbook(t)).Code)
	ts.do(t, http.MethodPost, "/analyze", questionRequest{Question: "total revenue"})

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `leapask_analyses_total{op="analyze",outcome="no_match"} 1`)
	assert.Contains(t, body, `leapask_http_requests_total{method="POST",route="/files",status="201"} 1`)
	assert.Contains(t, body, "leapask_datasets 1")
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeListener_Shutdown(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.Watch = true })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.srv.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// a file dropped into the data directory is picked up by the watcher
	workbook := salesWorkbook(t)
	assert.Eventually(t, func() bool {
		if len(ts.catalog.List()) == 1 {
			return true
		}
		// rewritten until seen, in case the watcher was not yet running
		_ = os.WriteFile(filepath.Join(ts.dataDir, "sales.xlsx"), workbook, 0o600)
		return false
	}, 10*time.Second, 500*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
