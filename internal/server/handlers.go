package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/leapask/internal/catalog"
	"github.com/leapstack-labs/leapask/internal/sheet"
	"github.com/leapstack-labs/leapask/pkg/core"
)

// FileInfo describes one indexed dataset in API responses.
type FileInfo struct {
	FileName  string    `json:"file_name"`
	Columns   []string  `json:"columns"`
	NColumns  int       `json:"n_columns"`
	NRows     int       `json:"n_rows"`
	IndexedAt time.Time `json:"indexed_at"`
}

func fileInfo(ds core.Dataset) FileInfo {
	cols := ds.Columns
	if cols == nil {
		cols = []string{}
	}
	return FileInfo{
		FileName:  ds.Name,
		Columns:   cols,
		NColumns:  ds.NumColumns(),
		NRows:     ds.RowCount,
		IndexedAt: ds.IndexedAt,
	}
}

type questionRequest struct {
	Question string `json:"question"`
}

type executeRequest struct {
	Code       string `json:"code"`
	TargetFile string `json:"target_file"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"datasets": len(s.cfg.Catalog.List()),
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	datasets := s.cfg.Catalog.List()
	files := make([]FileInfo, 0, len(datasets))
	for _, ds := range datasets {
		files = append(files, fileInfo(ds))
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// handleUpload saves a multipart "file" into the data directory and indexes it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	dir := s.cfg.Catalog.DataDir()
	if dir == "" {
		writeError(w, http.StatusServiceUnavailable, "no data directory configured")
		return
	}

	limit := s.cfg.MaxUploadMB << 20
	if r.ContentLength > limit {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.cfg.MaxUploadMB))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.cfg.MaxUploadMB))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with a \"file\" field")
		return
	}
	defer func() { _ = file.Close() }()

	name := filepath.Base(filepath.Clean("/" + header.Filename))
	if name == "/" || name == "." || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	if !sheet.Supported(name) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type (want one of %s)", strings.Join(sheet.Extensions, ", ")))
		return
	}

	path := filepath.Join(dir, name)
	up, err := saveFile(dir, path, file)
	if err != nil {
		s.logger.Error("failed to save upload", "file", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	ds, err := s.cfg.Catalog.Register(r.Context(), path)
	if err != nil {
		if rerr := up.rollback(); rerr != nil {
			s.logger.Error("failed to restore previous file", "file", name, "error", rerr)
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	up.commit()
	writeJSON(w, http.StatusCreated, fileInfo(ds))
}

// savedFile is an upload moved into place. Any file it replaced is parked in
// backup until the upload is committed or rolled back.
type savedFile struct {
	path   string
	backup string
}

// saveFile writes src to path through a temporary file in dir.
func saveFile(dir, path string, src io.Reader) (*savedFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	saved := &savedFile{path: path}
	if _, err := os.Stat(path); err == nil {
		saved.backup = filepath.Join(dir, ".previous-"+filepath.Base(tmp.Name()))
		if err := os.Rename(path, saved.backup); err != nil {
			return nil, err
		}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = saved.rollback()
		return nil, err
	}
	return saved, nil
}

// commit drops the replaced file.
func (f *savedFile) commit() {
	if f.backup != "" {
		_ = os.Remove(f.backup)
	}
}

// rollback removes the upload and puts the replaced file back.
func (f *savedFile) rollback() error {
	if f.backup == "" {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return os.Rename(f.backup, f.path)
}

// handleDeleteFile drops a dataset from the index and deletes its file when
// it lives in the data directory.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var path string
	for _, ds := range s.cfg.Catalog.List() {
		if ds.Name == name {
			path = ds.Path
		}
	}

	if err := s.cfg.Catalog.Remove(r.Context(), name); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("file %q is not indexed", name))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if dir, err := filepath.Abs(s.cfg.Catalog.DataDir()); err == nil && path != "" && filepath.Dir(path) == dir {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to delete file", "file", name, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records := []*core.AnalysisRecord{}
	if s.cfg.History != nil {
		got, err := s.cfg.History.ListAnalyses(r.Context(), limit)
		if err != nil {
			s.logger.Error("failed to list history", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read history")
			return
		}
		if got != nil {
			records = got
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": records})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Pipeline.Analyze(r.Context(), req.Question))
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Pipeline.Plan(r.Context(), req.Question))
}

func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Pipeline.Code(r.Context(), req.Question))
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Pipeline.Execute(r.Context(), req.Code, req.TargetFile))
}

// decode reads a JSON body of at most 1 MB. It writes a 400 and returns false
// when the body is not valid.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "error": msg})
}
