package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/pd0gate/internal/common"
	"example.com/pd0gate/internal/manifest"
	"example.com/pd0gate/internal/pd0"
	"example.com/pd0gate/internal/report"
)

// Server coordinates HTTP handlers and manages temporary artifacts produced by
// decode requests.
type Server struct {
	artifacts  *ArtifactStore
	workDir    string
	uploadsDir string
	opts       Options
}

// Artifact represents a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

var errLocalPathsDisabled = errors.New("local paths are disabled; upload the file first")

// NewServer constructs a Server rooted at a temporary workspace directory.
func NewServer(opts Options) (*Server, error) {
	opts = opts.withDefaults()
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "pd0d-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	s := &Server{
		artifacts:  &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:    workDir,
		uploadsDir: uploadsDir,
		opts:       opts,
	}
	return s, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	id := randomID()
	art := Artifact{
		ID:          id,
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[id] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

// resolvePath maps an artifact ID, or a host path when allowed, to a file.
// The returned name is what reports show for the input.
func (s *Server) resolvePath(token string) (path, name string, err error) {
	if token == "" {
		return "", "", errors.New("empty input path")
	}
	if art, ok := s.getArtifact(token); ok {
		return art.Path, art.Name, nil
	}
	if !s.opts.AllowLocalPaths {
		return "", "", errLocalPathsDisabled
	}
	abs := filepath.Clean(token)
	if _, err := os.Stat(abs); err != nil {
		return "", "", err
	}
	return abs, filepath.Base(abs), nil
}

func (s *Server) decodeOptions(verify *bool) pd0.Options {
	opts := s.opts.Decode
	if verify != nil {
		opts.VerifyChecksum = *verify
	}
	return opts
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Input          string `json:"input"`
		VerifyChecksum *bool  `json:"verifyChecksum"`
		Check          bool   `json:"check"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input required", http.StatusBadRequest)
		return
	}
	wantPDF := r.URL.Query().Get("pdf") == "true"
	inputPath, inputName, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	opts := s.decodeOptions(req.VerifyChecksum)
	src, err := pd0.Open(inputPath, opts.BlockSize)
	if err != nil {
		http.Error(w, fmt.Sprintf("open input: %v", err), http.StatusBadRequest)
		return
	}
	defer src.Close()

	start := time.Now()
	ds, err := pd0.NewDecoder(src, opts).Decode(r.Context())
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, r.Context().Err()) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"error":  err.Error(),
			"health": ds.Health(),
			"code":   ds.Health().Code(),
		})
		return
	}
	digest, _, err := common.Sha256OfFile(inputPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("digest: %v", err), http.StatusInternalServerError)
		return
	}
	sum := report.Summarize(inputName, digest, ds)
	if req.Check {
		check, err := pd0.CheckFile(src, &ds.Index)
		if err != nil {
			http.Error(w, fmt.Sprintf("check: %v", err), http.StatusInternalServerError)
			return
		}
		sum.Check = &check
	}
	common.Logf("decoded %s: %d ensembles, %s in %s", inputName, sum.Ensembles, sum.Health, time.Since(start).Round(time.Millisecond))

	sumPath, err := s.tempPath("summary-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("summary temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := report.SaveJSON(sum, sumPath); err != nil {
		http.Error(w, fmt.Sprintf("write summary: %v", err), http.StatusInternalServerError)
		return
	}
	sumArt, err := s.addArtifact(sumPath, "decode_summary.json", "application/json", "summary")
	if err != nil {
		http.Error(w, fmt.Sprintf("register summary: %v", err), http.StatusInternalServerError)
		return
	}
	artifacts := []ArtifactRef{toRef(sumArt)}
	if wantPDF {
		pdfPath, err := s.tempPath("summary-*.pdf")
		if err != nil {
			http.Error(w, fmt.Sprintf("report pdf temp: %v", err), http.StatusInternalServerError)
			return
		}
		if err := report.SavePDF(sum, pdfPath); err != nil {
			http.Error(w, fmt.Sprintf("write report pdf: %v", err), http.StatusInternalServerError)
			return
		}
		pdfArt, err := s.addArtifact(pdfPath, "decode_report.pdf", "application/pdf", "report")
		if err != nil {
			http.Error(w, fmt.Sprintf("register report: %v", err), http.StatusInternalServerError)
			return
		}
		artifacts = append(artifacts, toRef(pdfArt))
	}
	resp := struct {
		Summary   report.Summary `json:"summary"`
		Artifacts []ArtifactRef  `json:"artifacts"`
	}{
		Summary:   sum,
		Artifacts: artifacts,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleIndex streams one NDJSON record per ensemble as the index is built,
// followed by a health record.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	inputPath, _, err := s.resolvePath(q.Get("input"))
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	verify := q.Get("verifyChecksum") == "true"
	opts := s.decodeOptions(&verify)
	src, err := pd0.Open(inputPath, opts.BlockSize)
	if err != nil {
		http.Error(w, fmt.Sprintf("open input: %v", err), http.StatusBadRequest)
		return
	}
	defer src.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	writer := NewNDJSONWriter(w)
	ix := pd0.NewIndexer(src, opts)
	for i := 0; ; i++ {
		if r.Context().Err() != nil {
			return
		}
		d, err := ix.Next()
		if err != nil {
			break
		}
		if err := writer.WriteEnsemble(i, d); err != nil {
			return
		}
	}
	_ = writer.WriteHealth(ix.Health())
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	inputPath, _, err := s.resolvePath(r.URL.Query().Get("input"))
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	src, err := pd0.Open(inputPath, s.opts.Decode.BlockSize)
	if err != nil {
		http.Error(w, fmt.Sprintf("open input: %v", err), http.StatusBadRequest)
		return
	}
	defer src.Close()
	check, err := pd0.CheckFile(src, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("check: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Inputs []string `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	var paths []string
	for _, in := range req.Inputs {
		resolved, _, err := s.resolvePath(in)
		if err != nil {
			http.Error(w, fmt.Sprintf("resolve %s: %v", in, err), http.StatusBadRequest)
			return
		}
		paths = append(paths, resolved)
	}
	m, err := manifest.Build(paths)
	if err != nil {
		http.Error(w, fmt.Sprintf("build manifest: %v", err), http.StatusInternalServerError)
		return
	}
	outPath, err := s.tempPath("manifest-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("manifest temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := manifest.Save(m, outPath); err != nil {
		http.Error(w, fmt.Sprintf("write manifest: %v", err), http.StatusInternalServerError)
		return
	}
	art, err := s.addArtifact(outPath, "manifest.json", "application/json", "manifest")
	if err != nil {
		http.Error(w, fmt.Sprintf("register manifest: %v", err), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Manifest manifest.Manifest `json:"manifest"`
		Artifact ArtifactRef       `json:"artifact"`
	}{
		Manifest: m,
		Artifact: toRef(art),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArtifactList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	disposition := fmt.Sprintf("attachment; filename=\"%s\"", art.Name)
	w.Header().Set("Content-Disposition", disposition)
	io.Copy(w, f)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.artifacts.mu.RLock()
	n := len(s.artifacts.entries)
	s.artifacts.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "artifacts": n})
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return "application/json"
	case ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".gz":
		return "application/gzip"
	case ".zst", ".zstd":
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}

func randomID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		now := time.Now().UTC()
		return fmt.Sprintf("%d%06d", now.UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b[:])
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}
