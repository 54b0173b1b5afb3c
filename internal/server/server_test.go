package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/pd0gate/internal/pd0"
	"example.com/pd0gate/internal/report"
)

func testStream(t *testing.T, n int) []byte {
	t.Helper()
	var ens []pd0.EnsembleBuilder
	for i := 0; i < n; i++ {
		eb := pd0.NewEnsemble(uint32(i+1), 2, 3)
		eb.Arrays = map[pd0.ArrayKind][]int16{
			pd0.Velocity:    {1, 2, 3, 4, 5, int16(i)},
			pd0.Correlation: {9, 9, 9, 9, 9, 9},
		}
		ens = append(ens, eb)
	}
	b, err := pd0.BuildStream(ens...)
	if err != nil {
		t.Fatalf("build stream: %v", err)
	}
	return b
}

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	opts.StorageDir = t.TempDir()
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(NewRouter(srv))
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func upload(t *testing.T, ts *httptest.Server, name string, data []byte) ArtifactRef {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write(data)
	mw.Close()
	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d: %s", resp.StatusCode, b)
	}
	var out struct {
		Files []ArtifactRef `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if len(out.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(out.Files))
	}
	return out.Files[0]
}

func TestUploadDecodeAndDownload(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	ref := upload(t, ts, "deploy.000", testStream(t, 5))
	if ref.Kind != "upload" || ref.Name != "deploy.000" {
		t.Fatalf("unexpected upload ref %+v", ref)
	}

	payload := `{"input":"` + ref.ID + `","check":true}`
	resp, err := http.Post(ts.URL+"/decode?pdf=true", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("decode status %d: %s", resp.StatusCode, b)
	}
	var out struct {
		Summary   report.Summary `json:"summary"`
		Artifacts []ArtifactRef  `json:"artifacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Summary.Ensembles != 5 {
		t.Fatalf("ensembles = %d, want 5", out.Summary.Ensembles)
	}
	if out.Summary.File != "deploy.000" || len(out.Summary.Digest) != 64 {
		t.Fatalf("unexpected file/digest %q %q", out.Summary.File, out.Summary.Digest)
	}
	if out.Summary.Check == nil || !out.Summary.Check.OK() {
		t.Fatalf("file check missing or failed: %+v", out.Summary.Check)
	}
	if len(out.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(out.Artifacts))
	}

	dl, err := http.Get(ts.URL + "/artifacts/" + out.Artifacts[1].ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	pdf, _ := io.ReadAll(dl.Body)
	if dl.Header.Get("Content-Type") != "application/pdf" || !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("unexpected pdf artifact %q", dl.Header.Get("Content-Type"))
	}
}

func TestIndexStreamsNDJSON(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	stream := testStream(t, 3)
	ref := upload(t, ts, "deploy.000", stream[:len(stream)-4])

	resp, err := http.Get(ts.URL + "/index?input=" + ref.ID)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type %q", ct)
	}
	var lines []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		lines = append(lines, rec)
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 2 ensembles plus health", len(lines))
	}
	if lines[0]["type"] != "ensemble" || lines[1]["ensemble"] != float64(1) {
		t.Fatalf("unexpected ensemble records %v", lines[:2])
	}
	health := lines[2]["health"].(map[string]any)
	if lines[2]["type"] != "health" || health["condition"] != "end-of-stream" {
		t.Fatalf("unexpected health record %v", lines[2])
	}
}

func TestDecodeWrongFormat(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	ref := upload(t, ts, "notes.000", []byte("plain text, not an ensemble"))
	resp, err := http.Post(ts.URL+"/decode", "application/json", strings.NewReader(`{"input":"`+ref.ID+`"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	var out struct {
		Code int `json:"code"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Code != 5 {
		t.Fatalf("code = %d, want 5", out.Code)
	}
}

func TestLocalPathsRequireOptIn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.000")
	if err := os.WriteFile(path, testStream(t, 2), 0o644); err != nil {
		t.Fatal(err)
	}

	_, closed := newTestServer(t, Options{})
	resp, err := http.Get(closed.URL + "/check?input=" + path)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	_, open := newTestServer(t, Options{AllowLocalPaths: true})
	resp, err = http.Get(open.URL + "/check?input=" + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var check pd0.FileCheck
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		t.Fatalf("decode check: %v", err)
	}
	if check.Ensembles != 2 || !check.SizeMatch {
		t.Fatalf("unexpected check %+v", check)
	}
}

func TestManifestAndHealthz(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	ref := upload(t, ts, "deploy.000", testStream(t, 1))
	resp, err := http.Post(ts.URL+"/manifest", "application/json", strings.NewReader(`{"inputs":["`+ref.ID+`"]}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Manifest struct {
			Items []struct {
				Type string `json:"type"`
			} `json:"items"`
		} `json:"manifest"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Manifest.Items) != 1 || out.Manifest.Items[0].Type != "pd0" {
		t.Fatalf("unexpected manifest %+v", out.Manifest)
	}

	hz, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer hz.Body.Close()
	var status struct {
		Status    string `json:"status"`
		Artifacts int    `json:"artifacts"`
	}
	json.NewDecoder(hz.Body).Decode(&status)
	if status.Status != "ok" || status.Artifacts != 2 {
		t.Fatalf("unexpected healthz %+v", status)
	}
}
