package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"example.com/pd0gate/internal/pd0"
)

// NDJSONWriter streams newline-delimited JSON objects to the underlying writer.
type NDJSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
}

// NewNDJSONWriter wraps the provided ResponseWriter with a helper that writes
// newline-delimited JSON. If the writer supports http.Flusher, Flush will be
// invoked after every write to push bytes to the client promptly.
func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	var flusher http.Flusher
	if f, ok := w.(http.Flusher); ok {
		flusher = f
	}
	return &NDJSONWriter{writer: w, flusher: flusher}
}

// ensembleRecord is one line of an index stream.
type ensembleRecord struct {
	Type     string                 `json:"type"`
	Ensemble int                    `json:"ensemble"`
	Blocks   []string               `json:"blocks"`
	Desc     pd0.EnsembleDescriptor `json:"descriptor"`
}

// WriteEnsemble writes descriptor i as a single NDJSON record.
func (w *NDJSONWriter) WriteEnsemble(i int, d pd0.EnsembleDescriptor) error {
	return w.WriteObject(ensembleRecord{Type: "ensemble", Ensemble: i, Blocks: d.BlockNames(), Desc: d})
}

// WriteHealth writes the closing record of a stream.
func (w *NDJSONWriter) WriteHealth(h pd0.Health) error {
	return w.WriteObject(struct {
		Type   string     `json:"type"`
		Health pd0.Health `json:"health"`
		Code   int        `json:"code"`
	}{Type: "health", Health: h, Code: h.Code()})
}

// WriteObject marshals the provided value to JSON, writes it followed by a
// newline and flushes the response.
func (w *NDJSONWriter) WriteObject(v any) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	if _, err := w.writer.Write([]byte("\n")); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
