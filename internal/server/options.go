package server

import (
	"runtime"

	"example.com/pd0gate/internal/pd0"
)

const defaultMaxUploadBytes = 512 << 20

// Options configures server creation.
type Options struct {
	// StorageDir holds uploads and generated artifacts; a private
	// subdirectory is created per server.
	StorageDir string `yaml:"storageDir"`
	// MaxUploadBytes bounds the in-memory part of multipart uploads.
	MaxUploadBytes int64 `yaml:"maxUploadBytes"`
	// AllowLocalPaths lets requests name files on the daemon host instead of
	// uploaded artifact IDs.
	AllowLocalPaths bool        `yaml:"allowLocalPaths"`
	Decode          pd0.Options `yaml:"decode"`
}

func (o Options) withDefaults() Options {
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = defaultMaxUploadBytes
	}
	if o.Decode.Concurrency <= 0 {
		o.Decode.Concurrency = runtime.NumCPU()
	}
	return o
}
