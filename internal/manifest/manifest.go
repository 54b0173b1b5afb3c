package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/pd0gate/internal/common"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Manifest struct {
	CreatedAt time.Time `json:"createdAt"`
	ShaAlgo   string    `json:"shaAlgo"`
	Items     []Item    `json:"items"`
}

// Build hashes every path in order.
func Build(paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256"}
	for _, p := range paths {
		hex, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		m.Items = append(m.Items, Item{Path: p, Size: sz, Sha256: hex, Type: Classify(p)})
	}
	return m, nil
}

// Classify names the kind of file by extension. Compressed raw data is
// classified by its codec suffix.
func Classify(path string) string {
	lower := strings.ToLower(path)
	switch {
	case hasExt(lower, ".zst", ".zstd", ".gz", ".lz4"):
		return "pd0-compressed"
	case hasExt(lower, ".000", ".pd0", ".ens", ".raw", ".adcp"):
		return "pd0"
	case hasExt(lower, ".ndjson"):
		return "ndjson"
	case hasExt(lower, ".json"):
		return "json"
	case hasExt(lower, ".pdf"):
		return "pdf"
	}
	// Deployment files are often numbered .001, .002 and so on.
	if ext := filepath.Ext(lower); len(ext) == 4 && isDigits(ext[1:]) {
		return "pd0"
	}
	return "other"
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func hasExt(path string, exts ...string) bool {
	for _, e := range exts {
		if strings.HasSuffix(path, e) {
			return true
		}
	}
	return false
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}
