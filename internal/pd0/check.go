package pd0

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// FileCheck summarises the structural consistency of an indexed stream.
type FileCheck struct {
	SystemSize         int64    `json:"systemSize"`
	CalculatedSize     int64    `json:"calculatedSize"`
	SizeMatch          bool     `json:"sizeMatch"`
	ByteUniformity     bool     `json:"byteUniformity"`
	DataTypeUniformity bool     `json:"dataTypeUniformity"`
	ChecksumFailures   []int    `json:"checksumFailures,omitempty"`
	Duplicates         [][2]int `json:"duplicates,omitempty"`
	Ensembles          int      `json:"ensembles"`
	Health             Health   `json:"health"`
}

// OK reports whether every check passed.
func (c FileCheck) OK() bool {
	return c.SizeMatch && c.ByteUniformity && c.DataTypeUniformity &&
		len(c.ChecksumFailures) == 0 && len(c.Duplicates) == 0 && c.Health.OK()
}

// CheckFile compares the source size with the size implied by the index and
// looks for ensembles whose checksum fails or whose bytes repeat an earlier
// ensemble. A nil idx is built first.
func CheckFile(src ByteSource, idx *Index) (FileCheck, error) {
	check := FileCheck{SystemSize: src.Size(), Health: healthy(idx.Len())}
	if idx == nil {
		built, h := BuildIndex(src, Options{})
		idx, check.Health = &built, h
	}
	check.Ensembles = idx.Len()

	var calc int64
	check.ByteUniformity = true
	check.DataTypeUniformity = true
	seen := make(map[uint64]int, idx.Len())
	for i, d := range idx.Ensembles {
		calc += int64(d.TotalBytes) + checksumSize
		if i > 0 {
			prev := idx.Ensembles[i-1]
			if d.TotalBytes != prev.TotalBytes {
				check.ByteUniformity = false
			}
			if d.DataBlockCount != prev.DataBlockCount {
				check.DataTypeUniformity = false
			}
		}
		body, err := readExact(src, int64(d.StreamOffset), int(d.TotalBytes))
		if err != nil {
			return check, fmt.Errorf("read ensemble %d: %w", i, err)
		}
		if Checksum(body) != d.Checksum {
			check.ChecksumFailures = append(check.ChecksumFailures, i)
		}
		sum := xxhash.Sum64(body)
		if first, ok := seen[sum]; ok {
			check.Duplicates = append(check.Duplicates, [2]int{first, i})
		} else {
			seen[sum] = i
		}
	}
	check.CalculatedSize = calc
	check.SizeMatch = calc == check.SystemSize
	return check, nil
}
