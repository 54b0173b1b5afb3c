package pd0

import "runtime"

// Options tunes how a stream is scanned and decoded.
type Options struct {
	// Concurrency bounds the number of workers decoding leader rows and
	// array blocks. Values below 1 decode sequentially.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// VerifyChecksum re-reads every ensemble and compares its byte sum with
	// the trailing checksum word.
	VerifyChecksum bool `yaml:"verifyChecksum" json:"verifyChecksum"`
	// BlockSize is the read window used by Open for uncompressed files.
	BlockSize int `yaml:"blockSize" json:"blockSize"`
}

// DefaultOptions decodes on all CPUs without checksum verification.
func DefaultOptions() Options {
	return Options{Concurrency: runtime.NumCPU(), BlockSize: minDataBlockSize}
}

func (o Options) workers() int {
	if o.Concurrency < 1 {
		return 1
	}
	return o.Concurrency
}
