package common

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	logger = log.New(os.Stderr, "[pd0gate] ", log.LstdFlags|log.Lmicroseconds)
	quiet  atomic.Bool
)

// SetLogOutput redirects the shared logger, e.g. into a rotating file.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetQuiet suppresses Logf output; Fatalf still prints.
func SetQuiet(q bool) {
	quiet.Store(q)
}

func Logf(format string, args ...interface{}) {
	if quiet.Load() {
		return
	}
	logger.Printf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}
