// Package dlog provides the relay's process-wide logger.
//
// It follows the bracket-tagged severity convention used throughout
// obfs4proxy ([INFO]/[WARN]/[ERROR]) instead of pulling in a structured
// logging library.
package dlog

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	logger        = log.New(os.Stderr, "", log.LstdFlags)
	debugEnabled  int32
	unsafeLogging int32
)

// SetOutput redirects the logger, e.g. to a log file chosen at startup.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetDebug toggles whether Debugf actually emits anything.
func SetDebug(enabled bool) {
	if enabled {
		atomic.StoreInt32(&debugEnabled, 1)
	} else {
		atomic.StoreInt32(&debugEnabled, 0)
	}
}

// SetUnsafeLogging toggles whether Addr returns the real address or a
// scrubbed placeholder.
func SetUnsafeLogging(enabled bool) {
	if enabled {
		atomic.StoreInt32(&unsafeLogging, 1)
	} else {
		atomic.StoreInt32(&unsafeLogging, 0)
	}
}

// Addr formats a remote-address stringer honoring the unsafe-logging flag.
func Addr(s interface{ String() string }) string {
	if atomic.LoadInt32(&unsafeLogging) != 0 {
		return s.String()
	}
	return "[scrubbed]"
}

func Infof(format string, args ...interface{}) {
	logger.Printf("[INFO] "+format, args...)
}

func Warnf(format string, args ...interface{}) {
	logger.Printf("[WARN] "+format, args...)
}

func Errorf(format string, args ...interface{}) {
	logger.Printf("[ERROR] "+format, args...)
}

func Debugf(format string, args ...interface{}) {
	if atomic.LoadInt32(&debugEnabled) != 0 {
		logger.Printf("[DEBUG] "+format, args...)
	}
}
