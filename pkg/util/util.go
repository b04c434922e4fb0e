package util

import (
	"log"
	"os"
	"strconv"
)

var debug = func() uint64 {
	if s := os.Getenv("VDISK_DEBUG"); s != "" {
		if level, err := strconv.ParseUint(s, 10, 64); err == nil {
			return level
		}
	}
	return 0
}()

// DPrintf logs format at the given verbosity level; levels at or below
// VDISK_DEBUG are emitted.
func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= debug {
		log.Printf(format, a...)
	}
}
