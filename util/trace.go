package util

import (
	"log"
	"time"
)

// Trace logs the elapsed time of the enclosing call. Usage:
//
//	defer util.Trace("segment batch")()
func Trace(name string) func() {
	start := time.Now()
	return func() {
		log.Printf("%s took %v", name, time.Since(start))
	}
}
