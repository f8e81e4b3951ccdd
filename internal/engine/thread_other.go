//go:build !linux

package engine

import (
	"bytes"
	"runtime"
	"strconv"
)

// threadID falls back to the goroutine id where no OS thread id is exposed.
// Pinned goroutines map one to one onto OS threads, so the id is equivalent
// for the lifetime of a pin.
func threadID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i > 0 {
		field = field[:i]
	}
	id, _ := strconv.Atoi(string(field))
	return id
}
