// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"bytes"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// LogBuffer collects the output of a logger. It is safe for concurrent
// writers.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogBuffer returns a debug-level logger writing into a fresh buffer.
func NewLogBuffer() (*log.Logger, *LogBuffer) {
	b := &LogBuffer{}
	return log.NewWithOptions(b, log.Options{Level: log.DebugLevel}), b
}

// Write implements io.Writer.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything logged so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Count returns the number of logged lines containing substr.
func (b *LogBuffer) Count(substr string) int {
	n := 0
	for _, line := range strings.Split(b.String(), "\n") {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}
