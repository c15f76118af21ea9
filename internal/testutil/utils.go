package testutil

import (
	"bytes"
	"io"
	"log"
	"os"
	"sync"
	"testing"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(io.Discard)
	})
	return logger
}

// SafeBuffer is a bytes.Buffer that tolerates writers on other goroutines.
type SafeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// BufferLogger returns a logger whose output can be inspected by the test.
func BufferLogger(t *testing.T) (*log.Logger, *SafeBuffer) {
	buf := &SafeBuffer{}
	logger := log.New(buf, "[test] ", 0)
	t.Cleanup(func() {
		logger.SetOutput(io.Discard)
	})
	return logger, buf
}
