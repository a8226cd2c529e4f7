package logger

import (
	"io"
	"sync"
)

// AsyncConfig configures buffered, non-blocking log output.
type AsyncConfig struct {
	Enabled bool

	// BufferSize is the number of pending writes held before records are
	// dropped.
	BufferSize int
}

const defaultAsyncBufferSize = 4096

// AsyncWriter hands writes to a background goroutine. When the buffer is full
// the write is dropped rather than blocking the caller.
type AsyncWriter struct {
	out     io.Writer
	ch      chan []byte
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	dropped uint64
}

// NewAsyncWriter starts an AsyncWriter over w.
func NewAsyncWriter(w io.Writer, cfg AsyncConfig) *AsyncWriter {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultAsyncBufferSize
	}
	aw := &AsyncWriter{
		out:  w,
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
	go aw.run()
	return aw
}

// Write queues p. The slog handlers reuse their buffers, so p is copied.
func (w *AsyncWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case w.ch <- buf:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
	return len(p), nil
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for buf := range w.ch {
		_, _ = w.out.Write(buf)
	}
}

// Close flushes queued writes and stops the background goroutine. Writes
// after Close panic.
func (w *AsyncWriter) Close() error {
	w.once.Do(func() { close(w.ch) })
	<-w.done
	return nil
}

// Dropped returns the number of writes discarded because the buffer was full.
func (w *AsyncWriter) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}
