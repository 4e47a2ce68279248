package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	// OnClose, if set, is called with the path of every file the writer
	// finishes, on rotation and on Close.
	OnClose func(path string)

	mu    sync.Mutex
	hour  string
	file  *os.File
	zw    *zstd.Encoder
	buf   *bufio.Writer
	stats WriterStats
}

type WriterStats struct {
	Entries uint64
	// Bytes is the uncompressed JSON volume.
	Bytes uint64
	Files uint64
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{baseDir: baseDir, prefix: prefix, now: time.Now}
}

// Write appends v as one line and flushes it into the encoder. The zstd frame
// is only complete once the file rotates or Close is called.
func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if hour := w.now().UTC().Format("2006-01-02-15"); hour != w.hour || w.file == nil {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}
	b = append(b, '\n')
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	w.stats.Entries++
	w.stats.Bytes += uint64(len(b))
	return w.buf.Flush()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finishLocked()
}

// Path returns the file last written to, empty before the first Write.
func (w *JSONLZstdWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hour == "" {
		return ""
	}
	return w.path(w.hour)
}

func (w *JSONLZstdWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// openLocked finishes the current file and opens the one for hour. An
// existing file gets a second zstd frame appended.
func (w *JSONLZstdWriter) openLocked(hour string) error {
	if err := w.finishLocked(); err != nil {
		return err
	}
	p := w.path(hour)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.file, w.zw, w.hour = f, zw, hour
	w.buf = bufio.NewWriterSize(zw, 64*1024)
	w.stats.Files++
	return nil
}

func (w *JSONLZstdWriter) finishLocked() error {
	if w.file == nil {
		return nil
	}
	ferr := w.buf.Flush()
	zerr := w.zw.Close()
	cerr := w.file.Close()
	done := w.file.Name()
	w.file, w.zw, w.buf = nil, nil, nil

	for _, err := range []error{ferr, zerr, cerr} {
		if err != nil {
			return fmt.Errorf("journal %s: %w", done, err)
		}
	}
	if w.OnClose != nil {
		w.OnClose(done)
	}
	return nil
}

func (w *JSONLZstdWriter) path(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}
