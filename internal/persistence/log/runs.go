package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"clearsite.ai/internal/sim/world/logic/vacate"
)

// RunEntry is one journaled vacate call.
type RunEntry struct {
	RunID  string        `json:"run_id"`
	At     time.Time     `json:"at"`
	Label  string        `json:"label,omitempty"`
	Result vacate.Result `json:"result"`
}

// RunLogger writes vacate runs to <dir>/runs/runs-<hour>.jsonl.zst.
type RunLogger struct{ w *JSONLZstdWriter }

func NewRunLogger(dir string) *RunLogger {
	return &RunLogger{w: NewJSONLZstdWriter(filepath.Join(dir, "runs"), "runs")}
}

func (l *RunLogger) WriteRun(e RunEntry) error { return l.w.Write(e) }
func (l *RunLogger) Path() string              { return l.w.Path() }
func (l *RunLogger) Stats() WriterStats        { return l.w.Stats() }
func (l *RunLogger) Close() error              { return l.w.Close() }

// OnRotate registers fn for every journal file that is finished. Call it
// before the first WriteRun.
func (l *RunLogger) OnRotate(fn func(path string)) { l.w.OnClose = fn }

// ReadRuns decodes every entry of a runs journal file.
func ReadRuns(path string) ([]RunEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []RunEntry
	r := bufio.NewReaderSize(dec, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			var e RunEntry
			if jerr := json.Unmarshal(line, &e); jerr != nil {
				return out, fmt.Errorf("%s: entry %d: %w", path, len(out)+1, jerr)
			}
			out = append(out, e)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

// RunSink receives journaled runs, e.g. the SQLite index.
type RunSink interface {
	RecordRun(e RunEntry)
}

// Recorder stamps each vacate result with a run ID and passes it on to the
// journal and sinks. It satisfies vacate.Recorder.
type Recorder struct {
	journal *RunLogger
	sinks   []RunSink
	log     logrus.FieldLogger
	now     func() time.Time

	mu    sync.Mutex
	label string
	last  string
}

// NewRecorder accepts a nil journal when only sinks are wanted.
func NewRecorder(journal *RunLogger, log logrus.FieldLogger, sinks ...RunSink) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{journal: journal, sinks: sinks, log: log, now: time.Now}
}

// SetLabel tags subsequent runs, typically with the scenario or client name.
func (r *Recorder) SetLabel(label string) {
	r.mu.Lock()
	r.label = label
	r.mu.Unlock()
}

// LastRunID returns the ID of the most recently recorded run.
func (r *Recorder) LastRunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Recorder) RecordVacate(res vacate.Result) {
	r.mu.Lock()
	e := RunEntry{RunID: uuid.NewString(), At: r.now().UTC(), Label: r.label, Result: res}
	r.last = e.RunID
	r.mu.Unlock()

	if r.journal != nil {
		if err := r.journal.WriteRun(e); err != nil {
			r.log.WithError(err).WithField("run_id", e.RunID).Warn("journal write failed")
		}
	}
	for _, s := range r.sinks {
		s.RecordRun(e)
	}
}
