package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"evoclimb.io/internal/protocol"
	"evoclimb.io/internal/sim/world"
)

// DefaultSegmentLines is the number of entries written before a new segment is started.
const DefaultSegmentLines = 60 * 60 * 10

// JSONLZstdWriter appends JSON lines to numbered zstd segments: <prefix>-000001.jsonl.zst, ...
// Segment names sort in write order.
type JSONLZstdWriter struct {
	baseDir      string
	prefix       string
	segmentLines int

	mu      sync.Mutex
	segment int
	lines   int
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string, segmentLines int) *JSONLZstdWriter {
	if segmentLines <= 0 {
		segmentLines = DefaultSegmentLines
	}
	return &JSONLZstdWriter{
		baseDir:      baseDir,
		prefix:       prefix,
		segmentLines: segmentLines,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil || w.lines >= w.segmentLines {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.lines++
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked() error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	if w.segment == 0 {
		// Continue after whatever a previous process left behind.
		existing, err := Segments(w.baseDir, w.prefix)
		if err != nil {
			return err
		}
		w.segment = len(existing)
	}
	w.segment++
	f, err := os.OpenFile(w.pathForSegment(w.segment), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.lines = 0
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForSegment(n int) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%06d.jsonl.zst", w.prefix, n))
}

// Segments lists the segment files of prefix in dir, oldest first.
func Segments(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadJSONL decodes every line of a segment into a fresh T and hands it to fn. A non-nil
// error from fn stops the scan and is returned.
func ReadJSONL[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return sc.Err()
}

// SessionFile sits next to the ticks/ and runs/ dirs of one server process.
const SessionFile = "session.json"

// Session is the world setup a tick log was recorded under.
type Session struct {
	Params  protocol.WorldParams `json:"params"`
	Digests protocol.Digests     `json:"digests"`
}

func ReadSession(dir string) (Session, error) {
	var s Session
	b, err := os.ReadFile(filepath.Join(dir, SessionFile))
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("%s: %w", SessionFile, err)
	}
	return s, nil
}

// TickLogger writes one JSONL entry per tick (compressed).
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(dataDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "ticks"), "ticks", 0)}
}

func (l *TickLogger) WriteTick(v world.TickLogEntry) error { return l.w.Write(v) }
func (l *TickLogger) Close() error                         { return l.w.Close() }

// TickSegments lists the tick log segments under dataDir.
func TickSegments(dataDir string) ([]string, error) {
	return Segments(filepath.Join(dataDir, "ticks"), "ticks")
}

// RunLogger appends every finished run as a JSONL entry (compressed).
type RunLogger struct {
	w     *JSONLZstdWriter
	onErr func(error)
}

func NewRunLogger(dataDir string, onErr func(error)) *RunLogger {
	return &RunLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "runs"), "runs", 0), onErr: onErr}
}

func (l *RunLogger) RecordRun(r world.RunRecord) {
	if err := l.w.Write(r); err != nil && l.onErr != nil {
		l.onErr(err)
	}
}

func (l *RunLogger) Close() error { return l.w.Close() }
