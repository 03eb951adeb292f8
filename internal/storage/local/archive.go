package local

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/subreddit-archiver/internal/crawler"
	"github.com/JakeFAU/subreddit-archiver/internal/metrics"
)

// DefaultMaxFileBytes is the archive rotation ceiling used when none is set.
const DefaultMaxFileBytes int64 = 10 * 1024 * 1024

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("archive writer closed")

var indexHeader = []string{"post_id", "created_date"}

// Config captures the parameters of the archive writer.
type Config struct {
	// Dir is the directory that receives archive and index files.
	Dir string `mapstructure:"dir"`
	// Name prefixes every file, typically the subreddit name.
	Name string `mapstructure:"name"`
	// MaxFileBytes is the size at which the current archive file is rotated.
	MaxFileBytes int64 `mapstructure:"max_file_bytes"`
}

// Stats is a point-in-time view of the writer's progress.
type Stats struct {
	Records     int64  `json:"records"`
	Bytes       int64  `json:"bytes"`
	Segment     int    `json:"segment"`
	CurrentFile string `json:"current_file"`
	IndexFile   string `json:"index_file"`
}

// ArchiveWriter appends one JSON line per record to the current archive file
// and one row per record to the index log. Archive files are rotated once they
// reach MaxFileBytes; the index log never rotates. Safe for concurrent use.
type ArchiveWriter struct {
	mu        sync.Mutex
	dir       string
	stem      string
	maxBytes  int64
	seq       int
	file      *os.File
	size      int64
	indexFile *os.File
	index     *csv.Writer
	records   int64
	bytes     int64
	closed    bool
	logger    *zap.Logger
}

// NewArchiveWriter creates the index log and the first archive file,
// truncating the log and removing archive segments left by a previous run.
func NewArchiveWriter(cfg Config, logger *zap.Logger) (*ArchiveWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stem := fileStem(cfg.Name)
	if stem == "" {
		return nil, fmt.Errorf("archive name is required")
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if err := ensureDir(cfg.Dir); err != nil {
		return nil, err
	}

	w := &ArchiveWriter{
		dir:      cfg.Dir,
		stem:     stem,
		maxBytes: cfg.MaxFileBytes,
		logger:   logger,
	}
	if err := w.removeStaleSegments(); err != nil {
		return nil, err
	}

	indexFile, err := os.Create(w.IndexPath())
	if err != nil {
		return nil, fmt.Errorf("create index log: %w", err)
	}
	w.indexFile = indexFile
	w.index = csv.NewWriter(indexFile)
	if err := w.appendIndex(indexHeader); err != nil {
		_ = indexFile.Close()
		return nil, err
	}

	if err := w.openArchive(); err != nil {
		_ = indexFile.Close()
		return nil, err
	}
	return w, nil
}

// ArchivePath returns the path of the archive file with sequence number seq.
func (w *ArchiveWriter) ArchivePath(seq int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%d.json", w.stem, seq))
}

// IndexPath returns the path of the index log.
func (w *ArchiveWriter) IndexPath() string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_log.csv", w.stem))
}

// Write serializes record to the current archive file, appends its index row
// and rotates the archive file if it has reached the size ceiling. The whole
// sequence runs under one lock, so a record is never split across files.
// Any returned error is an I/O failure and should be treated as fatal.
func (w *ArchiveWriter) Write(_ context.Context, record crawler.Record) error {
	line, err := encodeRecord(record)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.file.Write(line)
	w.size += int64(n)
	w.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("write archive %s: %w", w.file.Name(), err)
	}
	if err := w.appendIndex([]string{record.PostID, record.CreatedDate}); err != nil {
		return err
	}
	w.records++
	metrics.ObserveRecordWritten(n)

	if w.size >= w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the writer's counters.
func (w *ArchiveWriter) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Records:     w.records,
		Bytes:       w.bytes,
		Segment:     w.seq,
		CurrentFile: w.ArchivePath(w.seq),
		IndexFile:   w.IndexPath(),
	}
}

// Close flushes and closes the archive file and the index log. It is safe to
// call more than once.
func (w *ArchiveWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	w.index.Flush()
	var errs []error
	if err := w.index.Error(); err != nil {
		errs = append(errs, fmt.Errorf("flush index log: %w", err))
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close archive: %w", err))
	}
	if err := w.indexFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index log: %w", err))
	}
	return errors.Join(errs...)
}

// rotate must be called with w.mu held.
func (w *ArchiveWriter) rotate() error {
	previous := w.file.Name()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close archive %s: %w", previous, err)
	}
	w.seq++
	if err := w.openArchive(); err != nil {
		return err
	}
	metrics.ObserveRotation()
	w.logger.Info("archive file rotated",
		zap.String("closed", previous),
		zap.Int64("closed_bytes", w.size),
		zap.String("opened", w.file.Name()),
	)
	w.size = 0
	return nil
}

// removeStaleSegments deletes <stem>_<N>.json files so that every archive
// segment in the directory belongs to the index log about to be written.
func (w *ArchiveWriter) removeStaleSegments() error {
	matches, err := filepath.Glob(filepath.Join(w.dir, w.stem+"_*.json"))
	if err != nil {
		return fmt.Errorf("list archive segments: %w", err)
	}
	prefix := w.stem + "_"
	for _, path := range matches {
		seq := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), prefix), ".json")
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale archive %s: %w", path, err)
		}
		w.logger.Debug("removed stale archive segment", zap.String("path", path))
	}
	return nil
}

func (w *ArchiveWriter) openArchive() error {
	path := w.ArchivePath(w.seq)
	// #nosec G304 -- path is built from the configured output directory.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", path, err)
	}
	w.file = f
	return nil
}

func (w *ArchiveWriter) appendIndex(row []string) error {
	if err := w.index.Write(row); err != nil {
		return fmt.Errorf("write index log: %w", err)
	}
	w.index.Flush()
	if err := w.index.Error(); err != nil {
		return fmt.Errorf("flush index log: %w", err)
	}
	return nil
}

// encodeRecord renders record as one newline-terminated JSON line with
// non-ASCII text and HTML characters left unescaped.
func encodeRecord(record crawler.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", record.PostID, err)
	}
	return buf.Bytes(), nil
}
