// Package io implements the file-backed primitives of the Catapult durable
// change-propagation core: the single 64-bit IndexFile counter (spec.md
// §3.1/§4.1) and the file queue writer/reader pair built on top of it
// (spec.md §3.2/§4.2). Grounded on
// original_source/client/catapult/src/catapult/io/FileQueue.{h,cpp}.
package io

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ledgerwatch/catapult/errs"
)

const (
	defaultWriterIndexFilename = "index.dat"
	defaultReaderIndexFilename = "index_broker_r.dat"
)

func filename(id uint64) string {
	return fmt.Sprintf("%016X.dat", id)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("catapult: create queue directory %s: %w", dir, err)
	}
	return nil
}

// FileQueueWriter appends messages as individual files in a directory,
// addressed by a monotonically increasing IndexFile (spec.md §4.2).
type FileQueueWriter struct {
	dir      string
	index    *IndexFile
	current  uint64
	file     *os.File
	onFlush  func()
}

// NewFileQueueWriter creates a writer rooted at dir using the default writer
// index filename ("index.dat").
func NewFileQueueWriter(dir string) (*FileQueueWriter, error) {
	return NewFileQueueWriterNamed(dir, defaultWriterIndexFilename)
}

// NewFileQueueWriterNamed creates a writer rooted at dir whose writer
// position is tracked in indexFilename (spec.md §3.2 lists index.dat and
// index_server.dat as the two writer-index namespaces a queue may carry).
func NewFileQueueWriterNamed(dir, indexFilename string) (*FileQueueWriter, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	idx := NewIndexFile(filepath.Join(dir, indexFilename))
	if !idx.Exists() {
		if err := idx.Set(0); err != nil {
			return nil, err
		}
	}
	current, err := idx.Get()
	if err != nil {
		return nil, err
	}
	return &FileQueueWriter{dir: dir, index: idx, current: current}, nil
}

// OnFlush installs a callback invoked after every successful Flush, used by
// subscribers (spec.md §4.5) to update metrics without this package
// depending on the metrics package.
func (w *FileQueueWriter) OnFlush(fn func()) { w.onFlush = fn }

// Write appends bytes to the currently open message file, opening a new one
// addressed by the writer's current (unpublished) index value if none is
// open yet.
func (w *FileQueueWriter) Write(p []byte) (int, error) {
	if w.file == nil {
		path := filepath.Join(w.dir, filename(w.current))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			return 0, fmt.Errorf("catapult: open message file %s: %w", path, err)
		}
		w.file = f
	}
	n, err := w.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("catapult: write message file: %w", err)
	}
	return n, nil
}

// Flush fsyncs and closes the current message file, then advances the
// writer index past it. A message is only "published" (spec.md §4.2) once
// this returns successfully. A crash between the fsync and the index
// advance leaves a complete-but-unpublished file; the writer, on restart,
// simply writes to the same id again.
func (w *FileQueueWriter) Flush() error {
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		w.file = nil
		return fmt.Errorf("catapult: fsync message file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("catapult: close message file: %w", err)
	}
	w.file = nil

	next, err := w.index.Increment()
	if err != nil {
		return err
	}
	w.current = next
	if w.onFlush != nil {
		w.onFlush()
	}
	return nil
}

// WriterIndex returns the current (not-yet-published) writer position.
func (w *FileQueueWriter) WriterIndex() uint64 { return w.current }

// FileQueueReader delivers messages from a FileQueueWriter's directory in
// strictly increasing id order, one message per call (spec.md §4.2).
type FileQueueReader struct {
	dir         string
	readerIndex *IndexFile
	writerIndex *IndexFile
}

// NewFileQueueReader creates a reader using the default reader/writer index
// filenames ("index_broker_r.dat"/"index.dat").
func NewFileQueueReader(dir string) (*FileQueueReader, error) {
	return NewFileQueueReaderNamed(dir, defaultReaderIndexFilename, defaultWriterIndexFilename)
}

// NewFileQueueReaderNamed creates a reader rooted at dir tracking its
// position in readerIndexFilename against the writer position in
// writerIndexFilename. A queue may carry up to two independently-advancing
// reader indices at once (spec.md §3.2: broker mode and server-recovery
// mode); each gets its own FileQueueReader over the same directory.
func NewFileQueueReaderNamed(dir, readerIndexFilename, writerIndexFilename string) (*FileQueueReader, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	readerIdx := NewIndexFile(filepath.Join(dir, readerIndexFilename))
	if !readerIdx.Exists() {
		if err := readerIdx.Set(0); err != nil {
			return nil, err
		}
	}
	writerIdx := NewIndexFile(filepath.Join(dir, writerIndexFilename))
	return &FileQueueReader{dir: dir, readerIndex: readerIdx, writerIndex: writerIdx}, nil
}

// ReaderIndexValue returns the current reader position.
func (r *FileQueueReader) ReaderIndexValue() (uint64, error) { return r.readerIndex.Get() }

// WriterIndexValue returns the current writer position, or 0 if the writer
// index file does not yet exist.
func (r *FileQueueReader) WriterIndexValue() (uint64, error) { return r.writerIndex.GetOrZero() }

// Pending returns max(0, writerIndex-readerIndex); 0 if the writer index
// file is absent (spec.md §4.2).
func (r *FileQueueReader) Pending() (uint64, error) {
	writer, err := r.writerIndex.GetOrZero()
	if err != nil {
		return 0, err
	}
	reader, err := r.readerIndex.Get()
	if err != nil {
		return 0, err
	}
	if reader >= writer {
		return 0, nil
	}
	return writer - reader, nil
}

// Consumer receives the full contents of one message.
type Consumer func(message []byte) error

// TryReadNext reads the next pending message (if any) and passes it to
// consumer; on success it advances the reader index and deletes the message
// file. Returns (true, nil) if a message was processed, (false, nil) if the
// queue has no pending messages, or a non-nil error classified per
// spec.md §7 otherwise (a missing expected message file is errs.ErrCorruption).
func (r *FileQueueReader) TryReadNext(consumer Consumer) (bool, error) {
	readerValue, err := r.readerIndex.Get()
	if err != nil {
		return false, err
	}
	writerExists := r.writerIndex.Exists()
	if !writerExists {
		return false, nil
	}
	writerValue, err := r.writerIndex.Get()
	if err != nil {
		return false, err
	}
	if readerValue >= writerValue {
		return false, nil
	}

	path := filepath.Join(r.dir, filename(readerValue))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("%w: message file %s missing while reader index %d < writer index %d",
				errs.ErrCorruption, path, readerValue, writerValue)
		}
		return false, fmt.Errorf("catapult: read message file %s: %w", path, err)
	}

	if consumer != nil {
		if err := consumer(data); err != nil {
			return false, err
		}
	}

	if _, err := r.readerIndex.Increment(); err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("catapult: remove consumed message file %s: %w", path, err)
	}
	return true, nil
}

// Skip behaves like calling TryReadNext with a no-op consumer, up to n
// times, stopping early if the queue runs dry.
func (r *FileQueueReader) Skip(n int) error {
	for i := 0; i < n; i++ {
		more, err := r.TryReadNext(nil)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}
