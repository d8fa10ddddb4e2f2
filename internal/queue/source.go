package queue

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Source is the byte source behind a queue item.
type Source interface {
	// Name is the declared file name.
	Name() string
	// Size is the declared byte length, or UnknownSize.
	Size() int64
	// Open returns a reader over the entire content.
	Open() (io.ReadCloser, error)
}

// RangeSource is a Source that can be read by byte range, which chunked
// transfer requires.
type RangeSource interface {
	Source
	OpenRange(offset, length int64) (io.ReadCloser, error)
}

// ErrSourceConsumed is returned when a one-shot stream is opened twice.
var ErrSourceConsumed = errors.New("source already consumed")

// FileSource reads a regular file on disk.
type FileSource struct {
	Path    string
	name    string
	size    int64
	ModTime time.Time
}

// NewFileSource stats path and captures its size and modification time.
func NewFileSource(path string) (*FileSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &FileSource{Path: abs, name: filepath.Base(abs), size: info.Size(), ModTime: info.ModTime()}, nil
}

func (f *FileSource) Name() string { return f.name }

func (f *FileSource) Size() int64 { return f.size }

func (f *FileSource) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

func (f *FileSource) OpenRange(offset, length int64) (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	return sectionCloser{SectionReader: io.NewSectionReader(file, offset, length), closer: file}, nil
}

type sectionCloser struct {
	*io.SectionReader
	closer io.Closer
}

func (s sectionCloser) Close() error { return s.closer.Close() }

// MemorySource serves bytes held in memory.
type MemorySource struct {
	name string
	data []byte
}

// NewMemorySource wraps data under the given name.
func NewMemorySource(name string, data []byte) *MemorySource {
	return &MemorySource{name: name, data: data}
}

func (m *MemorySource) Name() string { return m.name }

func (m *MemorySource) Size() int64 { return int64(len(m.data)) }

func (m *MemorySource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

func (m *MemorySource) OpenRange(offset, length int64) (io.ReadCloser, error) {
	return io.NopCloser(io.NewSectionReader(bytes.NewReader(m.data), offset, length)), nil
}

// StreamSource wraps a reader of unknown length, such as stdin. It can be
// opened once; retries of a consumed stream fail.
type StreamSource struct {
	name   string
	mu     sync.Mutex
	reader io.Reader
}

// NewStreamSource wraps r under the given name.
func NewStreamSource(name string, r io.Reader) *StreamSource {
	return &StreamSource{name: name, reader: r}
}

func (s *StreamSource) Name() string { return s.name }

func (s *StreamSource) Size() int64 { return UnknownSize }

func (s *StreamSource) Open() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil, ErrSourceConsumed
	}
	r := s.reader
	s.reader = nil
	return io.NopCloser(r), nil
}
