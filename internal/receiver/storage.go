package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"uploadq/internal/fileutil"
	"uploadq/internal/logging"
	"uploadq/internal/staging"
	"uploadq/internal/textutil"
)

const fileMode = 0o644

// FileInfo describes one stored file.
type FileInfo struct {
	FileName string    `json:"fileName"`
	FileSize int64     `json:"fileSize"`
	Modified time.Time `json:"modified"`
}

// PartRequest carries the headers of one chunked part.
type PartRequest struct {
	FileID   string
	FileName string
	Index    int
	Count    int
	Size     int64
}

// PartResult reports the state of a chunked upload after a part was stored.
type PartResult struct {
	FileName string
	Received int
	Complete bool
}

// Store keeps uploaded files in a flat directory. Chunked uploads are staged
// per file id and assembled into the upload directory once every part has
// arrived.
type Store struct {
	uploadDir  string
	stagingDir string
	minFree    uint64
	logger     *slog.Logger
	freeBytes  func(string) (uint64, error)

	locks keyedMutex
	mu    sync.Mutex
}

// NewStore creates the upload and staging directories if needed.
func NewStore(uploadDir, stagingDir string, minFree int64, logger *slog.Logger) (*Store, error) {
	for _, dir := range []string{uploadDir, stagingDir} {
		if strings.TrimSpace(dir) == "" {
			return nil, errors.New("receiver store: directory not configured")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if minFree < 0 {
		minFree = 0
	}
	return &Store{
		uploadDir:  uploadDir,
		stagingDir: stagingDir,
		minFree:    uint64(minFree),
		logger:     logging.NewComponentLogger(logger, "storage"),
		freeBytes:  fileutil.FreeBytes,
	}, nil
}

// UploadDir returns the directory holding stored files.
func (s *Store) UploadDir() string { return s.uploadDir }

// SaveWhole stores a single-shot upload under name, replacing any existing
// file. size may be negative when the client did not announce it.
func (s *Store) SaveWhole(name string, size int64, r io.Reader) (string, int64, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", 0, err
	}
	if err := s.checkFree(size); err != nil {
		return "", 0, err
	}
	written, err := fileutil.WriteAtomic(filepath.Join(s.uploadDir, clean), r, fileMode)
	if err != nil {
		return "", written, fmt.Errorf("store %s: %w", clean, err)
	}
	s.logger.Info("file stored",
		logging.String(logging.FieldFileName, clean),
		logging.Int64("bytes", written),
		logging.String("mode", "single"),
	)
	return clean, written, nil
}

// SavePart stages one part of a chunked upload. Parts may arrive more than
// once; a repeated part replaces the earlier copy, and parts for an upload
// that was already assembled are acknowledged without being stored. The final
// part is refused with a *MissingPartsError while any earlier part is not
// staged. An assembled upload whose stored file has since been deleted or
// renamed is forgotten and staged again from scratch.
func (s *Store) SavePart(req PartRequest, r io.Reader) (PartResult, error) {
	if strings.TrimSpace(req.FileID) == "" {
		return PartResult{}, fmt.Errorf("%w: missing file id", ErrPartMismatch)
	}
	if req.Count < 1 || req.Index < 0 || req.Index >= req.Count || req.Size < 0 {
		return PartResult{}, fmt.Errorf("%w: part %d of %d (%d bytes)", ErrPartMismatch, req.Index, req.Count, req.Size)
	}
	clean, err := cleanName(req.FileName)
	if err != nil {
		return PartResult{}, err
	}

	unlock := s.locks.lock(req.FileID)
	defer unlock()

	dir := filepath.Join(s.stagingDir, staging.DirName(req.FileID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return PartResult{}, fmt.Errorf("create staging dir: %w", err)
	}
	m, err := readManifest(dir)
	if err != nil {
		return PartResult{}, err
	}
	if m != nil && m.Completed && !s.storedFileExists(m.StoredAs) {
		s.logger.Warn("assembled file is gone; dropping upload state",
			logging.String(logging.FieldFileID, req.FileID),
			logging.String(logging.FieldFileName, m.StoredAs),
		)
		if err := os.RemoveAll(dir); err != nil {
			return PartResult{}, fmt.Errorf("reset staging dir: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return PartResult{}, fmt.Errorf("create staging dir: %w", err)
		}
		m = nil
	}
	if m == nil {
		m = &manifest{FileID: req.FileID, FileName: clean, PartCount: req.Count, Received: make(map[int]int64)}
	} else if m.FileID != req.FileID || m.PartCount != req.Count || m.FileName != clean {
		return PartResult{}, fmt.Errorf("%w: %s expects %d parts named %q", ErrPartMismatch, req.FileID, m.PartCount, m.FileName)
	}
	if m.Completed {
		return PartResult{FileName: m.StoredAs, Received: m.PartCount, Complete: true}, nil
	}
	if req.Index == req.Count-1 {
		if missing := m.missing(req.Index); len(missing) > 0 {
			return PartResult{}, &MissingPartsError{FileID: req.FileID, Missing: missing}
		}
	}
	if err := s.checkFree(req.Size); err != nil {
		return PartResult{}, err
	}

	partPath := filepath.Join(dir, partFileName(req.Index))
	written, err := fileutil.WriteAtomic(partPath, io.LimitReader(r, req.Size+1), fileMode)
	if err != nil {
		return PartResult{}, fmt.Errorf("stage part %d: %w", req.Index, err)
	}
	if written != req.Size {
		_ = os.Remove(partPath)
		return PartResult{}, fmt.Errorf("%w: part %d carried %d bytes, expected %d", ErrPartMismatch, req.Index, written, req.Size)
	}
	m.Received[req.Index] = written

	if m.complete() {
		if err := s.assemble(dir, m); err != nil {
			return PartResult{}, err
		}
	}
	if err := writeManifest(dir, m); err != nil {
		return PartResult{}, err
	}
	s.logger.Debug("part staged",
		logging.String(logging.FieldFileID, req.FileID),
		logging.Int(logging.FieldPartIndex, req.Index),
		logging.Int(logging.FieldPartCount, req.Count),
		logging.Int64("bytes", written),
	)
	return PartResult{FileName: clean, Received: len(m.Received), Complete: m.Completed}, nil
}

func (s *Store) storedFileExists(name string) bool {
	if name == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(s.uploadDir, name))
	return err == nil && info.Mode().IsRegular()
}

func (s *Store) assemble(dir string, m *manifest) error {
	parts := make([]string, m.PartCount)
	for i := range parts {
		parts[i] = filepath.Join(dir, partFileName(i))
	}
	written, err := fileutil.ConcatFiles(filepath.Join(s.uploadDir, m.FileName), parts, fileMode)
	if err != nil {
		return fmt.Errorf("assemble %s: %w", m.FileName, err)
	}
	m.Completed = true
	m.StoredAs = m.FileName
	for _, p := range parts {
		_ = os.Remove(p)
	}
	s.logger.Info("file stored",
		logging.String(logging.FieldFileName, m.FileName),
		logging.String(logging.FieldFileID, m.FileID),
		logging.Int(logging.FieldPartCount, m.PartCount),
		logging.Int64("bytes", written),
		logging.String("mode", "chunked"),
	)
	return nil
}

// List returns the stored files sorted by name.
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			FileName: entry.Name(),
			FileSize: info.Size(),
			Modified: info.ModTime().UTC(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FileName < files[j].FileName })
	return files, nil
}

// Rename moves a stored file to newName and returns the name it was stored
// under.
func (s *Store) Rename(oldName, newName string) (string, error) {
	from, err := cleanName(oldName)
	if err != nil {
		return "", err
	}
	to, err := cleanName(newName)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fromPath := filepath.Join(s.uploadDir, from)
	if _, err := os.Stat(fromPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, from)
		}
		return "", err
	}
	if from == to {
		return to, nil
	}
	toPath := filepath.Join(s.uploadDir, to)
	if _, err := os.Stat(toPath); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, to)
	}
	if err := os.Rename(fromPath, toPath); err != nil {
		return "", fmt.Errorf("rename %s: %w", from, err)
	}
	s.logger.Info("file renamed", logging.String("from", from), logging.String("to", to))
	return to, nil
}

// Delete removes a stored file.
func (s *Store) Delete(name string) error {
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.uploadDir, clean)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return fmt.Errorf("delete %s: %w", clean, err)
	}
	s.logger.Info("file deleted", logging.String(logging.FieldFileName, clean))
	return nil
}

// PruneStaging removes staging directories idle for longer than maxAge.
func (s *Store) PruneStaging(ctx context.Context, maxAge time.Duration) staging.CleanStaleResult {
	return staging.CleanStale(ctx, s.stagingDir, maxAge, s.logger)
}

// StagedUploads lists the staging directories of unfinished or recently
// assembled chunked uploads.
func (s *Store) StagedUploads() ([]staging.DirInfo, error) {
	return staging.ListDirectories(s.stagingDir)
}

func (s *Store) checkFree(need int64) error {
	if s.minFree == 0 {
		return nil
	}
	free, err := s.freeBytes(s.uploadDir)
	if err != nil {
		return err
	}
	if need < 0 {
		need = 0
	}
	if free < uint64(need)+s.minFree {
		return fmt.Errorf("%w: %d bytes free, %d needed plus %d reserved", ErrInsufficientSpace, free, need, s.minFree)
	}
	return nil
}

func cleanName(name string) (string, error) {
	clean := textutil.SanitizeFileName(name)
	if clean == "" || strings.HasPrefix(clean, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return clean, nil
}

func partFileName(index int) string {
	return fmt.Sprintf("part-%06d", index)
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
