package receiver

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"uploadq/internal/fileutil"
)

const manifestFile = "manifest.msgpack"

// manifest tracks the staged parts of one chunked upload.
type manifest struct {
	FileID    string        `msgpack:"file_id"`
	FileName  string        `msgpack:"file_name"`
	PartCount int           `msgpack:"part_count"`
	Received  map[int]int64 `msgpack:"received"`
	Completed bool          `msgpack:"completed"`
	StoredAs  string        `msgpack:"stored_as,omitempty"`
	UpdatedAt time.Time     `msgpack:"updated_at"`
}

func (m *manifest) complete() bool {
	return len(m.Received) == m.PartCount
}

// missing lists the part indexes below limit that have not been staged.
func (m *manifest) missing(limit int) []int {
	var out []int
	for i := 0; i < limit && i < m.PartCount; i++ {
		if _, ok := m.Received[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

func readManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Received == nil {
		m.Received = make(map[int]int64)
	}
	return &m, nil
}

func writeManifest(dir string, m *manifest) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	_, err = fileutil.WriteAtomic(filepath.Join(dir, manifestFile), bytes.NewReader(data), 0o644)
	return err
}
