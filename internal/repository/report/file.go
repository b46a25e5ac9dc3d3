package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/imgcast/internal/config"
)

// fileTimeLayout is used in report file names.
const fileTimeLayout = "20060102-150405"

// Repository defines persistence operations for session reports.
type Repository interface {
	Save(ctx context.Context, report *Report) (string, error)
	Load(ctx context.Context, path string) (*Report, error)
}

// FileRepository stores reports as session-<timestamp>.yaml files in a directory.
type FileRepository struct {
	// dir is the directory holding the reports.
	dir string
	// mu serialises writes.
	mu sync.Mutex
}

// ErrNotFound is returned when a report file does not exist.
var ErrNotFound = errors.New("report not found")

// NewFileRepository creates a repository writing into dir.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{
		dir: filepath.Clean(dir),
	}
}

// Save writes report and returns the file path.
// The file is written to a temporary name first and renamed into place.
func (r *FileRepository) Save(_ context.Context, report *Report) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	data, err := yaml.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	path := filepath.Join(r.dir, "session-"+report.StartedAt.Format(fileTimeLayout)+".yaml")
	tmpPath := path + ".tmp"

	if err = os.WriteFile(tmpPath, data, config.DefaultFilePermissions); err != nil {
		return "", fmt.Errorf("write report file: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename report file: %w", err)
	}

	return path, nil
}

// Load reads a report from path.
func (r *FileRepository) Load(_ context.Context, path string) (*Report, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read report file: %w", err)
	}

	var report Report
	if err = yaml.Unmarshal(contents, &report); err != nil {
		return nil, fmt.Errorf("decode report file: %w", err)
	}

	return &report, nil
}
