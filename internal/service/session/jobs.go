package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
)

// errNoImages is returned when a source directory holds no regular files.
var errNoImages = errors.New("no image files found")

// DiscoverJobs builds the jobs for source: one job for a file, or one job per
// regular, non-hidden file of a directory in name order.
// Ports are assigned later by the session.
func DiscoverJobs(source string, cfg *config.Config, hosts []transfer.Host) ([]*transfer.Job, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	if !info.IsDir() {
		return []*transfer.Job{newJob(source, cfg, hosts)}, nil
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, fmt.Errorf("read source directory: %w", err)
	}

	jobs := make([]*transfer.Job, 0, len(entries))

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		path := filepath.Join(source, entry.Name())

		// Follow symlinks.
		entryInfo, err := os.Stat(path)
		if err != nil || !entryInfo.Mode().IsRegular() {
			continue
		}

		jobs = append(jobs, newJob(path, cfg, hosts))
	}

	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w in %s", errNoImages, source)
	}

	return jobs, nil
}

// newJob creates a job for one local file.
func newJob(path string, cfg *config.Config, hosts []transfer.Host) *transfer.Job {
	return &transfer.Job{
		SourcePath:          path,
		DestinationFilename: filepath.Base(path),
		DestinationDir:      cfg.DestinationDir,
		Compression:         cfg.CompressionCodec(),
		TargetHosts:         hosts,
	}
}
