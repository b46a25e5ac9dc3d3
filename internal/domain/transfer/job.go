package transfer

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
)

// Compression names the codec piped through the sender and the receivers.
type Compression string

const (
	// CompressionNone sends the file as is.
	CompressionNone Compression = ""
	// CompressionZstd pipes the data through zstd.
	CompressionZstd Compression = "zstd"
	// CompressionGzip pipes the data through gzip.
	CompressionGzip Compression = "gzip"
	// CompressionLZ4 pipes the data through lz4.
	CompressionLZ4 Compression = "lz4"
)

var errUnknownCompression = errors.New("unknown compression")

// ParseCompression converts user input into a Compression.
// Empty input and "none" disable compression.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "", "none":
		return CompressionNone, nil
	case CompressionZstd, CompressionGzip, CompressionLZ4:
		return c, nil
	default:
		return CompressionNone, fmt.Errorf("%w: %q", errUnknownCompression, s)
	}
}

// Enabled reports whether a codec is selected.
func (c Compression) Enabled() bool {
	return c != CompressionNone
}

// SenderPipe returns the command the sender pipes the source through.
func (c Compression) SenderPipe() string {
	switch c {
	case CompressionZstd:
		return "zstd -q -c -1"
	case CompressionGzip:
		return "gzip -c -1"
	case CompressionLZ4:
		return "lz4 -q -c -1"
	default:
		return ""
	}
}

// ReceiverPipe returns the command the receivers pipe incoming data through.
func (c Compression) ReceiverPipe() string {
	switch c {
	case CompressionZstd:
		return "zstd -q -d -c"
	case CompressionGzip:
		return "gzip -d -c"
	case CompressionLZ4:
		return "lz4 -q -d -c"
	default:
		return ""
	}
}

// Job describes one file to move to a group of hosts.
// A Job is not modified after construction; use the With* helpers to derive variants.
type Job struct {
	// SourcePath is the local file to broadcast.
	SourcePath string
	// DestinationFilename is the file name written on every target.
	DestinationFilename string
	// DestinationDir is the remote directory the file is written to.
	DestinationDir string
	// Port is the UDP port base used by the sender and the receivers.
	Port int
	// Compression is the optional codec for this job.
	Compression Compression
	// TargetHosts are the hosts this job is meant for.
	TargetHosts []Host
}

// DestinationPath returns the remote file path.
func (j *Job) DestinationPath() string {
	return path.Join(j.DestinationDir, j.DestinationFilename)
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}

	cloned := *j
	cloned.TargetHosts = slices.Clone(j.TargetHosts)

	return &cloned
}

// WithPort returns a copy of the job bound to the given port.
func (j *Job) WithPort(port int) *Job {
	cloned := j.Clone()
	cloned.Port = port

	return cloned
}

// WithHosts returns a copy of the job targeting the given hosts.
func (j *Job) WithHosts(hosts []Host) *Job {
	cloned := j.Clone()
	cloned.TargetHosts = slices.Clone(hosts)

	return cloned
}

// String returns a short description used in logs.
func (j *Job) String() string {
	return fmt.Sprintf("%s -> %s (port %d)", j.SourcePath, j.DestinationPath(), j.Port)
}
