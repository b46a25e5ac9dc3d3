// Package version exposes imgcast build metadata.
//
// Version, Commit and BuildTime are injected with -ldflags -X; when they are
// left at their defaults the VCS stamp of the Go build info is used instead.
package version
