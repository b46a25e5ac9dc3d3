// Package report persists session reports.
//
// The FileRepository stores one YAML document per session in the log
// directory and exposes a Repository interface that the session depends on.
package report
