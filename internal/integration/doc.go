// Package integration holds end-to-end tests that run whole sessions with stand-in binaries.
package integration
