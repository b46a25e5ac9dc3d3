// Package coordinator runs the per-job transfer state machine:
// resolving, starting receivers, awaiting quorum, sending, verifying
// and cleaning up. Cleanup runs on every exit path.
package coordinator
