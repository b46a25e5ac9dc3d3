// Package parallel runs per-host work concurrently with isolated failure
// domains: an item's error or slowness never cancels or delays the others.
package parallel
