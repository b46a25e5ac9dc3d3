// Package session runs a sequence of transfer jobs against one resolved host set
// and reports the aggregated outcome.
package session
