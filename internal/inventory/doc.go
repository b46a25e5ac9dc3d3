// Package inventory resolves an inventory group into an ordered,
// de-duplicated list of target hosts.
//
// Three strategies are provided: the structured ansible-inventory query,
// a YAML inventory reader and a line-oriented INI reader. Chain tries them
// in precedence order and falls back when a strategy is unavailable or fails.
// No strategy performs network calls.
package inventory
