// Package executor runs local processes with context-bound lifetimes and
// captured output. It is the single place imgcast starts child processes
// (the ssh client, the sender, inventory tools).
package executor
