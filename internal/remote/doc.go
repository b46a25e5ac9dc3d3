// Package remote executes shell commands on target hosts.
//
// A Client runs a Request either synchronously (waiting for the exit
// status) or detached (the command keeps running after the client
// disconnects, its output captured in a host-local file). Every call is
// bounded by a connect timeout; failures to connect are reported as
// transfer.ErrConnect and deadlines as transfer.ErrTimeout. There are no
// retries at this layer.
//
// Backends: OpenSSHClient (the ssh binary, honouring the operator's
// ssh_config), NativeClient (golang.org/x/crypto/ssh) and DryRunClient.
package remote
