package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/executor"
	"github.com/oshokin/imgcast/internal/logger"
)

// sshConnectFailureCode is the exit status the ssh client reserves for its own errors.
const sshConnectFailureCode = 255

// OpenSSHClient runs commands through the local ssh binary, so the
// operator's ssh_config, agent and jump hosts apply unchanged.
type OpenSSHClient struct {
	// binary is the ssh executable.
	binary string
	// user is the optional remote login.
	user string
	// port is the optional remote port.
	port int
	// identityFile is the optional private key.
	identityFile string
	// options are extra "-o" settings.
	options []string
	// connectTimeout bounds connection establishment.
	connectTimeout time.Duration
	// commandTimeout bounds the remote command after connecting.
	commandTimeout time.Duration
	// runner starts the ssh process.
	runner executor.Runner
}

// NewOpenSSHClient creates a client from the ssh settings.
func NewOpenSSHClient(cfg *config.Config) *OpenSSHClient {
	return &OpenSSHClient{
		binary:         cfg.SSH.Binary,
		user:           cfg.SSH.User,
		port:           cfg.SSH.Port,
		identityFile:   cfg.SSH.IdentityFile,
		options:        cfg.SSH.Options,
		connectTimeout: cfg.ConnectTimeout,
		commandTimeout: cfg.CommandTimeout,
		runner:         executor.New(),
	}
}

// Run implements Client.
func (c *OpenSSHClient) Run(ctx context.Context, host transfer.Host, req Request) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout(c.connectTimeout, c.commandTimeout))
	defer cancel()

	args := c.args(host, CommandLine(req))

	logger.DebugKV(ctx, "Running remote command", "host", host, "mode", req.Mode, "command", req.Command)

	res, err := c.runner.Run(callCtx, c.binary, args)
	if ctxErr := classifyContextError(ctx, callCtx, host); ctxErr != nil {
		return nil, ctxErr
	}

	if err == nil {
		return &Result{ExitCode: 0, Stdout: res.Stdout, Stderr: res.Stderr}, nil
	}

	code, exited := executor.ExitCode(err)

	switch {
	case !exited:
		return nil, transfer.NewHostError(host, fmt.Errorf("%w: %w", transfer.ErrConnect, err))
	case code == sshConnectFailureCode:
		return nil, transfer.NewHostError(host, fmt.Errorf("%w: %s", transfer.ErrConnect, strings.TrimSpace(res.Stderr)))
	default:
		return &Result{ExitCode: code, Stdout: res.Stdout, Stderr: res.Stderr}, nil
	}
}

// args builds the ssh argument list for one command.
func (c *OpenSSHClient) args(host transfer.Host, commandLine string) []string {
	args := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(timeoutSeconds(c.connectTimeout)),
	}

	for _, option := range c.options {
		args = append(args, "-o", option)
	}

	if c.user != "" {
		args = append(args, "-l", c.user)
	}

	if c.port > 0 {
		args = append(args, "-p", strconv.Itoa(c.port))
	}

	if c.identityFile != "" {
		args = append(args, "-i", c.identityFile)
	}

	return append(args, "--", host.String(), commandLine)
}
