package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/logger"
)

// defaultSSHPort is used when no port is configured.
const defaultSSHPort = 22

var (
	// errNoAuthMethods is returned when neither an agent nor a key is available.
	errNoAuthMethods = errors.New("no ssh authentication method available")
	// errNoExitStatus is returned when the remote side closed without an exit status.
	errNoExitStatus = errors.New("remote command exited without status")
)

// NativeClient runs commands with the built-in ssh client.
// It authenticates with the ssh agent and/or an identity file and verifies
// host keys against a known_hosts file.
type NativeClient struct {
	// clientConfig is shared by every connection.
	clientConfig *ssh.ClientConfig
	// port is the remote ssh port.
	port int
	// connectTimeout bounds TCP connect plus handshake.
	connectTimeout time.Duration
	// commandTimeout bounds the remote command after connecting.
	commandTimeout time.Duration
	// dialer opens TCP connections.
	dialer *net.Dialer
	// agentConn is the ssh agent socket, nil without an agent.
	agentConn net.Conn
}

// NewNativeClient creates a client from the ssh settings.
func NewNativeClient(cfg *config.Config) (*NativeClient, error) {
	login := cfg.SSH.User
	if login == "" {
		current, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("current user: %w", err)
		}

		login = current.Username
	}

	agentConn := dialAgent()

	auth, err := authMethods(agentConn, cfg.SSH.IdentityFile)
	if err != nil {
		closeAgent(agentConn)
		return nil, err
	}

	knownHostsFile := cfg.SSH.KnownHostsFile
	if knownHostsFile == "" {
		knownHostsFile = filepath.Join(homeDir(), ".ssh", "known_hosts")
	}

	hostKeyCallback, err := knownhosts.New(knownHostsFile)
	if err != nil {
		closeAgent(agentConn)
		return nil, fmt.Errorf("load known hosts: %w", err)
	}

	port := cfg.SSH.Port
	if port <= 0 {
		port = defaultSSHPort
	}

	return &NativeClient{
		clientConfig: &ssh.ClientConfig{
			User:            login,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.ConnectTimeout,
		},
		port:           port,
		connectTimeout: cfg.ConnectTimeout,
		commandTimeout: cfg.CommandTimeout,
		dialer:         &net.Dialer{Timeout: cfg.ConnectTimeout},
		agentConn:      agentConn,
	}, nil
}

// Close releases the ssh agent connection.
func (c *NativeClient) Close() error {
	if c.agentConn == nil {
		return nil
	}

	err := c.agentConn.Close()
	c.agentConn = nil

	return err
}

// Run implements Client.
func (c *NativeClient) Run(ctx context.Context, host transfer.Host, req Request) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout(c.connectTimeout, c.commandTimeout))
	defer cancel()

	logger.DebugKV(ctx, "Running remote command", "host", host, "mode", req.Mode, "command", req.Command)

	client, err := c.connect(callCtx, host)
	if err != nil {
		if ctxErr := classifyContextError(ctx, callCtx, host); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, transfer.NewHostError(host, fmt.Errorf("%w: %w", transfer.ErrConnect, err))
	}

	defer func() {
		_ = client.Close()
	}()

	session, err := client.NewSession()
	if err != nil {
		return nil, transfer.NewHostError(host, fmt.Errorf("%w: open session: %w", transfer.ErrConnect, err))
	}

	defer func() {
		_ = session.Close()
	}()

	var stdout, stderr bytes.Buffer

	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)

	go func() {
		done <- session.Run(CommandLine(req))
	}()

	select {
	case <-callCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = client.Close()

		<-done

		return nil, classifyContextError(ctx, callCtx, host)
	case err = <-done:
	}

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}

	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return nil, transfer.NewHostError(host, errNoExitStatus)
	}

	return nil, transfer.NewHostError(host, fmt.Errorf("run command: %w", err))
}

// connect dials host and performs the ssh handshake within the connect timeout.
func (c *NativeClient) connect(ctx context.Context, host transfer.Host) (*ssh.Client, error) {
	address := net.JoinHostPort(host.String(), strconv.Itoa(c.port))

	conn, err := c.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	// Bound the handshake; the deadline is lifted once the session is established.
	if err = conn.SetDeadline(time.Now().Add(c.connectTimeout)); err != nil {
		_ = conn.Close()
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, c.clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err = conn.SetDeadline(time.Time{}); err != nil {
		_ = sshConn.Close()
		return nil, err
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// dialAgent connects to the ssh agent named by SSH_AUTH_SOCK, nil when there is none.
func dialAgent() net.Conn {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}

	return conn
}

// closeAgent closes conn when it is set.
func closeAgent(conn net.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}

// authMethods collects the agent and identity file signers.
func authMethods(agentConn net.Conn, identityFile string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if agentConn != nil {
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
	}

	candidates := []string{identityFile}
	if identityFile == "" {
		candidates = []string{
			filepath.Join(homeDir(), ".ssh", "id_ed25519"),
			filepath.Join(homeDir(), ".ssh", "id_rsa"),
		}
	}

	for _, path := range candidates {
		signer, err := loadSigner(path)
		if err != nil {
			if identityFile != "" {
				return nil, err
			}

			continue
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	if len(methods) == 0 {
		return nil, errNoAuthMethods
	}

	return methods, nil
}

// loadSigner parses an unencrypted private key file.
//
//nolint:ireturn // ssh.Signer is the type the ssh package works with.
func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}

	return signer, nil
}

// homeDir returns the user home directory or the current directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return home
}
