package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"fleetbot/internal/models"
)

// DefaultConnectTimeout bounds dial plus handshake.
const DefaultConnectTimeout = 30 * time.Second

// Executor runs one command on one backend and reports the outcome.
type Executor interface {
	Execute(ctx context.Context, d models.ServerDescriptor, command string) models.Outcome
}

// Client is the SSH Executor. One connection per Execute, no retries.
type Client struct {
	timeout  time.Duration
	hostKeys ssh.HostKeyCallback
	logger   zerolog.Logger
}

// Options configures NewClient.
type Options struct {
	ConnectTimeout time.Duration
	KnownHosts     string // empty: host keys are not verified
	Logger         zerolog.Logger
}

// NewClient builds the executor. A known_hosts file that cannot be read is an error.
func NewClient(opts Options) (*Client, error) {
	c := &Client{timeout: opts.ConnectTimeout, logger: opts.Logger}
	if c.timeout <= 0 {
		c.timeout = DefaultConnectTimeout
	}
	if opts.KnownHosts != "" {
		cb, err := knownhosts.New(opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("known_hosts %s: %w", opts.KnownHosts, err)
		}
		c.hostKeys = cb
	} else {
		c.logger.Warn().Msg("host key verification disabled; set known_hosts to enable it")
		c.hostKeys = ssh.InsecureIgnoreHostKey()
	}
	return c, nil
}

// Execute connects, runs command to completion and returns stdout+stderr trimmed.
// Succeeded is false only for transport-level failures; the remote exit status is not inspected.
func (c *Client) Execute(ctx context.Context, d models.ServerDescriptor, command string) models.Outcome {
	start := time.Now()
	out, err := c.run(ctx, d, command)
	outcome := models.Outcome{Duration: time.Since(start)}
	if err != nil {
		outcome.Output = strings.TrimSpace(err.Error())
		c.logger.Error().Str("server", d.ID).Str("host", d.Addr()).Err(err).Msg("remote execution failed")
		return outcome
	}
	outcome.Succeeded = true
	outcome.Output = strings.TrimSpace(string(out))
	c.logger.Info().Str("server", d.ID).Str("host", d.Addr()).Dur("took", outcome.Duration).Msg("remote execution finished")
	return outcome
}

func (c *Client) run(ctx context.Context, d models.ServerDescriptor, command string) ([]byte, error) {
	config, err := c.clientConfig(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	client, err := c.dial(ctx, d.Addr(), config)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", models.ErrTransport, d.Addr(), err)
	}
	defer client.Close()

	// Shutdown closes the connection under a running command.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: open session: %v", models.ErrTransport, err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(command)
	if err != nil && !commandCompleted(err) {
		return out, fmt.Errorf("%w: run: %v", models.ErrTransport, err)
	}
	return out, nil
}

// commandCompleted reports errors that mean the command ran but exited badly.
func commandCompleted(err error) bool {
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	return errors.As(err, &exitErr) || errors.As(err, &missing)
}

func (c *Client) dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// clientConfig prefers the key when both are configured, then the password.
// An unusable key only fails the run when there is no password to fall back to.
func (c *Client) clientConfig(d models.ServerDescriptor) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if d.KeyPath != "" {
		keyAuth, err := readPrivateKey(d.KeyPath)
		switch {
		case err == nil:
			auth = append(auth, keyAuth)
		case d.Password != "":
			c.logger.Warn().Str("server", d.ID).Str("key_path", d.KeyPath).Err(err).Msg("private key unusable, trying password")
		default:
			return nil, fmt.Errorf("read private key: %w", err)
		}
	}
	if d.Password != "" {
		auth = append(auth, ssh.Password(d.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no password or key configured for %s", d.Name)
	}
	return &ssh.ClientConfig{
		User:            d.User,
		Auth:            auth,
		HostKeyCallback: c.hostKeys,
		Timeout:         c.timeout,
	}, nil
}

func readPrivateKey(path string) (ssh.AuthMethod, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("encrypted private keys are not supported: %w", err)
		}
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}
