package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes the remote host that owns the powerline interface
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	Passphrase     string
	Password       string
	KnownHostsPath string
	DialTimeout    time.Duration
}

// SSHRunner runs the helper on a remote host. The connection is opened on
// first use and reopened after a transport failure.
type SSHRunner struct {
	cfg    SSHConfig
	config *ssh.ClientConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHRunner validates the config and prepares authentication
func NewSSHRunner(cfg SSHConfig) (*SSHRunner, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	config, err := buildSSHConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &SSHRunner{cfg: cfg, config: config}, nil
}

// buildSSHConfig creates an SSH client config, preferring key auth
func buildSSHConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if cfg.KeyPath != "" {
		keyData, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}

		var signer ssh.Signer
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh key_path or password is required")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.DialTimeout,
	}, nil
}

func (r *SSHRunner) connect(ctx context.Context) (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	addr := net.JoinHostPort(r.cfg.Host, fmt.Sprintf("%d", r.cfg.Port))
	dialer := &net.Dialer{Timeout: r.cfg.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, r.config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection: %w", err)
	}

	r.client = ssh.NewClient(sshConn, chans, reqs)
	return r.client, nil
}

func (r *SSHRunner) drop(client *ssh.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == client {
		r.client.Close()
		r.client = nil
	}
}

// Run executes argv on the remote host
func (r *SSHRunner) Run(ctx context.Context, argv []string) ([]byte, int, error) {
	if len(argv) == 0 {
		return nil, 0, ErrNoCommand
	}

	client, err := r.connect(ctx)
	if err != nil {
		return nil, 0, err
	}

	session, err := client.NewSession()
	if err != nil {
		r.drop(client)
		return nil, 0, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)

	go func() {
		out, err := session.Output(shellJoin(argv))
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.out, 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(res.err, &exitErr) {
			return res.out, exitErr.ExitStatus(), nil
		}
		r.drop(client)
		return nil, 0, fmt.Errorf("command failed: %w", res.err)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, 0, ctx.Err()
	}
}

// Close releases the SSH connection
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// shellJoin quotes each argument for a POSIX shell
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
