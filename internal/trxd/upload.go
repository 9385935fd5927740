package trxd

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to reach the host that runs trxd so register
// images can be copied next to the device before LOADCONFIG.
type SSHConfig struct {
	Host      string
	User      string
	Password  string
	KeyPath   string
	Port      int
	RemoteDir string
}

// SSHUploader copies local files to the trxd host over SSH.
type SSHUploader struct {
	mu     sync.Mutex
	cfg    SSHConfig
	client *ssh.Client
}

// NewSSHUploader validates configuration and prepares an uploader. The
// connection is opened lazily on first upload.
func NewSSHUploader(cfg SSHConfig) (*SSHUploader, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required for config upload")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "/tmp/trxd"
	}
	return &SSHUploader{cfg: cfg}, nil
}

// RemotePath is where a local file lands on the trxd host.
func (u *SSHUploader) RemotePath(local string) string {
	return path.Join(u.cfg.RemoteDir, filepath.Base(local))
}

// Upload copies the local file and returns its remote path.
func (u *SSHUploader) Upload(ctx context.Context, local string) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	client, err := u.dial(ctx)
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	remote := u.RemotePath(local)
	session.Stdin = f
	if err := session.Run(uploadCommand(u.cfg.RemoteDir, remote)); err != nil {
		return "", fmt.Errorf("upload %s via ssh: %w", local, err)
	}
	return remote, nil
}

// Close drops the cached SSH connection.
func (u *SSHUploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.client == nil {
		return nil
	}
	err := u.client.Close()
	u.client = nil
	return err
}

func (u *SSHUploader) dial(ctx context.Context) (*ssh.Client, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.client != nil {
		return u.client, nil
	}

	auth, err := authMethods(u.cfg)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            u.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	addr := net.JoinHostPort(u.cfg.Host, fmt.Sprint(u.cfg.Port))
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}

	u.client = ssh.NewClient(clientConn, chans, reqs)
	return u.client, nil
}

func authMethods(cfg SSHConfig) ([]ssh.AuthMethod, error) {
	var auth []ssh.AuthMethod
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}
	return auth, nil
}

func uploadCommand(dir, remote string) string {
	return fmt.Sprintf("mkdir -p %s && cat > %s", shellQuote(dir), shellQuote(remote))
}

// shellQuote wraps a value in single quotes with embedded quotes escaped.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
