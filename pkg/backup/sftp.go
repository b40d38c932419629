package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"
)

// SFTPConfig holds the connection settings of a remote backup host.
type SFTPConfig struct {
	// Host is the remote hostname or IP address
	Host string `json:"host" yaml:"host" validate:"required,hostname_rfc1123|ip"`

	// Port is the SSH port (default: 22)
	Port int `json:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`

	// User is the SSH username
	User string `json:"user" yaml:"user" validate:"required"`

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod `json:"auth_method" yaml:"auth_method" validate:"omitempty,oneof=password key"`

	// Password for password-based authentication
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string `json:"private_key_path,omitempty" yaml:"private_key_path,omitempty"`

	// PrivateKeyPassphrase is the passphrase for encrypted private keys
	PrivateKeyPassphrase string `json:"private_key_passphrase,omitempty" yaml:"private_key_passphrase,omitempty"`

	// KnownHostsPath is the path to the known_hosts file.
	// Host keys are not verified when empty or when StrictHostKeyChecking is off.
	KnownHostsPath string `json:"known_hosts_path,omitempty" yaml:"known_hosts_path,omitempty"`

	// StrictHostKeyChecking rejects unknown hosts
	StrictHostKeyChecking bool `json:"strict_host_key_checking" yaml:"strict_host_key_checking"`

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration `json:"connection_timeout" yaml:"connection_timeout"`

	// Root is the remote directory holding the backups
	Root string `json:"root" yaml:"root" validate:"required"`
}

// DefaultSFTPConfig returns an SFTPConfig with sensible defaults.
func DefaultSFTPConfig(host, user string) SFTPConfig {
	return SFTPConfig{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		Root:                  "rosie/backups",
	}
}

func (c *SFTPConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.AuthMethod == "" {
		c.AuthMethod = AuthMethodKey
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *SFTPConfig) Validate() error {
	c.applyDefaults()
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Root == "" {
		return fmt.Errorf("remote root is required")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			homeDir := os.Getenv("HOME")
			for _, keyPath := range []string{
				filepath.Join(homeDir, ".ssh", "id_ed25519"),
				filepath.Join(homeDir, ".ssh", "id_rsa"),
				filepath.Join(homeDir, ".ssh", "id_ecdsa"),
			} {
				if _, err := os.Stat(keyPath); err == nil {
					c.PrivateKeyPath = keyPath
					break
				}
			}
			if c.PrivateKeyPath == "" {
				return fmt.Errorf("private key path is required for key authentication and no default key found")
			}
		}
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the config.
func (c *SFTPConfig) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))
		// Many servers only offer keyboard-interactive for the password prompt.
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.KnownHostsPath != "" && c.StrictHostKeyChecking {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// Address returns the formatted SSH address (host:port).
func (c *SFTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// sftpFS implements fileSystem over an SFTP session.
type sftpFS struct {
	client *sftp.Client
}

func (f sftpFS) MkdirAll(p string) error { return normalise(f.client.MkdirAll(p)) }

func (f sftpFS) Create(p string) (io.WriteCloser, error) {
	file, err := f.client.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL)
	if err != nil {
		return nil, normalise(err)
	}
	return file, nil
}

func (f sftpFS) Open(p string) (io.ReadCloser, error) {
	file, err := f.client.Open(p)
	if err != nil {
		return nil, normalise(err)
	}
	return file, nil
}

func (f sftpFS) Rename(oldPath, newPath string) error {
	return normalise(f.client.Rename(oldPath, newPath))
}

func (f sftpFS) RemoveAll(p string) error { return normalise(f.client.RemoveAll(p)) }

func (f sftpFS) Stat(p string) (os.FileInfo, error) {
	info, err := f.client.Stat(p)
	return info, normalise(err)
}

func (f sftpFS) ReadDir(p string) ([]os.FileInfo, error) {
	infos, err := f.client.ReadDir(p)
	return infos, normalise(err)
}

// normalise maps SFTP "no such file" statuses onto os.ErrNotExist.
func normalise(err error) error {
	if err == nil {
		return nil
	}
	var status *sftp.StatusError
	if errors.As(err, &status) && status.FxCode() == sftp.ErrSSHFxNoSuchFile {
		return fmt.Errorf("%w: %s", os.ErrNotExist, err.Error())
	}
	return err
}

type sftpCloser struct {
	sftp *sftp.Client
	conn *ssh.Client
}

func (c sftpCloser) Close() error {
	sErr := c.sftp.Close()
	cErr := c.conn.Close()
	if sErr != nil {
		return sErr
	}
	return cErr
}

// NewSFTPStore connects to a remote host and creates a backup store under cfg.Root.
func NewSFTPStore(ctx context.Context, cfg SFTPConfig, logger zerolog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sftp config: %w", err)
	}
	clientConfig, err := cfg.BuildSSHClientConfig()
	if err != nil {
		return nil, err
	}

	address := cfg.Address()
	logger.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	var conn *ssh.Client
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to connect to %s: %w", address, ctx.Err())
	case err := <-errChan:
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	case conn = <-connChan:
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	closer := sftpCloser{sftp: client, conn: conn}
	store, err := newStore(sftpFS{client: client}, cfg.Root, "sftp", address, closer, logger)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	logger.Info().Str("address", address).Str("root", cfg.Root).Msg("SFTP backup store connected")
	return store, nil
}
