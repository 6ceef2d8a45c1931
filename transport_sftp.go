package goftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPClientInterface abstracts the sftp.Client calls used by the SFTP
// session, so it can be replaced in tests.
type SFTPClientInterface interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Stat(path string) (os.FileInfo, error)
	Getwd() (string, error)
	Open(path string) (*sftp.File, error)
	Create(path string) (*sftp.File, error)
	Mkdir(path string) error
	Remove(path string) error
	RemoveDirectory(path string) error
	Rename(oldname, newname string) error
	Close() error
}

var _ SFTPClientInterface = (*sftp.Client)(nil)

// sftpSession adapts an SFTP client to Session. SFTP has no server-side
// working directory, so the cursor is kept here and relative paths are
// resolved against it. Commands run under clock, which is nil in tests.
type sftpSession struct {
	sshClient  *ssh.Client
	sftpClient SFTPClientInterface
	clock      *commandClock
	cwd        string
	closed     atomic.Bool
}

var _ Session = (*sftpSession)(nil)

func dialSFTP(ctx context.Context, config ConnectionConfig, logger zerolog.Logger) (Session, error) {
	authMethods, err := buildAuthMethods(config)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := buildHostKeyCallback(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.Username,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
	}

	addr := config.Address()
	clock := newCommandClock(config.Timeout)
	conn, err := clock.dialer(ctx, config.Timeout)("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	end := clock.begin()
	defer end()

	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SSH connection: %w", err)
	}
	sshClient := ssh.NewClient(ncc, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	s, err := newSFTPSession(sftpClient, sshClient)
	if err != nil {
		sftpClient.Close()
		sshClient.Close()
		return nil, err
	}
	s.clock = clock

	go func() {
		_ = sshClient.Wait()
		s.closed.Store(true)
	}()

	return s, nil
}

// newSFTPSession wraps an SFTP client. sshClient may be nil in tests.
func newSFTPSession(client SFTPClientInterface, sshClient *ssh.Client) (*sftpSession, error) {
	wd, err := client.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to read initial directory: %w", err)
	}
	return &sftpSession{
		sshClient:  sshClient,
		sftpClient: client,
		cwd:        NormalizeRemotePath(wd),
	}, nil
}

func (s *sftpSession) resolve(p string) string {
	if p == "" {
		return s.cwd
	}
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(s.cwd, p)
}

func (s *sftpSession) check(err error) error {
	if err != nil && IsConnectionError(err) {
		s.closed.Store(true)
	}
	return err
}

func (s *sftpSession) List(p string) ([]RawEntry, error) {
	defer s.clock.begin()()
	infos, err := s.sftpClient.ReadDir(s.resolve(p))
	if err != nil {
		return nil, s.check(err)
	}

	raw := make([]RawEntry, 0, len(infos))
	for _, info := range infos {
		kind := KindFile
		if info.IsDir() {
			kind = KindDirectory
		}
		raw = append(raw, RawEntry{
			Name:        info.Name(),
			Kind:        kind,
			Size:        info.Size(),
			ModifiedAt:  info.ModTime(),
			Permissions: info.Mode().Perm().String(),
		})
	}
	return raw, nil
}

func (s *sftpSession) ChangeDir(p string) error {
	defer s.clock.begin()()
	target := s.resolve(p)
	info, err := s.sftpClient.Stat(target)
	if err != nil {
		return s.check(err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", target)
	}
	s.cwd = target
	return nil
}

func (s *sftpSession) CurrentDir() (string, error) {
	if s.Closed() {
		return "", errors.New("sftp session closed")
	}
	return s.cwd, nil
}

func (s *sftpSession) Retrieve(p string, w io.Writer) error {
	defer s.clock.begin()()
	f, err := s.sftpClient.Open(s.resolve(p))
	if err != nil {
		return s.check(fmt.Errorf("failed to open remote file: %w", err))
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return s.check(fmt.Errorf("failed to read remote file: %w", err))
	}
	return nil
}

func (s *sftpSession) Store(p string, r io.Reader) error {
	defer s.clock.begin()()
	f, err := s.sftpClient.Create(s.resolve(p))
	if err != nil {
		return s.check(fmt.Errorf("failed to create remote file: %w", err))
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return s.check(fmt.Errorf("failed to copy file content: %w", err))
	}
	return s.check(f.Close())
}

func (s *sftpSession) MakeDir(p string) error {
	defer s.clock.begin()()
	return s.check(s.sftpClient.Mkdir(s.resolve(p)))
}

func (s *sftpSession) Delete(p string) error {
	defer s.clock.begin()()
	return s.check(s.sftpClient.Remove(s.resolve(p)))
}

func (s *sftpSession) RemoveDir(p string) error {
	defer s.clock.begin()()
	return s.check(s.sftpClient.RemoveDirectory(s.resolve(p)))
}

func (s *sftpSession) Rename(from, to string) error {
	defer s.clock.begin()()
	return s.check(s.sftpClient.Rename(s.resolve(from), s.resolve(to)))
}

func (s *sftpSession) FileSize(p string) (int64, error) {
	defer s.clock.begin()()
	info, err := s.sftpClient.Stat(s.resolve(p))
	if err != nil {
		return 0, s.check(err)
	}
	return info.Size(), nil
}

func (s *sftpSession) Closed() bool {
	return s.closed.Load()
}

// Close closes the SFTP and SSH connections.
func (s *sftpSession) Close() error {
	s.closed.Store(true)
	err := s.sftpClient.Close()
	if s.sshClient != nil {
		if sshErr := s.sshClient.Close(); err == nil {
			err = sshErr
		}
	}
	return err
}

func buildHostKeyCallback(config ConnectionConfig, logger zerolog.Logger) (ssh.HostKeyCallback, error) {
	if config.InsecureIgnoreHostKey {
		logger.Warn().Str("host", config.Host).Int("port", config.Port).
			Msg("SSH host key verification disabled - this is insecure!")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if config.KnownHostsFile != "" {
		expandedPath := ExpandPath(config.KnownHostsFile)
		callback, err := knownhosts.New(expandedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file %s: %w", expandedPath, err)
		}
		return callback, nil
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		defaultKnownHosts := filepath.Join(homeDir, ".ssh", "known_hosts")
		if _, err := os.Stat(defaultKnownHosts); err == nil {
			callback, err := knownhosts.New(defaultKnownHosts)
			if err == nil {
				return callback, nil
			}
			logger.Warn().Err(err).Str("file", defaultKnownHosts).Msg("could not parse known_hosts file")
		}
	}

	return nil, fmt.Errorf("no known_hosts file found for %s; set KnownHostsFile or InsecureIgnoreHostKey", config.Address())
}

func buildAuthMethods(config ConnectionConfig) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if config.PrivateKey != "" || config.KeyPath != "" {
		keyAuth, err := buildPrivateKeyAuth(config)
		if err != nil {
			return nil, err
		}
		authMethods = append(authMethods, keyAuth)
	}
	if config.Password != "" {
		authMethods = append(authMethods, ssh.Password(config.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH authentication method configured")
	}
	return authMethods, nil
}

func buildPrivateKeyAuth(config ConnectionConfig) (ssh.AuthMethod, error) {
	var keyData []byte
	var err error

	if config.PrivateKey != "" {
		keyData = []byte(config.PrivateKey)
	} else {
		keyData, err = os.ReadFile(ExpandPath(config.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key file: %w", err)
		}
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
