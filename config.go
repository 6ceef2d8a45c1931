package goftp

import (
	"fmt"
	"time"
)

// Protocol selects the transport used for the session.
type Protocol string

const (
	// ProtocolFTP is plain FTP, or FTPS when Secure is set (default).
	ProtocolFTP Protocol = "ftp"
	// ProtocolFTPS is FTP with TLS. Equivalent to ProtocolFTP with Secure.
	ProtocolFTPS Protocol = "ftps"
	// ProtocolSFTP is SFTP over SSH.
	ProtocolSFTP Protocol = "sftp"
)

// ConnectionConfig holds the parameters of a remote file server session.
// A config is retained after Connect so the session can be rebuilt
// transparently when the server drops it.
type ConnectionConfig struct {
	// Host is the server hostname or IP address.
	Host string

	// Port is the server port (default 21, 990 for implicit TLS, 22 for SFTP).
	Port int

	// Username is the login name.
	Username string

	// Password is the login password.
	Password string

	// Protocol selects the transport. If not set, ProtocolFTP is used.
	Protocol Protocol

	// Secure enables TLS for FTP (explicit AUTH TLS unless ImplicitTLS is set).
	Secure bool

	// ImplicitTLS dials TLS directly instead of upgrading with AUTH TLS.
	ImplicitTLS bool

	// SecureOptions are opaque TLS settings. Recognized keys:
	// "server_name", "insecure_skip_verify" ("true"/"false"),
	// "min_version" ("1.2"/"1.3").
	SecureOptions map[string]string

	// Passive requests passive data connections. The FTP transport only
	// supports passive mode, so false is accepted but logged.
	Passive bool

	// DefaultRemotePath is entered after login when it is set and not "/".
	DefaultRemotePath string

	// Timeout bounds dialing and each transport command. A command that
	// makes no network progress for this long fails and the session is
	// treated as closed (default 30s).
	Timeout time.Duration

	// PrivateKey is the SSH private key content (PEM encoded). SFTP only.
	PrivateKey string

	// KeyPath is the path to the SSH private key file. SFTP only.
	KeyPath string

	// KnownHostsFile is the path to a known_hosts file. SFTP only.
	// If not set, defaults to ~/.ssh/known_hosts if it exists.
	KnownHostsFile string

	// InsecureIgnoreHostKey skips host key verification. SFTP only.
	// WARNING: This is insecure and should only be used for testing.
	InsecureIgnoreHostKey bool
}

// WithDefaults returns a copy of the config with default values applied.
func (c ConnectionConfig) WithDefaults() ConnectionConfig {
	if c.Protocol == "" {
		c.Protocol = ProtocolFTP
	}
	if c.Protocol == ProtocolFTPS {
		c.Secure = true
	}
	if c.Port == 0 {
		switch {
		case c.Protocol == ProtocolSFTP:
			c.Port = 22
		case c.Secure && c.ImplicitTLS:
			c.Port = 990
		default:
			c.Port = 21
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Validate reports configuration errors that no server could accept.
func (c ConnectionConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Protocol {
	case "", ProtocolFTP, ProtocolFTPS, ProtocolSFTP:
	default:
		return fmt.Errorf("unsupported protocol %q", c.Protocol)
	}
	return nil
}

// Address returns the host:port dial address.
func (c ConnectionConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EntryKind distinguishes files from directories.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// RemoteEntry is one item of a remote directory listing.
type RemoteEntry struct {
	// Name is the base name of the entry.
	Name string

	// Path is the absolute, slash-separated remote path.
	Path string

	Kind        EntryKind
	Size        int64
	ModifiedAt  time.Time
	Permissions string
}

// IsDir reports whether the entry is a directory.
func (e RemoteEntry) IsDir() bool {
	return e.Kind == KindDirectory
}

// ExistsResult is returned by Exists.
type ExistsResult struct {
	Exists bool
	Kind   EntryKind
}

// SyncResult represents the result of a SyncToLocal run.
type SyncResult struct {
	// Root is the fresh local directory the tree was mirrored into.
	Root string

	// FilesSynced is the number of files downloaded.
	FilesSynced int

	// FilesFailed is the number of files whose download failed.
	FilesFailed int

	// DirsSkipped counts directories skipped by ignore rules or listing failures.
	DirsSkipped int
}
