package goftp

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// RawEntry is a directory entry as reported by the transport, before it
// is anchored to an absolute path.
type RawEntry struct {
	Name        string
	Kind        EntryKind
	Size        int64
	ModifiedAt  time.Time
	Permissions string
}

// Session is one stateful connection to a remote file server. It carries
// a server-side working directory that ChangeDir mutates. Implementations
// are not safe for concurrent use; callers serialize access.
type Session interface {
	// List lists path, or the working directory when path is empty.
	List(path string) ([]RawEntry, error)
	ChangeDir(path string) error
	CurrentDir() (string, error)
	Retrieve(path string, w io.Writer) error
	Store(path string, r io.Reader) error
	MakeDir(path string) error
	Delete(path string) error
	RemoveDir(path string) error
	Rename(from, to string) error
	FileSize(path string) (int64, error)

	// Closed reports whether the transport has observed the session end.
	Closed() bool
	Close() error
}

// Dialer opens and authenticates new sessions.
type Dialer interface {
	Dial(ctx context.Context, config ConnectionConfig) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, config ConnectionConfig) (Session, error)

// Dial calls f(ctx, config).
func (f DialerFunc) Dial(ctx context.Context, config ConnectionConfig) (Session, error) {
	return f(ctx, config)
}

// protocolDialer picks the transport from the config protocol.
type protocolDialer struct {
	logger zerolog.Logger
}

// NewDialer returns the default Dialer, which speaks FTP, FTPS and SFTP.
func NewDialer(logger zerolog.Logger) Dialer {
	return &protocolDialer{logger: logger}
}

func (d *protocolDialer) Dial(ctx context.Context, config ConnectionConfig) (Session, error) {
	switch config.Protocol {
	case ProtocolSFTP:
		return dialSFTP(ctx, config, d.logger)
	case ProtocolFTP, ProtocolFTPS, "":
		return dialFTP(ctx, config, d.logger)
	default:
		return nil, fmt.Errorf("unsupported protocol %q", config.Protocol)
	}
}
