package goftp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog"
)

// ClientInterface defines the remote file operations offered by Client.
// This allows for mocking in tests.
type ClientInterface interface {
	// Connect opens a session, replacing any current one.
	Connect(ctx context.Context, config ConnectionConfig) error
	// Disconnect closes the session but keeps the config for reconnection.
	Disconnect() error
	// ListFiles lists a remote directory.
	ListFiles(ctx context.Context, path string) ([]RemoteEntry, error)
	// ListFilesReadonly lists a remote directory without moving the working directory.
	ListFilesReadonly(ctx context.Context, path string) ([]RemoteEntry, error)
	// DownloadFile downloads a remote file, to localPath or into memory.
	DownloadFile(ctx context.Context, remotePath, localPath string) (string, error)
	// UploadFile uploads a local file, data URL, or text to the remote host.
	UploadFile(ctx context.Context, source, remotePath string) error
	// CreateDirectory creates a remote directory and its parents.
	CreateDirectory(ctx context.Context, remotePath string) error
	// DeleteFile removes a remote file.
	DeleteFile(ctx context.Context, remotePath string) error
	// DeleteDirectory removes a remote directory and everything below it.
	DeleteDirectory(ctx context.Context, remotePath string) error
	// Rename moves a remote file or directory.
	Rename(ctx context.Context, from, to string) error
	// GetFileSize returns the size of a remote file.
	GetFileSize(ctx context.Context, remotePath string) (int64, error)
	// Exists reports whether a remote path exists and what it is.
	Exists(ctx context.Context, remotePath string) (ExistsResult, error)
	// SyncToLocal mirrors a remote tree into a fresh local directory.
	SyncToLocal(ctx context.Context, remoteRoot, localRoot string, rules []IgnoreRule, onProgress func(int)) (*SyncResult, error)
}

// Client exposes a single remote session to any number of concurrent
// callers. Every operation that touches the session runs on one FIFO
// queue, so commands never overlap on the wire.
type Client struct {
	conn        *ConnectionManager
	queue       *TaskQueue
	logger      zerolog.Logger
	dialer      Dialer
	retryConfig RetryConfig
	tempDir     string
	queueSize   int
	now         func() time.Time
}

// Ensure Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer replaces the transport dialer.
func WithDialer(dialer Dialer) Option {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithRetryConfig sets the transfer retry configuration.
func WithRetryConfig(config RetryConfig) Option {
	return func(c *Client) {
		c.retryConfig = config
	}
}

// WithTempDir sets where in-memory downloads are staged.
func WithTempDir(dir string) Option {
	return func(c *Client) {
		c.tempDir = dir
	}
}

// WithQueueSize bounds the number of operations waiting for the session.
func WithQueueSize(size int) Option {
	return func(c *Client) {
		c.queueSize = size
	}
}

// WithClock sets the time source used to name sync destinations.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a Client. Call Connect before using it.
func New(opts ...Option) *Client {
	c := &Client{
		logger:      zerolog.Nop(),
		retryConfig: DefaultRetryConfig(),
		tempDir:     os.TempDir(),
		queueSize:   defaultQueueSize,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.dialer == nil {
		c.dialer = NewDialer(c.logger)
	}
	c.conn = NewConnectionManager(c.dialer, c.logger)
	c.queue = NewTaskQueue(c.queueSize)
	return c
}

// Connect opens a session with config. Queued like every other operation,
// so it never cuts into a running command.
func (c *Client) Connect(ctx context.Context, config ConnectionConfig) error {
	return c.queue.Run(ctx, func(ctx context.Context) error {
		return c.conn.Connect(ctx, config)
	})
}

// Disconnect closes the session.
func (c *Client) Disconnect() error {
	return c.queue.Run(context.Background(), func(context.Context) error {
		return c.conn.Disconnect()
	})
}

// Close disconnects and stops the queue. The Client cannot be reused.
func (c *Client) Close() error {
	err := c.Disconnect()
	if errors.Is(err, ErrQueueClosed) {
		return nil
	}
	c.queue.Close()
	return err
}

// Connected reports whether a live session is currently held.
func (c *Client) Connected() bool {
	return c.conn.Connected()
}

// run executes fn on the queue with a live session. A connection-level
// failure marks the session dead so the next operation reconnects.
func (c *Client) run(ctx context.Context, fn func(s Session) error) error {
	return c.queue.Run(ctx, func(ctx context.Context) error {
		s, err := c.conn.EnsureConnected(ctx)
		if err != nil {
			return err
		}
		defer func() {
			// The session may be mid-reply; start the next task on a fresh one.
			if r := recover(); r != nil {
				c.conn.Invalidate()
				panic(r)
			}
		}()
		err = fn(s)
		if IsConnectionError(err) {
			c.conn.Invalidate()
		}
		return err
	})
}

// ListFiles lists path, falling back through several strategies for
// servers that reject one form or another. It may leave the working
// directory inside path.
func (c *Client) ListFiles(ctx context.Context, path string) ([]RemoteEntry, error) {
	var entries []RemoteEntry
	err := c.run(ctx, func(s Session) error {
		var err error
		entries, err = resolveListing(s, c.logger, path)
		return err
	})
	return entries, err
}

// ListFilesReadonly lists path and restores the working directory
// afterwards. A path that cannot be listed yields no entries.
func (c *Client) ListFilesReadonly(ctx context.Context, path string) ([]RemoteEntry, error) {
	var entries []RemoteEntry
	err := c.run(ctx, func(s Session) error {
		entries = listReadonly(s, c.logger, path)
		return nil
	})
	return entries, err
}

// CreateDirectory creates remotePath and any missing parents.
func (c *Client) CreateDirectory(ctx context.Context, remotePath string) error {
	return c.run(ctx, func(s Session) error {
		defer pushd(s, c.logger)()
		return makeDirAll(s, remotePath)
	})
}

// DeleteFile removes a remote file.
func (c *Client) DeleteFile(ctx context.Context, remotePath string) error {
	remotePath = NormalizeRemotePath(remotePath)
	return c.run(ctx, func(s Session) error {
		if err := s.Delete(remotePath); err != nil {
			return fmt.Errorf("failed to delete remote file %s: %w", remotePath, err)
		}
		return nil
	})
}

// DeleteDirectory removes remotePath and its contents.
func (c *Client) DeleteDirectory(ctx context.Context, remotePath string) error {
	remotePath = NormalizeRemotePath(remotePath)
	if remotePath == "/" {
		return fmt.Errorf("refusing to delete the remote root")
	}
	return c.run(ctx, func(s Session) error {
		defer pushd(s, c.logger)()
		return removeTree(s, c.logger, remotePath)
	})
}

func removeTree(s Session, logger zerolog.Logger, dir string) error {
	entries, err := resolveListing(s, logger, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		// A fallback listing may have resolved to an ancestor.
		if path.Dir(e.Path) != dir {
			continue
		}
		if e.IsDir() {
			if err := removeTree(s, logger, e.Path); err != nil {
				return err
			}
			continue
		}
		if err := s.Delete(e.Path); err != nil {
			return fmt.Errorf("failed to delete remote file %s: %w", e.Path, err)
		}
	}
	// Some servers refuse to remove the working directory.
	_ = s.ChangeDir("/")
	if err := s.RemoveDir(dir); err != nil {
		return fmt.Errorf("failed to remove remote directory %s: %w", dir, err)
	}
	return nil
}

// Rename moves from to to.
func (c *Client) Rename(ctx context.Context, from, to string) error {
	from, to = NormalizeRemotePath(from), NormalizeRemotePath(to)
	return c.run(ctx, func(s Session) error {
		if err := s.Rename(from, to); err != nil {
			return fmt.Errorf("failed to rename %s to %s: %w", from, to, err)
		}
		return nil
	})
}

// GetFileSize returns the size of a remote file in bytes.
func (c *Client) GetFileSize(ctx context.Context, remotePath string) (int64, error) {
	remotePath = NormalizeRemotePath(remotePath)
	var size int64
	err := c.run(ctx, func(s Session) error {
		var err error
		size, err = s.FileSize(remotePath)
		if err != nil {
			return fmt.Errorf("failed to get size of %s: %w", remotePath, err)
		}
		return nil
	})
	return size, err
}

// Exists looks remotePath up in its parent's listing. Unlike ListFiles("/"),
// a parent of "/" means the server root, not the login directory.
func (c *Client) Exists(ctx context.Context, remotePath string) (ExistsResult, error) {
	remotePath = NormalizeRemotePath(remotePath)
	if remotePath == "/" {
		return ExistsResult{Exists: true, Kind: KindDirectory}, nil
	}

	dir, _ := splitRemote(remotePath)
	var result ExistsResult
	err := c.run(ctx, func(s Session) error {
		var entries []RemoteEntry
		if dir == "/" {
			entries = listServerRoot(s, c.logger)
		} else {
			entries = listReadonly(s, c.logger, dir)
		}
		for _, e := range entries {
			if e.Path == remotePath {
				result = ExistsResult{Exists: true, Kind: e.Kind}
				return nil
			}
		}
		return nil
	})
	return result, err
}

// listServerRoot lists the absolute root by moving there first, then
// restores the working directory. Failures yield no entries.
func listServerRoot(s Session, logger zerolog.Logger) []RemoteEntry {
	defer pushd(s, logger)()

	if err := s.ChangeDir("/"); err != nil {
		logger.Debug().Err(err).Msg("cannot enter server root")
		return nil
	}
	raw, err := s.List("")
	if err != nil {
		logger.Debug().Err(err).Msg("cannot list server root")
		return nil
	}
	return anchorEntries("/", raw)
}
