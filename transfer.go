package goftp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

// tempFilePrefix names the scratch files DownloadFile uses when no local
// path is given.
const tempFilePrefix = "goftp-download-"

// dataURLPattern matches inline base64 content such as
// "data:image/png;base64,iVBORw0...".
var dataURLPattern = regexp.MustCompile(`^data:([^;,]*);base64,(.*)$`)

// DownloadFile downloads remotePath. With an empty localPath the content
// goes through a temporary file that is always removed, and the content is
// returned as text. Otherwise the file is written to localPath and
// localPath is returned.
func (c *Client) DownloadFile(ctx context.Context, remotePath, localPath string) (string, error) {
	if localPath != "" {
		err := c.queue.Run(ctx, func(ctx context.Context) error {
			return c.downloadTo(ctx, remotePath, localPath)
		})
		if err != nil {
			return "", err
		}
		return localPath, nil
	}

	tmp := filepath.Join(c.tempDir, tempFilePrefix+uuid.NewString()+".tmp")
	defer func() {
		if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Str("file", tmp).Msg("failed to remove temporary download")
		}
	}()

	err := c.queue.Run(ctx, func(ctx context.Context) error {
		return c.downloadTo(ctx, remotePath, tmp)
	})
	if err != nil {
		return "", err
	}

	content, err := os.ReadFile(tmp)
	if err != nil {
		return "", &FilesystemError{Op: "read", Path: tmp, Err: err}
	}
	return string(content), nil
}

// downloadTo fetches remotePath into localPath with the reconnect-and-retry
// policy. It must run on the queue.
func (c *Client) downloadTo(ctx context.Context, remotePath, localPath string) (err error) {
	remotePath = NormalizeRemotePath(remotePath)

	if dir := filepath.Dir(localPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &FilesystemError{Op: "mkdir", Path: dir, Err: err}
		}
	}

	f, err := os.Create(localPath)
	if err != nil {
		return &FilesystemError{Op: "create", Path: localPath, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &FilesystemError{Op: "write", Path: localPath, Err: cerr}
		}
		if err != nil {
			_ = os.Remove(localPath)
		}
	}()

	return c.retryTransfer(ctx, "download", remotePath, func(s Session) error {
		if err := rewind(f); err != nil {
			return &FilesystemError{Op: "truncate", Path: localPath, Err: err}
		}
		return c.retrieveWithFallback(s, remotePath, f)
	})
}

// retrieveWithFallback tries RETR with the absolute path, then again by
// base name from inside the parent directory for servers that reject
// absolute paths in transfer commands.
func (c *Client) retrieveWithFallback(s Session, remotePath string, f *os.File) error {
	err := s.Retrieve(remotePath, f)
	if err == nil {
		return nil
	}
	if IsConnectionError(err) {
		return err
	}
	c.logger.Debug().Err(err).Str("path", remotePath).Msg("absolute retrieve failed, trying from parent directory")

	if rerr := rewind(f); rerr != nil {
		return &FilesystemError{Op: "truncate", Path: f.Name(), Err: rerr}
	}

	dir, base := splitRemote(remotePath)
	defer pushd(s, c.logger)()

	if cdErr := s.ChangeDir(dir); cdErr != nil {
		return errors.Join(err, fmt.Errorf("failed to enter %s: %w", dir, cdErr))
	}
	if relErr := s.Retrieve(base, f); relErr != nil {
		return errors.Join(err, relErr)
	}
	return nil
}

func rewind(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// UploadFile stores source at remotePath. source is a local file path if
// one exists, a data URL with base64 content, or literal text.
func (c *Client) UploadFile(ctx context.Context, source, remotePath string) error {
	src, err := openUploadSource(source)
	if err != nil {
		return err
	}
	defer src.Close()

	return c.queue.Run(ctx, func(ctx context.Context) error {
		return c.upload(ctx, src, remotePath)
	})
}

func (c *Client) upload(ctx context.Context, src io.ReadSeeker, remotePath string) error {
	remotePath = NormalizeRemotePath(remotePath)
	dir, base := splitRemote(remotePath)

	return c.retryTransfer(ctx, "upload", remotePath, func(s Session) error {
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind upload source: %w", err)
		}

		defer pushd(s, c.logger)()

		if err := makeDirAll(s, dir); err != nil {
			return err
		}
		if err := s.ChangeDir(dir); err != nil {
			return fmt.Errorf("failed to enter %s: %w", dir, err)
		}
		return s.Store(base, src)
	})
}

// openUploadSource interprets an upload source string.
func openUploadSource(source string) (io.ReadSeekCloser, error) {
	if info, err := os.Stat(source); err == nil && info.Mode().IsRegular() {
		f, err := os.Open(source)
		if err != nil {
			return nil, &FilesystemError{Op: "open", Path: source, Err: err}
		}
		return f, nil
	}

	if m := dataURLPattern.FindStringSubmatch(source); m != nil {
		data, err := base64.StdEncoding.DecodeString(m[2])
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data URL: %w", err)
		}
		return nopSeekCloser{bytes.NewReader(data)}, nil
	}

	return nopSeekCloser{bytes.NewReader([]byte(source))}, nil
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

// retryTransfer runs fn against a live session, and after a failure
// ensures the session is connected and runs it once more.
func (c *Client) retryTransfer(ctx context.Context, op, remotePath string, fn func(Session) error) error {
	attempt := func() error {
		s, err := c.conn.EnsureConnected(ctx)
		if err != nil {
			return err
		}
		return fn(s)
	}

	reconnect := func(ctx context.Context, cause error) error {
		if IsConnectionError(cause) {
			c.conn.Invalidate()
		}
		_, err := c.conn.EnsureConnected(ctx)
		return err
	}

	err := Retry(ctx, c.retryConfig, c.logger, op+" "+remotePath, reconnect, attempt)
	if err != nil {
		var fsErr *FilesystemError
		if errors.As(err, &fsErr) {
			return fsErr
		}
		return &TransferError{Op: op, Path: remotePath, Err: err}
	}
	return nil
}

// makeDirAll creates dir and its parents, tolerating ones that already
// exist. It moves the working directory; callers restore it.
func makeDirAll(s Session, dir string) error {
	dir = NormalizeRemotePath(dir)
	current := ""
	for _, seg := range pathSegments(dir) {
		current += "/" + seg
		if err := s.ChangeDir(current); err == nil {
			continue
		}
		if err := s.MakeDir(current); err != nil {
			// Someone else may have created it between CWD and MKD.
			if cdErr := s.ChangeDir(current); cdErr != nil {
				return fmt.Errorf("failed to create remote directory %s: %w", current, err)
			}
		}
	}
	return nil
}
