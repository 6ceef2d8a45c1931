package goftp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"
)

// syncStampLayout names sync destinations so they sort chronologically.
const syncStampLayout = "2006-01-02_15-04"

// maxStampSuffix bounds the search for a free destination when several
// runs start in the same minute.
const maxStampSuffix = 1000

// SyncToLocal mirrors the remote tree under remoteRoot into a new
// timestamped directory inside localRoot. Entries matching rules are
// skipped. onProgress, if set, is called with the running count after each
// downloaded file.
//
// Every listing and download is queued separately, so other callers keep
// getting turns during a long sync. A file that fails to download is
// logged and counted; only failing to list remoteRoot or to create a local
// directory aborts the run.
func (c *Client) SyncToLocal(ctx context.Context, remoteRoot, localRoot string, rules []IgnoreRule, onProgress func(int)) (*SyncResult, error) {
	dest, err := claimDestination(localRoot, c.now())
	if err != nil {
		return nil, err
	}

	w := &treeWalker{
		client:     c,
		rules:      rules,
		onProgress: onProgress,
		result:     &SyncResult{Root: dest},
	}

	remoteRoot = NormalizeRemotePath(remoteRoot)
	c.logger.Info().Str("remote", remoteRoot).Str("local", dest).Msg("sync started")

	if err := w.walk(ctx, remoteRoot, dest, true); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("local", dest).
		Int("files", w.result.FilesSynced).
		Int("failed", w.result.FilesFailed).
		Int("dirs_skipped", w.result.DirsSkipped).
		Msg("sync finished")
	return w.result, nil
}

// claimDestination creates localRoot/<stamp>, adding a numeric suffix if
// an earlier run already used that minute.
func claimDestination(localRoot string, now time.Time) (string, error) {
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		return "", &FilesystemError{Op: "mkdir", Path: localRoot, Err: err}
	}

	stamp := now.Format(syncStampLayout)
	for i := 1; i <= maxStampSuffix; i++ {
		name := stamp
		if i > 1 {
			name = stamp + "_" + strconv.Itoa(i)
		}
		dest := filepath.Join(localRoot, name)
		err := os.Mkdir(dest, 0o755)
		if err == nil {
			return dest, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", &FilesystemError{Op: "mkdir", Path: dest, Err: err}
		}
	}
	return "", &FilesystemError{
		Op:   "mkdir",
		Path: filepath.Join(localRoot, stamp),
		Err:  fmt.Errorf("no free destination after %d attempts", maxStampSuffix),
	}
}

type treeWalker struct {
	client     *Client
	rules      []IgnoreRule
	onProgress func(int)
	result     *SyncResult
}

// walk mirrors one remote directory into localDir, depth first.
func (w *treeWalker) walk(ctx context.Context, remoteDir, localDir string, root bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := w.client.logger

	if isIgnored(remoteDir, w.rules) {
		logger.Debug().Str("dir", remoteDir).Msg("ignored")
		w.result.DirsSkipped++
		return nil
	}

	entries, err := w.client.ListFiles(ctx, remoteDir)
	if err == nil && !listedWithin(remoteDir, entries) {
		err = &ListingError{Path: remoteDir, Err: errors.New("listing resolved to another directory")}
	}
	if err != nil {
		if root {
			return err
		}
		logger.Warn().Err(err).Str("dir", remoteDir).Msg("skipping unreadable directory")
		w.result.DirsSkipped++
		return nil
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return &FilesystemError{Op: "mkdir", Path: localDir, Err: err}
	}

	for _, entry := range entries {
		if !isSafeEntryName(entry.Name) {
			logger.Warn().Str("name", entry.Name).Str("dir", remoteDir).Msg("skipping entry with unsafe name")
			continue
		}
		if isIgnored(entry.Path, w.rules) {
			if entry.IsDir() {
				w.result.DirsSkipped++
			}
			continue
		}

		localPath := filepath.Join(localDir, entry.Name)
		if entry.IsDir() {
			if err := w.walk(ctx, entry.Path, localPath, false); err != nil {
				return err
			}
			continue
		}

		if err := w.download(ctx, entry.Path, localPath); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			var fsErr *FilesystemError
			if errors.As(err, &fsErr) && fsErr.Op == "mkdir" {
				return err
			}
			logger.Warn().Err(err).Str("file", entry.Path).Msg("download failed, continuing")
			w.result.FilesFailed++
			continue
		}

		w.result.FilesSynced++
		if w.onProgress != nil {
			w.onProgress(w.result.FilesSynced)
		}
	}
	return nil
}

// listedWithin reports whether every entry is a direct child of dir. A
// fallback strategy that skipped a refused segment lists an ancestor
// instead. The root listing is anchored at the login directory, so it is
// taken as is.
func listedWithin(dir string, entries []RemoteEntry) bool {
	if dir == "/" {
		return true
	}
	for _, e := range entries {
		if path.Dir(e.Path) != dir {
			return false
		}
	}
	return true
}

func (w *treeWalker) download(ctx context.Context, remotePath, localPath string) error {
	return w.client.queue.Run(ctx, func(ctx context.Context) error {
		return w.client.downloadTo(ctx, remotePath, localPath)
	})
}
